package events

import (
	"context"

	"github.com/google/uuid"
)

// StreamConsultation carries consultation and payment progress to the
// websocket hub.
const StreamConsultation = "events:consultation"

// Event types
const (
	EventConsultationStatusChanged = "consultation_status_changed"
	EventPaymentSessionOpened      = "payment_session_opened"
	EventPaymentConfirmed          = "payment_confirmed"
	EventPaymentFailed             = "payment_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Audience is the recipient key the websocket hub routes an event to: the
// client wallet address (or provider customer handle) of the consultation.
func (e Event) Audience() string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["client"].(string)
	return s
}

// NewConsultationEvent builds an event addressed to the consultation's client.
func NewConsultationEvent(eventType string, consultationID uuid.UUID, client string, extra map[string]any) Event {
	payload := map[string]any{
		"consultation_id": consultationID.String(),
		"client":          client,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{Type: eventType, Payload: payload}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops events. Used when redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
