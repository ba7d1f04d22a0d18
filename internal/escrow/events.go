package escrow

import (
	"strconv"
	"sync"
)

const (
	EventSessionCreated   = "escrow.session.created"
	EventSessionConfirmed = "escrow.session.confirmed"
	EventSessionRefunded  = "escrow.session.refunded"
	EventSessionReleased  = "escrow.session.released"
)

type Event struct {
	Type       string            `json:"type"`
	SessionID  uint64            `json:"session_id"`
	Attributes map[string]string `json:"attributes"`
}

type Emitter interface {
	Emit(Event)
}

type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// RecordingEmitter keeps every emitted event in memory.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingEmitter) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *RecordingEmitter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func newCreatedEvent(s *Session) Event {
	return Event{
		Type:      EventSessionCreated,
		SessionID: s.ID,
		Attributes: map[string]string{
			"client":        s.Client.Hex(),
			"consultant":    s.Consultant.Hex(),
			"consultant_id": s.ConsultantID,
			"amount":        s.Amount.String(),
			"duration":      strconv.FormatUint(s.DurationMinutes, 10),
			"scheduledTime": strconv.FormatInt(s.ScheduledTime, 10),
		},
	}
}

func newConfirmedEvent(s *Session) Event {
	return Event{
		Type:       EventSessionConfirmed,
		SessionID:  s.ID,
		Attributes: map[string]string{"consultant": s.Consultant.Hex()},
	}
}

func newRefundedEvent(s *Session) Event {
	return Event{
		Type:      EventSessionRefunded,
		SessionID: s.ID,
		Attributes: map[string]string{
			"client": s.Client.Hex(),
			"amount": s.Amount.String(),
		},
	}
}

func newReleasedEvent(s *Session, payout, fee string) Event {
	return Event{
		Type:      EventSessionReleased,
		SessionID: s.ID,
		Attributes: map[string]string{
			"consultant": s.Consultant.Hex(),
			"payout":     payout,
			"fee":        fee,
		},
	}
}
