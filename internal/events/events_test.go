package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewConsultationEvent(t *testing.T) {
	id := uuid.New()
	e := NewConsultationEvent(EventPaymentConfirmed, id, "0xabc", map[string]any{"payment_status": "succeeded"})

	require.Equal(t, EventPaymentConfirmed, e.Type)
	require.Equal(t, "0xabc", e.Audience())
	require.Equal(t, id.String(), e.Payload["consultation_id"])

	data, err := json.Marshal(e)
	require.NoError(t, err)
	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, "0xabc", back.Audience())
	require.Equal(t, "succeeded", back.Payload["payment_status"])
}

func TestAudienceMissing(t *testing.T) {
	require.Empty(t, Event{Type: "x"}.Audience())
	require.Empty(t, Event{Payload: map[string]any{"client": 5}}.Audience())
}
