package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.WebhookEvent("payment_intent.succeeded", "processed")
	m.WebhookEvent("payment_intent.succeeded", "processed")
	m.WebhookEvent("", "ignored")
	m.ReconciliationDebt(StagePaymentRecord)
	m.ReconcilerRow("receipts", "confirmed")
	m.Booking("created")

	require.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("payment_intent.succeeded", "processed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("unknown", "ignored")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.debt.WithLabelValues(StagePaymentRecord)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reconciler.WithLabelValues("receipts", "confirmed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("created")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.WebhookEvent("x", "y")
	m.ReconciliationDebt("x")
	m.ReconcilerRow("x", "y")
	m.Booking("x")
}

func TestDefaultRegistersOnce(t *testing.T) {
	require.Same(t, Default(), Default())
}
