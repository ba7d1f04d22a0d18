package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stages reported through ReconciliationDebt. A debt is a sub-record write
// that failed after the fatal write of the same step succeeded.
const (
	StagePaymentRecord = "payment_record"
	StageCryptoTx      = "crypto_transaction"
	StageAudit         = "audit"
	StagePublish       = "publish"
	StageWebhook       = "webhook"

	// StageAmountMismatch counts card charges that did not match the price.
	StageAmountMismatch = "amount_mismatch"
)

type Metrics struct {
	webhookEvents *prometheus.CounterVec
	debt          *prometheus.CounterVec
	reconciler    *prometheus.CounterVec
	bookings      *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the process-wide collectors, registering them with the
// default prometheus registry on first use.
func Default() *Metrics {
	once.Do(func() {
		registry = New()
		prometheus.MustRegister(registry.Collectors()...)
	})
	return registry
}

// New builds an unregistered set of collectors. Tests use it to avoid the
// global registry.
func New() *Metrics {
	return &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "webhook_events_total",
			Help:      "Provider webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		debt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "reconciliation_debt_total",
			Help:      "Non-fatal sub-record writes that failed and left the systems of record disagreeing.",
		}, []string{"stage"}),
		reconciler: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "reconciler_rows_total",
			Help:      "Rows examined by the reconciler by pass and outcome.",
		}, []string{"pass", "outcome"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "bookings_total",
			Help:      "Consultation booking attempts by outcome (created or reason code).",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.webhookEvents, m.debt, m.reconciler, m.bookings}
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ReconciliationDebt(stage string) {
	if m == nil {
		return
	}
	m.debt.WithLabelValues(stage).Inc()
}

func (m *Metrics) ReconcilerRow(pass, outcome string) {
	if m == nil {
		return
	}
	m.reconciler.WithLabelValues(pass, outcome).Inc()
}

func (m *Metrics) Booking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}
