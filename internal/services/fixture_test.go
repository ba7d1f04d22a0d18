package services

import (
	"context"
	"testing"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/payments"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	clientWallet     = "0x1111111111111111111111111111111111111111"
	consultantWallet = "0x2222222222222222222222222222222222222222"
	webhookSecret    = "whsec_fixture"
)

type fakeIntents struct {
	calls []payments.IntentRequest
	err   error
}

func (f *fakeIntents) CreatePaymentIntent(_ context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payments.Intent{
		ID:           "pi_fixture_1",
		ClientSecret: "pi_fixture_1_secret_abc",
		Status:       "requires_payment_method",
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
	}, nil
}

type fixture struct {
	t       *testing.T
	now     time.Time
	db      *memDB
	pub     *recordingPublisher
	backend *fakeBackend
	claims  *memClaims
	intents *fakeIntents
	cfg     *config.Config
	metrics *metrics.Metrics

	booking    *BookingService
	escrow     *EscrowService
	card       *CardPaymentService
	webhooks   *WebhookService
	reconciler *Reconciler

	consultant models.Consultant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		pub:     &recordingPublisher{},
		backend: &fakeBackend{receipts: map[string]*chain.Receipt{}},
		claims:  &memClaims{},
		intents: &fakeIntents{},
		cfg:     testConfig(),
		metrics: metrics.New(),
	}
	clock := func() time.Time { return f.now }
	f.db = newMemDB(clock)
	log := zap.NewNop()

	f.consultant = models.Consultant{
		ID:               uuid.New(),
		WalletAddress:    consultantWallet,
		Name:             "Dr. Rivera",
		HourlyRate:       decimal.NewFromInt(100),
		MinDurationHours: decimal.NewFromInt(1),
		MaxDurationHours: decimal.NewFromInt(4),
		IsVerified:       true,
		IsActive:         true,
	}
	f.db.consultants[f.consultant.ID] = f.consultant

	consultants := consultantStore{f.db}
	consultations := consultationStore{f.db}
	records := recordStore{f.db}
	cryptoTxs := cryptoStore{f.db}
	audit := auditStore{f.db}

	f.booking = NewBookingService(consultants, consultations, audit, f.pub, f.metrics, f.cfg, log)
	f.booking.SetNowFunc(clock)
	f.escrow = NewEscrowService(consultants, consultations, records, cryptoTxs, f.backend, audit, f.pub, f.metrics, f.cfg, log)
	f.escrow.SetNowFunc(clock)
	f.card = NewCardPaymentService(consultations, f.intents, audit, f.pub, f.metrics, log)
	f.card.SetNowFunc(clock)
	f.webhooks = NewWebhookService(payments.NewStripeWebhookVerifier(webhookSecret), f.claims, consultations, records, audit, f.pub, f.metrics, log)
	f.reconciler = NewReconciler(consultations, records, cryptoTxs, f.backend, audit, f.pub, f.metrics, f.cfg, log)
	f.reconciler.SetNowFunc(clock)
	return f
}

func (f *fixture) book(hours string) *models.Consultation {
	f.t.Helper()
	res, err := f.booking.CreateConsultation(context.Background(), CreateConsultationInput{
		ConsultantID:        f.consultant.ID.String(),
		ClientWalletAddress: clientWallet,
		ScheduledFor:        f.now.Add(48 * time.Hour).Format(time.RFC3339),
		DurationHours:       decimal.RequireFromString(hours),
	})
	if err != nil {
		f.t.Fatalf("book: %v", err)
	}
	return res.Consultation
}

func (f *fixture) openSession(c *models.Consultation) *OpenSessionResult {
	f.t.Helper()
	res, err := f.escrow.OpenSession(context.Background(), OpenSessionInput{
		ConsultationID:  c.ID.String(),
		ConsultantID:    f.consultant.ID.String(),
		Amount:          decimal.RequireFromString("0.15"),
		CustomerAddress: clientWallet,
		CustomerEmail:   "client@example.com",
		SessionDuration: 90,
	})
	if err != nil {
		f.t.Fatalf("open session: %v", err)
	}
	return res
}

func (f *fixture) consultation(id uuid.UUID) models.Consultation {
	f.t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.consultations[id]
	if !ok {
		f.t.Fatalf("consultation %s missing", id)
	}
	return c
}

// debtStages counts the distinct stages that reported reconciliation debt.
func (f *fixture) debtStages() int {
	f.t.Helper()
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(f.metrics.Collectors()...)
	n, err := testutil.GatherAndCount(reg, "escrow_reconciliation_debt_total")
	if err != nil {
		f.t.Fatalf("gather: %v", err)
	}
	return n
}
