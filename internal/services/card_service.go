package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/payments"
	"go.uber.org/zap"
)

const defaultSessionMinutes = 30

type CardPaymentService struct {
	consultations ConsultationStore
	intents       payments.IntentCreator
	effects       sideEffects
	log           *zap.Logger
	now           func() time.Time
}

func NewCardPaymentService(
	consultations ConsultationStore,
	intents payments.IntentCreator,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *CardPaymentService {
	return &CardPaymentService{
		consultations: consultations,
		intents:       intents,
		effects:       sideEffects{audit: audit, publisher: publisher, metrics: m, log: log},
		log:           log,
		now:           time.Now,
	}
}

func (s *CardPaymentService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type CreateIntentInput struct {
	ConsultationID  string
	AmountCents     int64
	Currency        string
	ConsultantID    string
	CustomerEmail   string
	CustomerName    string
	ScheduledTime   string
	SessionDuration int
	Caller          string
}

type CreateIntentResult struct {
	ClientSecret    string
	PaymentIntentID string
	TransactionID   string
	AmountCents     int64
	Currency        string
	Status          string
	Livemode        bool
	Consultation    *models.Consultation
}

// CreatePaymentIntent opens a card payment with the provider. When a
// consultation is named it is marked pending on the card path and linked to
// the intent so the webhook can find it.
func (s *CardPaymentService) CreatePaymentIntent(ctx context.Context, in CreateIntentInput) (*CreateIntentResult, error) {
	var missing []string
	if in.AmountCents == 0 {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(in.ConsultantID) == "" {
		missing = append(missing, "consultantId")
	}
	if strings.TrimSpace(in.CustomerEmail) == "" {
		missing = append(missing, "customerEmail")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}
	if in.AmountCents < 0 {
		return nil, badRequest(CodeInvalidAmount, "amount must be a positive number of cents")
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}
	duration := in.SessionDuration
	if duration <= 0 {
		duration = defaultSessionMinutes
	}

	var c *models.Consultation
	if in.ConsultationID != "" {
		var err error
		c, err = loadConsultation(ctx, s.consultations, in.ConsultationID)
		if err != nil {
			return nil, err
		}
		if err := checkOwner(c, in.Caller); err != nil {
			return nil, err
		}
		if c.PaymentStatus.Settled() {
			return nil, newError(http.StatusConflict, CodeAlreadyPaid, "consultation is already paid").
				with("payment_status", c.PaymentStatus)
		}
		if want := c.TotalCents(); in.AmountCents != want || !strings.EqualFold(currency, c.Currency) {
			return nil, badRequest(CodeInvalidAmount, "amount does not match the consultation price").
				with("expected_amount", want).
				with("expected_currency", strings.ToLower(c.Currency)).
				with("received_amount", in.AmountCents).
				with("received_currency", currency)
		}
		if !c.PaymentStatus.CanTransition(models.PaymentPending) {
			return nil, newError(http.StatusConflict, CodeInvalidTransition, "payment cannot be started from the current state").
				with("payment_status", c.PaymentStatus)
		}
		if c.PaymentMethod != nil && *c.PaymentMethod == models.PaymentMethodCrypto {
			return nil, newError(http.StatusConflict, CodeInvalidTransition, "consultation already has a crypto payment in progress")
		}
	}

	txnID := correlationID("txn", s.now())
	metadata := map[string]string{
		"transactionId":   txnID,
		"consultantId":    in.ConsultantID,
		"customerEmail":   in.CustomerEmail,
		"scheduledTime":   in.ScheduledTime,
		"sessionDuration": strconv.Itoa(duration),
	}
	if c != nil {
		metadata["consultation_id"] = c.ID.String()
	}
	if in.CustomerName != "" {
		metadata["customerName"] = in.CustomerName
	}

	intent, err := s.intents.CreatePaymentIntent(ctx, payments.IntentRequest{
		AmountCents:  in.AmountCents,
		Currency:     currency,
		Description:  fmt.Sprintf("Consultation session with %s", in.ConsultantID),
		ReceiptEmail: in.CustomerEmail,
		Metadata:     metadata,
	})
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			return nil, newError(http.StatusServiceUnavailable, CodeNotConfigured, "card payments are not available")
		}
		var perr *payments.ProviderError
		if errors.As(err, &perr) {
			s.log.Warn("payment intent rejected by provider", zap.String("code", perr.Code), zap.String("message", perr.Message))
			return nil, newError(http.StatusBadGateway, CodeProviderError, perr.Message).wrap(err)
		}
		return nil, newError(http.StatusBadGateway, CodeProviderError, "payment processing failed").wrap(err)
	}

	s.log.Info("payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("transaction_id", txnID),
		zap.String("status", intent.Status),
	)

	res := &CreateIntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		TransactionID:   txnID,
		AmountCents:     intent.AmountCents,
		Currency:        currency,
		Status:          intent.Status,
		Livemode:        intent.Livemode,
	}
	if res.AmountCents == 0 {
		res.AmountCents = in.AmountCents
	}

	if c != nil {
		oldStatus, oldPayment := c.Status, c.PaymentStatus
		c.PaymentMethod = strPtr(models.PaymentMethodStripe)
		c.PaymentStatus = models.PaymentPending
		c.StripePaymentIntentID = strPtr(intent.ID)
		// the intent exists at the provider now; a failed link is repaired by
		// the webhook's metadata fallback
		if err := s.consultations.Update(ctx, c); err != nil {
			s.effects.metrics.ReconciliationDebt(metrics.StagePaymentRecord)
			s.log.Error("failed to link payment intent to consultation",
				zap.String("consultation_id", c.ID.String()),
				zap.String("payment_intent_id", intent.ID),
				zap.Error(err))
		} else {
			s.effects.statusChanged(ctx, c, models.ActorClient, strPtr(in.CustomerEmail), oldStatus, oldPayment)
			res.Consultation = c
		}
	}
	return res, nil
}
