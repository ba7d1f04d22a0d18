package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/payments"
	"github.com/askgene/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Webhook outcomes, also used as metric labels.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

type WebhookService struct {
	verifier      payments.WebhookVerifier
	claims        EventClaimer
	consultations ConsultationStore
	payments      PaymentRecordStore
	effects       sideEffects
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func NewWebhookService(
	verifier payments.WebhookVerifier,
	claims EventClaimer,
	consultations ConsultationStore,
	paymentRecords PaymentRecordStore,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *WebhookService {
	return &WebhookService{
		verifier:      verifier,
		claims:        claims,
		consultations: consultations,
		payments:      paymentRecords,
		effects:       sideEffects{audit: audit, publisher: publisher, metrics: m, log: log},
		metrics:       m,
		log:           log,
	}
}

type WebhookResult struct {
	EventID string
	Type    string
	Outcome string
}

// HandleStripe verifies and applies one provider delivery. Only signature
// problems are returned as errors; once the signature is valid the delivery
// is acknowledged whatever happens downstream.
func (s *WebhookService) HandleStripe(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if strings.TrimSpace(signature) == "" {
		s.metrics.WebhookEvent("", "rejected")
		return nil, badRequest(CodeMissingSignature, "missing stripe signature")
	}
	evt, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.metrics.WebhookEvent("", "rejected")
		s.log.Warn("webhook verification failed", zap.Error(err))
		return nil, badRequest(CodeInvalidSignature, "webhook signature verification failed").wrap(err)
	}

	res := &WebhookResult{EventID: evt.ID, Type: evt.Type}
	log := s.log.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	if s.claims != nil && evt.ID != "" {
		first, err := s.claims.Claim(ctx, models.ProviderStripe, evt.ID)
		switch {
		case err != nil:
			// fall through to processing; the writes below are idempotent
			log.Warn("webhook dedupe unavailable", zap.Error(err))
		case !first:
			log.Info("duplicate webhook delivery acknowledged")
			res.Outcome = OutcomeDuplicate
			s.metrics.WebhookEvent(evt.Type, res.Outcome)
			return res, nil
		}
	}

	switch evt.Type {
	case payments.EventPaymentIntentSucceeded:
		err = s.paymentIntentSucceeded(ctx, evt.Object, log)
	case payments.EventPaymentIntentFailed:
		err = s.paymentIntentFailed(ctx, evt.Object, log)
	case payments.EventCheckoutSessionCompleted:
		err = s.checkoutSessionCompleted(ctx, evt.Object, log)
	default:
		log.Info("unhandled webhook event type")
		res.Outcome = OutcomeIgnored
		s.metrics.WebhookEvent(evt.Type, res.Outcome)
		return res, nil
	}

	res.Outcome = OutcomeProcessed
	if err != nil {
		res.Outcome = OutcomeFailed
		s.metrics.ReconciliationDebt(metrics.StageWebhook)
		log.Error("webhook processing failed", zap.Error(err))
		if s.claims != nil && evt.ID != "" {
			if rerr := s.claims.Release(ctx, models.ProviderStripe, evt.ID); rerr != nil {
				log.Warn("webhook claim release failed", zap.Error(rerr))
			}
		}
	}
	s.metrics.WebhookEvent(evt.Type, res.Outcome)
	return res, nil
}

// consultationForIntent finds the consultation linked to an intent, falling
// back to the consultation id carried in the intent metadata.
func (s *WebhookService) consultationForIntent(ctx context.Context, intentID string, metadata map[string]string) (*models.Consultation, error) {
	c, err := s.consultations.GetByPaymentIntentID(ctx, intentID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	return s.consultationFromMetadata(ctx, metadata)
}

func (s *WebhookService) consultationFromMetadata(ctx context.Context, metadata map[string]string) (*models.Consultation, error) {
	id, err := uuid.Parse(metadata["consultation_id"])
	if err != nil {
		return nil, repositories.ErrNotFound
	}
	return s.consultations.GetByID(ctx, id)
}

func (s *WebhookService) paymentIntentSucceeded(ctx context.Context, raw json.RawMessage, log *zap.Logger) error {
	pi, err := payments.DecodePaymentIntent(raw)
	if err != nil {
		return err
	}
	log = log.With(zap.String("payment_intent_id", pi.ID))

	c, err := s.consultationForIntent(ctx, pi.ID, pi.Metadata)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		log.Warn("no consultation for succeeded payment intent")
		c = nil
	case err != nil:
		return fmt.Errorf("load consultation: %w", err)
	}

	if c != nil {
		if err := s.settleCard(ctx, c, pi, log); err != nil {
			return err
		}
	}
	return s.upsertRecord(ctx, c, pi, raw, models.PaymentSucceeded, log)
}

// settleCard moves a consultation to confirmed/succeeded exactly once. A
// charge that does not cover the booking price leaves the consultation
// unsettled and is counted as reconciliation debt.
func (s *WebhookService) settleCard(ctx context.Context, c *models.Consultation, pi *payments.PaymentIntentObject, log *zap.Logger) error {
	intentID := pi.ID
	if c.PaymentStatus == models.PaymentSucceeded {
		log.Info("consultation already settled", zap.String("consultation_id", c.ID.String()))
		return nil
	}
	if want := c.TotalCents(); pi.AmountCents != want || !strings.EqualFold(pi.Currency, c.Currency) {
		s.metrics.ReconciliationDebt(metrics.StageAmountMismatch)
		log.Error("charged amount does not match consultation price",
			zap.String("consultation_id", c.ID.String()),
			zap.Int64("expected_cents", want),
			zap.String("expected_currency", c.Currency),
			zap.Int64("charged_cents", pi.AmountCents),
			zap.String("charged_currency", pi.Currency))
		return nil
	}
	if !c.PaymentStatus.CanTransition(models.PaymentSucceeded) {
		log.Warn("payment status cannot move to succeeded",
			zap.String("consultation_id", c.ID.String()),
			zap.String("payment_status", string(c.PaymentStatus)))
		return nil
	}

	oldStatus, oldPayment := c.Status, c.PaymentStatus
	c.PaymentMethod = strPtr(models.PaymentMethodStripe)
	c.PaymentStatus = models.PaymentSucceeded
	c.PaymentID = strPtr(intentID)
	if c.StripePaymentIntentID == nil {
		c.StripePaymentIntentID = strPtr(intentID)
	}
	if c.Status.CanTransition(models.ConsultationConfirmed) {
		c.Status = models.ConsultationConfirmed
	}
	if err := c.CheckPaymentFields(); err != nil {
		log.Error("card payment for a consultation on another payment path",
			zap.String("consultation_id", c.ID.String()), zap.Error(err))
		return nil
	}
	if err := s.consultations.Update(ctx, c); err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	s.effects.statusChanged(ctx, c, models.ActorProvider, strPtr(intentID), oldStatus, oldPayment)
	return nil
}

func (s *WebhookService) paymentIntentFailed(ctx context.Context, raw json.RawMessage, log *zap.Logger) error {
	pi, err := payments.DecodePaymentIntent(raw)
	if err != nil {
		return err
	}
	log = log.With(zap.String("payment_intent_id", pi.ID))

	c, err := s.consultationForIntent(ctx, pi.ID, pi.Metadata)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		log.Warn("no consultation for failed payment intent")
		c = nil
	case err != nil:
		return fmt.Errorf("load consultation: %w", err)
	}

	if c != nil && c.PaymentStatus != models.PaymentFailed {
		if !c.PaymentStatus.CanTransition(models.PaymentFailed) {
			log.Warn("payment status cannot move to failed",
				zap.String("consultation_id", c.ID.String()),
				zap.String("payment_status", string(c.PaymentStatus)))
		} else {
			oldStatus, oldPayment := c.Status, c.PaymentStatus
			c.PaymentStatus = models.PaymentFailed
			if c.Status.CanTransition(models.ConsultationPaymentFailed) {
				c.Status = models.ConsultationPaymentFailed
			}
			if err := s.consultations.Update(ctx, c); err != nil {
				return fmt.Errorf("update consultation: %w", err)
			}
			s.effects.statusChanged(ctx, c, models.ActorProvider, strPtr(pi.ID), oldStatus, oldPayment)
		}
	}
	if pi.FailureMsg != "" {
		log.Info("payment declined", zap.String("reason", pi.FailureMsg))
	}
	return s.upsertRecord(ctx, c, pi, raw, models.PaymentFailed, log)
}

// upsertRecord keeps one ledger row per intent. A row that already reached
// a state the new one cannot follow is left alone.
func (s *WebhookService) upsertRecord(ctx context.Context, c *models.Consultation, pi *payments.PaymentIntentObject,
	raw json.RawMessage, status models.PaymentStatus, log *zap.Logger) error {
	existing, err := s.payments.GetByProviderPaymentID(ctx, pi.ID)
	switch {
	case err == nil:
		if existing.Status != status && !existing.Status.CanTransition(status) {
			log.Info("payment record already past this event",
				zap.String("payment_record_id", existing.ID.String()),
				zap.String("status", string(existing.Status)))
			return nil
		}
	case !errors.Is(err, repositories.ErrNotFound):
		return fmt.Errorf("load payment record: %w", err)
	}

	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		meta = map[string]any{"id": pi.ID}
	}
	record := &models.PaymentRecord{
		PaymentMethod:     models.PaymentMethodStripe,
		PaymentProvider:   models.ProviderStripe,
		ProviderPaymentID: pi.ID,
		Amount:            decimal.New(pi.AmountCents, -2),
		Currency:          strings.ToUpper(pi.Currency),
		Status:            status,
		Metadata:          meta,
	}
	if c != nil {
		record.ConsultationID = &c.ID
	}
	inserted, err := s.payments.Upsert(ctx, record)
	if err != nil {
		return fmt.Errorf("upsert payment record: %w", err)
	}
	log.Info("payment record stored",
		zap.String("payment_record_id", record.ID.String()),
		zap.Bool("inserted", inserted),
		zap.String("status", string(status)))
	return nil
}

func (s *WebhookService) checkoutSessionCompleted(ctx context.Context, raw json.RawMessage, log *zap.Logger) error {
	cs, err := payments.DecodeCheckoutSession(raw)
	if err != nil {
		return err
	}
	log = log.With(zap.String("checkout_session_id", cs.ID))

	c, err := s.consultationFromMetadata(ctx, cs.Metadata)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info("checkout session without a known consultation")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load consultation: %w", err)
	}

	if c.StripeSessionID != nil && *c.StripeSessionID == cs.ID && c.Status == models.ConsultationConfirmed {
		return nil
	}
	oldStatus, oldPayment := c.Status, c.PaymentStatus
	c.StripeSessionID = strPtr(cs.ID)
	if c.PaymentMethod == nil {
		c.PaymentMethod = strPtr(models.PaymentMethodStripe)
	}
	if c.StripePaymentIntentID == nil && cs.PaymentIntentID != "" {
		c.StripePaymentIntentID = strPtr(cs.PaymentIntentID)
	}
	if c.Status.CanTransition(models.ConsultationConfirmed) {
		c.Status = models.ConsultationConfirmed
	}
	if err := c.CheckPaymentFields(); err != nil {
		log.Error("checkout session for a consultation on another payment path",
			zap.String("consultation_id", c.ID.String()), zap.Error(err))
		return nil
	}
	if err := s.consultations.Update(ctx, c); err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	s.effects.statusChanged(ctx, c, models.ActorProvider, strPtr(cs.ID), oldStatus, oldPayment)
	return nil
}
