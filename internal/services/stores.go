package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ConsultantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Consultant, error)
}

type ConsultationStore interface {
	Create(ctx context.Context, c *models.Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Consultation, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Consultation, error)
	Update(ctx context.Context, c *models.Consultation) error
	List(ctx context.Context, f repositories.ConsultationFilter) ([]models.Consultation, error)
	Stats(ctx context.Context, clientWallet string) (*models.ConsultationStats, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Consultation, error)
}

type PaymentRecordStore interface {
	Create(ctx context.Context, p *models.PaymentRecord) error
	Upsert(ctx context.Context, p *models.PaymentRecord) (bool, error)
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentRecord, error)
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]models.PaymentRecord, error)
	Update(ctx context.Context, p *models.PaymentRecord) error
}

type CryptoTxStore interface {
	Create(ctx context.Context, t *models.CryptoTransaction) error
	ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]models.CryptoTransaction, error)
	ListAwaitingReceipt(ctx context.Context, limit int) ([]models.CryptoTransaction, error)
	Update(ctx context.Context, t *models.CryptoTransaction) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// EventClaimer dedupes provider webhook deliveries by event id.
type EventClaimer interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// sideEffects writes the audit row and publishes the realtime event that
// follow a committed status change. Neither may fail the caller.
type sideEffects struct {
	audit     AuditStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func (s sideEffects) record(ctx context.Context, entry models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.metrics.ReconciliationDebt(metrics.StageAudit)
		s.log.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s sideEffects) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.StreamConsultation, event); err != nil {
		s.metrics.ReconciliationDebt(metrics.StagePublish)
		s.log.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}

// statusChanged audits and announces a consultation status move.
func (s sideEffects) statusChanged(ctx context.Context, c *models.Consultation, actorType string, actorRef *string,
	oldStatus models.ConsultationStatus, oldPayment models.PaymentStatus) {
	s.statusChangedWith(ctx, c, actorType, actorRef, oldStatus, oldPayment, nil)
}

// statusChangedWith is statusChanged with extra fields added to both the
// audit row and the event.
func (s sideEffects) statusChangedWith(ctx context.Context, c *models.Consultation, actorType string, actorRef *string,
	oldStatus models.ConsultationStatus, oldPayment models.PaymentStatus, extra map[string]any) {
	if oldStatus == c.Status && oldPayment == c.PaymentStatus {
		return
	}
	meta := map[string]any{
		"old_status":         oldStatus,
		"new_status":         c.Status,
		"old_payment_status": oldPayment,
		"new_payment_status": c.PaymentStatus,
	}
	for k, v := range extra {
		meta[k] = v
	}
	s.record(ctx, models.AuditLog{
		ActorType:  actorType,
		ActorRef:   actorRef,
		Action:     fmt.Sprintf("consultation_%s_to_%s", oldStatus, c.Status),
		EntityType: "consultation",
		EntityID:   &c.ID,
		Meta:       meta,
	})

	eventType := events.EventConsultationStatusChanged
	switch {
	case c.PaymentStatus == models.PaymentSucceeded && oldPayment != models.PaymentSucceeded:
		eventType = events.EventPaymentConfirmed
	case c.PaymentStatus == models.PaymentFailed && oldPayment != models.PaymentFailed:
		eventType = events.EventPaymentFailed
	}
	payload := map[string]any{
		"old_status":     string(oldStatus),
		"status":         string(c.Status),
		"payment_status": string(c.PaymentStatus),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.publish(ctx, events.NewConsultationEvent(eventType, c.ID, c.ClientWalletAddress, payload))
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// correlationID builds ids like escrow_1718000000000_k3j9x2a: a prefix, the
// unix millis and seven random base36 characters.
func correlationID(prefix string, now time.Time) string {
	suffix := make([]byte, 7)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		suffix[i] = base36[n.Int64()]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}

func strPtr(s string) *string { return &s }

func loadConsultation(ctx context.Context, store ConsultationStore, id string) (*models.Consultation, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, notFoundError(CodeConsultationNotFound, "consultation not found")
	}
	c, err := store.GetByID(ctx, cid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFoundError(CodeConsultationNotFound, "consultation not found")
		}
		return nil, databaseError(err)
	}
	return c, nil
}

// checkOwner rejects callers other than the booking client. An empty caller
// means the request was not authenticated and is not checked.
func checkOwner(c *models.Consultation, caller string) error {
	if caller == "" || c.OwnedBy(caller) {
		return nil
	}
	return forbiddenError("consultation does not belong to the caller")
}

func loadConsultant(ctx context.Context, store ConsultantStore, id string) (*models.Consultant, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, notFoundError(CodeConsultantNotFound, "consultant does not exist").with("consultant_id", id)
	}
	c, err := store.GetByID(ctx, cid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFoundError(CodeConsultantNotFound, "consultant does not exist").with("consultant_id", id)
		}
		return nil, databaseError(err)
	}
	return c, nil
}
