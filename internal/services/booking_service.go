package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultCurrency = "USD"

type BookingService struct {
	consultants   ConsultantStore
	consultations ConsultationStore
	effects       sideEffects
	cfg           *config.Config
	metrics       *metrics.Metrics
	log           *zap.Logger
	now           func() time.Time
}

func NewBookingService(
	consultants ConsultantStore,
	consultations ConsultationStore,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	log *zap.Logger,
) *BookingService {
	return &BookingService{
		consultants:   consultants,
		consultations: consultations,
		effects:       sideEffects{audit: audit, publisher: publisher, metrics: m, log: log},
		cfg:           cfg,
		metrics:       m,
		log:           log,
		now:           time.Now,
	}
}

func (s *BookingService) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type CreateConsultationInput struct {
	ConsultantID        string
	ClientWalletAddress string
	Title               string
	Description         string
	ScheduledFor        string
	DurationHours       decimal.Decimal
	HourlyRate          *decimal.Decimal
	Currency            string
}

type CreateConsultationResult struct {
	Consultation *models.Consultation
	Consultant   *models.Consultant
}

// CreateConsultation validates a booking request and stores it as pending
// and unpaid. Nothing is written unless every check passes.
func (s *BookingService) CreateConsultation(ctx context.Context, in CreateConsultationInput) (*CreateConsultationResult, error) {
	res, err := s.createConsultation(ctx, in)
	if err != nil {
		s.metrics.Booking(AsError(err).Code)
		return nil, err
	}
	s.metrics.Booking("created")
	return res, nil
}

func (s *BookingService) createConsultation(ctx context.Context, in CreateConsultationInput) (*CreateConsultationResult, error) {
	var missing []string
	if strings.TrimSpace(in.ConsultantID) == "" {
		missing = append(missing, "consultant_id")
	}
	if strings.TrimSpace(in.ClientWalletAddress) == "" {
		missing = append(missing, "client_wallet_address")
	}
	if strings.TrimSpace(in.ScheduledFor) == "" {
		missing = append(missing, "scheduled_for")
	}
	if in.DurationHours.IsZero() {
		missing = append(missing, "duration_hours")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}

	scheduled, err := time.Parse(time.RFC3339, in.ScheduledFor)
	if err != nil {
		return nil, badRequest(CodeInvalidDate, "scheduled_for must be an RFC3339 timestamp").
			with("received", in.ScheduledFor).
			with("example", "2024-01-10T14:30:00Z")
	}
	now := s.now()
	if !scheduled.After(now) {
		return nil, badRequest(CodeScheduleInPast, "scheduled time must be in the future").
			with("scheduled", scheduled.UTC().Format(time.RFC3339)).
			with("now", now.UTC().Format(time.RFC3339))
	}
	if !in.DurationHours.IsPositive() {
		return nil, badRequest(CodeInvalidDuration, "duration_hours must be positive").with("requested", in.DurationHours)
	}

	consultant, err := loadConsultant(ctx, s.consultants, in.ConsultantID)
	if err != nil {
		return nil, err
	}
	if !consultant.Bookable() {
		return nil, badRequest(CodeConsultantUnavailable, "consultant is not available for bookings").
			with("consultant_name", consultant.Name).
			with("is_active", consultant.IsActive).
			with("is_verified", consultant.IsVerified)
	}

	lo, hi := consultant.DurationBounds()
	if in.DurationHours.LessThan(lo) {
		return nil, badRequest(CodeDurationTooShort, fmt.Sprintf("minimum duration is %s hours", lo)).
			with("requested", in.DurationHours).
			with("minimum", lo)
	}
	if in.DurationHours.GreaterThan(hi) {
		return nil, badRequest(CodeDurationTooLong, fmt.Sprintf("maximum duration is %s hours", hi)).
			with("requested", in.DurationHours).
			with("maximum", hi)
	}

	rate := consultant.HourlyRate
	if in.HourlyRate != nil && s.cfg.AllowRateOverride && in.HourlyRate.IsPositive() {
		rate = *in.HourlyRate
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Consultation with " + consultant.Name
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	c := &models.Consultation{
		ConsultantID:        consultant.ID,
		ClientWalletAddress: strings.TrimSpace(in.ClientWalletAddress),
		Title:               title,
		ScheduledFor:        scheduled.UTC(),
		DurationHours:       in.DurationHours,
		HourlyRate:          rate,
		TotalAmount:         rate.Mul(in.DurationHours).Round(2),
		Currency:            currency,
		Status:              models.ConsultationPending,
		PaymentStatus:       models.PaymentUnpaid,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		c.Description = &d
	}

	if err := s.consultations.Create(ctx, c); err != nil {
		return nil, databaseError(err)
	}

	s.log.Info("consultation booked",
		zap.String("consultation_id", c.ID.String()),
		zap.String("consultant_id", consultant.ID.String()),
		zap.String("total_amount", c.TotalAmount.String()),
	)
	s.effects.record(ctx, models.AuditLog{
		ActorType:  models.ActorClient,
		ActorRef:   &c.ClientWalletAddress,
		Action:     "consultation_created",
		EntityType: "consultation",
		EntityID:   &c.ID,
		Meta: map[string]any{
			"hourly_rate":    rate.String(),
			"duration_hours": in.DurationHours.String(),
			"total_amount":   c.TotalAmount.String(),
		},
	})

	return &CreateConsultationResult{Consultation: c, Consultant: consultant}, nil
}

type ListConsultationsInput struct {
	ClientWalletAddress string
	Status              string
	Limit               int
	Offset              int
}

type ConsultationList struct {
	Items  []models.Consultation
	Stats  *models.ConsultationStats
	Limit  int
	Offset int
}

func (s *BookingService) ListConsultations(ctx context.Context, in ListConsultationsInput) (*ConsultationList, error) {
	if strings.TrimSpace(in.ClientWalletAddress) == "" {
		return nil, missingFields("wallet_address")
	}
	f := repositories.ConsultationFilter{
		ClientWalletAddress: in.ClientWalletAddress,
		Limit:               in.Limit,
		Offset:              in.Offset,
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if in.Status != "" && in.Status != "all" {
		st := models.ConsultationStatus(in.Status)
		if !st.Valid() {
			return nil, badRequest(CodeInvalidStatus, "unknown consultation status").with("status", in.Status)
		}
		f.Status = &st
	}

	items, err := s.consultations.List(ctx, f)
	if err != nil {
		return nil, databaseError(err)
	}
	stats, err := s.consultations.Stats(ctx, in.ClientWalletAddress)
	if err != nil {
		return nil, databaseError(err)
	}
	if items == nil {
		items = []models.Consultation{}
	}
	return &ConsultationList{Items: items, Stats: stats, Limit: f.Limit, Offset: f.Offset}, nil
}

// GetConsultation loads one consultation. A non-empty caller must be the
// booking client.
func (s *BookingService) GetConsultation(ctx context.Context, id, caller string) (*models.Consultation, error) {
	c, err := loadConsultation(ctx, s.consultations, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(c, caller); err != nil {
		return nil, err
	}
	return c, nil
}
