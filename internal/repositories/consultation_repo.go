package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const consultationColumns = `
	id, consultant_id, client_wallet_address, title, description, scheduled_for,
	duration_hours, hourly_rate, total_amount, currency, status, payment_status, payment_method,
	contract_address, contract_session_id, crypto_transaction_hash, crypto_amount,
	crypto_currency, network, crypto_payment_address,
	stripe_payment_intent_id, stripe_session_id, payment_id,
	cancellation_reason, created_at, updated_at`

type ConsultationRepo struct {
	db db.DBTX
}

func NewConsultationRepo(conn db.DBTX) *ConsultationRepo {
	return &ConsultationRepo{db: conn}
}

type ConsultationFilter struct {
	ClientWalletAddress string
	Status              *models.ConsultationStatus
	Limit               int
	Offset              int
}

func scanConsultation(row pgx.Row) (*models.Consultation, error) {
	var c models.Consultation
	err := row.Scan(&c.ID, &c.ConsultantID, &c.ClientWalletAddress, &c.Title, &c.Description, &c.ScheduledFor,
		&c.DurationHours, &c.HourlyRate, &c.TotalAmount, &c.Currency, &c.Status, &c.PaymentStatus, &c.PaymentMethod,
		&c.ContractAddress, &c.ContractSessionID, &c.CryptoTransactionHash, &c.CryptoAmount,
		&c.CryptoCurrency, &c.Network, &c.CryptoPaymentAddress,
		&c.StripePaymentIntentID, &c.StripeSessionID, &c.PaymentID,
		&c.CancellationReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConsultationRepo) Create(ctx context.Context, c *models.Consultation) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO consultations (consultant_id, client_wallet_address, title, description, scheduled_for,
		                           duration_hours, hourly_rate, total_amount, currency, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, c.ConsultantID, c.ClientWalletAddress, c.Title, c.Description, c.ScheduledFor,
		c.DurationHours, c.HourlyRate, c.TotalAmount, c.Currency, c.Status, c.PaymentStatus,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ConsultationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Consultation, error) {
	c, err := scanConsultation(r.db.QueryRow(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "consultation")
	}
	return c, nil
}

func (r *ConsultationRepo) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Consultation, error) {
	c, err := scanConsultation(r.db.QueryRow(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE stripe_payment_intent_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, intentID))
	if err != nil {
		return nil, notFound(err, "consultation")
	}
	return c, nil
}

// Update writes every mutable column of c and refreshes UpdatedAt.
func (r *ConsultationRepo) Update(ctx context.Context, c *models.Consultation) error {
	err := r.db.QueryRow(ctx, `
		UPDATE consultations SET
			status = $2, payment_status = $3, payment_method = $4,
			contract_address = $5, contract_session_id = $6, crypto_transaction_hash = $7,
			crypto_amount = $8, crypto_currency = $9, network = $10, crypto_payment_address = $11,
			stripe_payment_intent_id = $12, stripe_session_id = $13, payment_id = $14,
			cancellation_reason = $15, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, c.ID, c.Status, c.PaymentStatus, c.PaymentMethod,
		c.ContractAddress, c.ContractSessionID, c.CryptoTransactionHash,
		c.CryptoAmount, c.CryptoCurrency, c.Network, c.CryptoPaymentAddress,
		c.StripePaymentIntentID, c.StripeSessionID, c.PaymentID,
		c.CancellationReason,
	).Scan(&c.UpdatedAt)
	return notFound(err, "consultation")
}

func (r *ConsultationRepo) List(ctx context.Context, f ConsultationFilter) ([]models.Consultation, error) {
	where := []string{"client_wallet_address = $1"}
	args := []any{f.ClientWalletAddress}
	argIdx := 2

	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY scheduled_for DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ConsultationRepo) Stats(ctx context.Context, clientWallet string) (*models.ConsultationStats, error) {
	var s models.ConsultationStats
	err := r.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status IN ('pending', 'confirmed') AND scheduled_for > now()),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'cancelled'),
		       COALESCE(sum(total_amount) FILTER (WHERE payment_status = 'succeeded'), 0)
		FROM consultations WHERE client_wallet_address = $1
	`, clientWallet).Scan(&s.Total, &s.Upcoming, &s.Completed, &s.Cancelled, &s.TotalPaid)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStalePending returns crypto consultations still waiting for a wallet
// hash after the cutoff.
func (r *ConsultationRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Consultation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+consultationColumns+` FROM consultations
		WHERE payment_status = 'pending' AND payment_method = 'crypto'
		  AND crypto_transaction_hash IS NULL AND updated_at < $1
		ORDER BY updated_at LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
