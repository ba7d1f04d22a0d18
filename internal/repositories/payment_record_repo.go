package repositories

import (
	"context"

	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentRecordColumns = `
	id, consultation_id, payment_method, payment_provider, provider_payment_id, transaction_hash,
	amount, crypto_amount, currency, crypto_currency, from_address, to_address, network,
	status, metadata, created_at, updated_at`

type PaymentRecordRepo struct {
	db db.DBTX
}

func NewPaymentRecordRepo(conn db.DBTX) *PaymentRecordRepo {
	return &PaymentRecordRepo{db: conn}
}

func scanPaymentRecord(row pgx.Row) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := row.Scan(&p.ID, &p.ConsultationID, &p.PaymentMethod, &p.PaymentProvider, &p.ProviderPaymentID, &p.TransactionHash,
		&p.Amount, &p.CryptoAmount, &p.Currency, &p.CryptoCurrency, &p.FromAddress, &p.ToAddress, &p.Network,
		&p.Status, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (r *PaymentRecordRepo) Create(ctx context.Context, p *models.PaymentRecord) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO payment_records (consultation_id, payment_method, payment_provider, provider_payment_id, transaction_hash,
		                             amount, crypto_amount, currency, crypto_currency, from_address, to_address, network,
		                             status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`, p.ConsultationID, p.PaymentMethod, p.PaymentProvider, p.ProviderPaymentID, p.TransactionHash,
		p.Amount, p.CryptoAmount, p.Currency, p.CryptoCurrency, p.FromAddress, p.ToAddress, p.Network,
		p.Status, metadataOrEmpty(p.Metadata),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Upsert inserts p or, when a row with the same provider_payment_id exists,
// overwrites its status, amount and metadata. It reports whether a new row
// was created.
func (r *PaymentRecordRepo) Upsert(ctx context.Context, p *models.PaymentRecord) (bool, error) {
	var inserted bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO payment_records (consultation_id, payment_method, payment_provider, provider_payment_id,
		                             amount, currency, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_payment_id) DO UPDATE SET
			consultation_id = COALESCE(EXCLUDED.consultation_id, payment_records.consultation_id),
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`, p.ConsultationID, p.PaymentMethod, p.PaymentProvider, p.ProviderPaymentID,
		p.Amount, p.Currency, p.Status, metadataOrEmpty(p.Metadata),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &inserted)
	return inserted, err
}

func (r *PaymentRecordRepo) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*models.PaymentRecord, error) {
	p, err := scanPaymentRecord(r.db.QueryRow(ctx,
		`SELECT `+paymentRecordColumns+` FROM payment_records WHERE provider_payment_id = $1`, providerPaymentID))
	if err != nil {
		return nil, notFound(err, "payment record")
	}
	return p, nil
}

func (r *PaymentRecordRepo) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]models.PaymentRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentRecordColumns+` FROM payment_records WHERE consultation_id = $1 ORDER BY created_at`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentRecord
	for rows.Next() {
		p, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update writes the fields reconciliation is allowed to change.
func (r *PaymentRecordRepo) Update(ctx context.Context, p *models.PaymentRecord) error {
	err := r.db.QueryRow(ctx, `
		UPDATE payment_records SET
			provider_payment_id = $2, transaction_hash = $3, status = $4, metadata = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.ProviderPaymentID, p.TransactionHash, p.Status, metadataOrEmpty(p.Metadata)).Scan(&p.UpdatedAt)
	return notFound(err, "payment record")
}
