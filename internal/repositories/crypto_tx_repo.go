package repositories

import (
	"context"

	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cryptoTxColumns = `
	id, consultation_id, transaction_hash, from_address, to_address, contract_address, value,
	token_symbol, network, chain_id, block_number, status, function_name, function_args,
	calldata, explorer_url, confirmed_at, created_at, updated_at`

type CryptoTxRepo struct {
	db db.DBTX
}

func NewCryptoTxRepo(conn db.DBTX) *CryptoTxRepo {
	return &CryptoTxRepo{db: conn}
}

func scanCryptoTx(row pgx.Row) (*models.CryptoTransaction, error) {
	var t models.CryptoTransaction
	err := row.Scan(&t.ID, &t.ConsultationID, &t.TransactionHash, &t.FromAddress, &t.ToAddress, &t.ContractAddress, &t.Value,
		&t.TokenSymbol, &t.Network, &t.ChainID, &t.BlockNumber, &t.Status, &t.FunctionName, &t.FunctionArgs,
		&t.Calldata, &t.ExplorerURL, &t.ConfirmedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *CryptoTxRepo) Create(ctx context.Context, t *models.CryptoTransaction) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO crypto_transactions (consultation_id, transaction_hash, from_address, to_address, contract_address,
		                                 value, token_symbol, network, chain_id, block_number, status,
		                                 function_name, function_args, calldata, explorer_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`, t.ConsultationID, t.TransactionHash, t.FromAddress, t.ToAddress, t.ContractAddress,
		t.Value, t.TokenSymbol, t.Network, t.ChainID, t.BlockNumber, t.Status,
		t.FunctionName, metadataOrEmpty(t.FunctionArgs), t.Calldata, t.ExplorerURL,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *CryptoTxRepo) ListByConsultation(ctx context.Context, consultationID uuid.UUID) ([]models.CryptoTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+cryptoTxColumns+` FROM crypto_transactions WHERE consultation_id = $1 ORDER BY created_at`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCryptoTxs(rows)
}

// ListAwaitingReceipt returns pending rows that already carry a real hash.
func (r *CryptoTxRepo) ListAwaitingReceipt(ctx context.Context, limit int) ([]models.CryptoTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+cryptoTxColumns+` FROM crypto_transactions
		WHERE status = 'pending' AND transaction_hash LIKE '0x%'
		ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCryptoTxs(rows)
}

func (r *CryptoTxRepo) Update(ctx context.Context, t *models.CryptoTransaction) error {
	err := r.db.QueryRow(ctx, `
		UPDATE crypto_transactions SET
			transaction_hash = $2, status = $3, block_number = $4, confirmed_at = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.TransactionHash, t.Status, t.BlockNumber, t.ConfirmedAt).Scan(&t.UpdatedAt)
	return notFound(err, "crypto transaction")
}

func collectCryptoTxs(rows pgx.Rows) ([]models.CryptoTransaction, error) {
	var out []models.CryptoTransaction
	for rows.Next() {
		t, err := scanCryptoTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
