package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ProviderPolygon = "polygon"
	ProviderStripe  = "stripe"
)

// PaymentRecord is the durable ledger row for one payment attempt. Rows are
// updated in place and never deleted.
type PaymentRecord struct {
	ID                uuid.UUID       `json:"id"`
	ConsultationID    *uuid.UUID      `json:"consultation_id,omitempty"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentProvider   string          `json:"payment_provider"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	TransactionHash   *string         `json:"transaction_hash,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	CryptoAmount      *string         `json:"crypto_amount,omitempty"`
	Currency          string          `json:"currency"`
	CryptoCurrency    *string         `json:"crypto_currency,omitempty"`
	FromAddress       *string         `json:"from_address,omitempty"`
	ToAddress         *string         `json:"to_address,omitempty"`
	Network           *string         `json:"network,omitempty"`
	Status            PaymentStatus   `json:"status"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

const (
	CryptoTxPending   = "pending"
	CryptoTxConfirmed = "confirmed"
	CryptoTxFailed    = "failed"
)

const placeholderHashPrefix = "pending_"

// PlaceholderHash is stored until the wallet reports the real transaction hash.
func PlaceholderHash(correlationID string) string {
	return placeholderHashPrefix + correlationID
}

func IsPlaceholderHash(hash string) bool {
	return strings.HasPrefix(hash, placeholderHashPrefix)
}

type CryptoTransaction struct {
	ID              uuid.UUID      `json:"id"`
	ConsultationID  *uuid.UUID     `json:"consultation_id,omitempty"`
	TransactionHash string         `json:"transaction_hash"`
	FromAddress     string         `json:"from_address"`
	ToAddress       string         `json:"to_address"`
	ContractAddress string         `json:"contract_address"`
	Value           string         `json:"value"` // wei
	TokenSymbol     string         `json:"token_symbol"`
	Network         string         `json:"network"`
	ChainID         int64          `json:"chain_id"`
	BlockNumber     int64          `json:"block_number"`
	Status          string         `json:"status"`
	FunctionName    string         `json:"function_name"`
	FunctionArgs    map[string]any `json:"function_args,omitempty"`
	Calldata        *string        `json:"calldata,omitempty"`
	ExplorerURL     *string        `json:"explorer_url,omitempty"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
