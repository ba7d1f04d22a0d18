package dto

import (
	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/models"
	"github.com/shopspring/decimal"
)

// ErrorResponse is the failure variant of every endpoint.
type ErrorResponse struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type ConsultationResponse struct {
	Success      bool                 `json:"success"`
	Consultation *models.Consultation `json:"consultation"`
	Consultant   *ConsultantSummary   `json:"consultant,omitempty"`
}

type ConsultantSummary struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Title         *string         `json:"title,omitempty"`
	WalletAddress string          `json:"wallet_address"`
	HourlyRate    decimal.Decimal `json:"hourly_rate"`
}

func NewConsultantSummary(c *models.Consultant) *ConsultantSummary {
	if c == nil {
		return nil
	}
	return &ConsultantSummary{
		ID:            c.ID.String(),
		Name:          c.Name,
		Title:         c.Title,
		WalletAddress: c.WalletAddress,
		HourlyRate:    c.HourlyRate,
	}
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ConsultationListResponse struct {
	Success       bool                      `json:"success"`
	Consultations []models.Consultation     `json:"consultations"`
	Stats         *models.ConsultationStats `json:"stats"`
	Pagination    Pagination                `json:"pagination"`
}

type EscrowSessionResponse struct {
	Success             bool                  `json:"success"`
	ConsultationID      string                `json:"consultationId"`
	ContractAddress     string                `json:"contractAddress"`
	ContractSessionID   string                `json:"contractSessionId"`
	Amount              decimal.Decimal       `json:"amount"`
	CryptoAmount        string                `json:"cryptoAmount"`
	Currency            string                `json:"currency"`
	Network             string                `json:"network"`
	PaymentRecordID     string                `json:"paymentRecordId,omitempty"`
	CryptoTransactionID string                `json:"cryptoTransactionId,omitempty"`
	ContractConfig      *chain.ContractConfig `json:"contractConfig"`
}

type TransactionUpdateResponse struct {
	Success            bool                       `json:"success"`
	Unchanged          bool                       `json:"unchanged,omitempty"`
	Consultation       *models.Consultation       `json:"consultation"`
	PaymentRecords     []models.PaymentRecord     `json:"paymentRecords"`
	CryptoTransactions []models.CryptoTransaction `json:"cryptoTransactions"`
}

type PaymentIntentResponse struct {
	Success         bool   `json:"success"`
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	TransactionID   string `json:"transactionId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Livemode        bool   `json:"livemode"`
}

type WebhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}
