package dto

import "github.com/shopspring/decimal"

type CreateConsultationRequest struct {
	ConsultantID        string           `json:"consultant_id"`
	ClientWalletAddress string           `json:"client_wallet_address"`
	Title               string           `json:"title,omitempty"`
	Description         string           `json:"description,omitempty"`
	ScheduledFor        string           `json:"scheduled_for"`
	DurationHours       decimal.Decimal  `json:"duration_hours"`
	HourlyRate          *decimal.Decimal `json:"hourly_rate,omitempty"` // honoured only with ALLOW_RATE_OVERRIDE
	Currency            string           `json:"currency,omitempty"`
}

type CreateEscrowSessionRequest struct {
	ConsultationID  string          `json:"consultationId"`
	ConsultantID    string          `json:"consultantId"`
	ScheduledTime   string          `json:"scheduledTime"`
	Amount          decimal.Decimal `json:"amount"` // MATIC
	CustomerAddress string          `json:"customerAddress"`
	CustomerEmail   string          `json:"customerEmail,omitempty"`
	SessionDuration int             `json:"sessionDuration,omitempty"`
}

type UpdateTransactionRequest struct {
	ConsultationID    string `json:"consultationId"`
	TransactionHash   string `json:"transactionHash"`
	ContractSessionID string `json:"contractSessionId,omitempty"`
	Status            string `json:"status,omitempty"`
}

type CreatePaymentIntentRequest struct {
	ConsultationID  string `json:"consultationId,omitempty"`
	Amount          int64  `json:"amount"` // cents
	Currency        string `json:"currency,omitempty"`
	ConsultantID    string `json:"consultantId"`
	CustomerEmail   string `json:"customerEmail"`
	CustomerName    string `json:"customerName,omitempty"`
	ScheduledTime   string `json:"scheduledTime,omitempty"`
	SessionDuration int    `json:"sessionDuration,omitempty"`
}
