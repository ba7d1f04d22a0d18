package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ConsultationStatus string

const (
	ConsultationPending       ConsultationStatus = "pending"
	ConsultationConfirmed     ConsultationStatus = "confirmed"
	ConsultationPaymentFailed ConsultationStatus = "payment_failed"
	ConsultationInProgress    ConsultationStatus = "in_progress"
	ConsultationCompleted     ConsultationStatus = "completed"
	ConsultationCancelled     ConsultationStatus = "cancelled"
	ConsultationRefunded      ConsultationStatus = "refunded"
)

// ValidConsultationTransitions: from -> []to
var ValidConsultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationPending:       {ConsultationConfirmed, ConsultationPaymentFailed, ConsultationCancelled},
	ConsultationPaymentFailed: {ConsultationConfirmed, ConsultationCancelled},
	ConsultationConfirmed:     {ConsultationInProgress, ConsultationCancelled, ConsultationRefunded},
	ConsultationInProgress:    {ConsultationCompleted, ConsultationCancelled},
	ConsultationCompleted:     {ConsultationRefunded},
	ConsultationCancelled:     {ConsultationRefunded},
	ConsultationRefunded:      {},
}

func (s ConsultationStatus) CanTransition(to ConsultationStatus) bool {
	for _, allowed := range ValidConsultationTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s ConsultationStatus) Valid() bool {
	_, ok := ValidConsultationTransitions[s]
	return ok
}

type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "unpaid"
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentConfirming PaymentStatus = "confirming"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// ValidPaymentTransitions lists self-transitions explicitly; repeated
// reconciliation calls resubmit the status they already wrote.
var ValidPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:     {PaymentPending, PaymentProcessing, PaymentSucceeded, PaymentFailed, PaymentCancelled},
	PaymentPending:    {PaymentPending, PaymentProcessing, PaymentConfirming, PaymentSucceeded, PaymentFailed, PaymentCancelled},
	PaymentProcessing: {PaymentConfirming, PaymentSucceeded, PaymentFailed},
	PaymentConfirming: {PaymentConfirming, PaymentSucceeded, PaymentFailed},
	PaymentSucceeded:  {PaymentRefunded},
	PaymentFailed:     {PaymentPending, PaymentProcessing, PaymentSucceeded},
	PaymentRefunded:   {},
	PaymentCancelled:  {},
}

func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, allowed := range ValidPaymentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	_, ok := ValidPaymentTransitions[s]
	return ok
}

// Settled reports whether money has already moved for good.
func (s PaymentStatus) Settled() bool {
	return s == PaymentSucceeded || s == PaymentRefunded
}

const (
	PaymentMethodCrypto = "crypto"
	PaymentMethodStripe = "stripe"
)

var ErrPaymentFieldsMismatch = errors.New("payment fields do not match payment method")

type Consultation struct {
	ID                  uuid.UUID          `json:"id"`
	ConsultantID        uuid.UUID          `json:"consultant_id"`
	ClientWalletAddress string             `json:"client_wallet_address"`
	Title               string             `json:"title"`
	Description         *string            `json:"description,omitempty"`
	ScheduledFor        time.Time          `json:"scheduled_for"`
	DurationHours       decimal.Decimal    `json:"duration_hours"`
	HourlyRate          decimal.Decimal    `json:"hourly_rate"`
	TotalAmount         decimal.Decimal    `json:"total_amount"`
	Currency            string             `json:"currency"`
	Status              ConsultationStatus `json:"status"`
	PaymentStatus       PaymentStatus      `json:"payment_status"`
	PaymentMethod       *string            `json:"payment_method,omitempty"`

	// crypto path
	ContractAddress       *string `json:"contract_address,omitempty"`
	ContractSessionID     *string `json:"contract_session_id,omitempty"`
	CryptoTransactionHash *string `json:"crypto_transaction_hash,omitempty"`
	CryptoAmount          *string `json:"crypto_amount,omitempty"` // wei as decimal string
	CryptoCurrency        *string `json:"crypto_currency,omitempty"`
	Network               *string `json:"network,omitempty"`
	CryptoPaymentAddress  *string `json:"crypto_payment_address,omitempty"`

	// card path
	StripePaymentIntentID *string `json:"stripe_payment_intent_id,omitempty"`
	StripeSessionID       *string `json:"stripe_session_id,omitempty"`
	PaymentID             *string `json:"payment_id,omitempty"`

	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TotalCents is the booking price in minor currency units, as card
// providers charge it.
func (c *Consultation) TotalCents() int64 {
	return c.TotalAmount.Shift(2).Round(0).IntPart()
}

// OwnedBy reports whether wallet is the booking client. Addresses compare
// case-insensitively.
func (c *Consultation) OwnedBy(wallet string) bool {
	return strings.EqualFold(strings.TrimSpace(wallet), c.ClientWalletAddress)
}

func (c *Consultation) hasCryptoFields() bool {
	return c.ContractSessionID != nil || c.CryptoTransactionHash != nil || c.CryptoAmount != nil
}

func (c *Consultation) hasCardFields() bool {
	return c.StripePaymentIntentID != nil || c.StripeSessionID != nil
}

// CheckPaymentFields verifies that only the field group of the chosen payment
// method is populated.
func (c *Consultation) CheckPaymentFields() error {
	method := ""
	if c.PaymentMethod != nil {
		method = *c.PaymentMethod
	}
	switch method {
	case "":
		if c.hasCryptoFields() || c.hasCardFields() {
			return ErrPaymentFieldsMismatch
		}
	case PaymentMethodCrypto:
		if c.hasCardFields() {
			return ErrPaymentFieldsMismatch
		}
	case PaymentMethodStripe:
		if c.hasCryptoFields() {
			return ErrPaymentFieldsMismatch
		}
	default:
		return ErrPaymentFieldsMismatch
	}
	return nil
}

// ConsultationStats summarizes a client's bookings for the list endpoint.
type ConsultationStats struct {
	Total     int             `json:"total"`
	Upcoming  int             `json:"upcoming"`
	Completed int             `json:"completed"`
	Cancelled int             `json:"cancelled"`
	TotalPaid decimal.Decimal `json:"total_paid"`
}
