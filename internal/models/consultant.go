package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultMinDurationHours = 1
	DefaultMaxDurationHours = 8
)

// Consultant is maintained by the profile side of the marketplace; booking only reads it.
type Consultant struct {
	ID               uuid.UUID       `json:"id"`
	WalletAddress    string          `json:"wallet_address"`
	Name             string          `json:"name"`
	Title            *string         `json:"title,omitempty"`
	HourlyRate       decimal.Decimal `json:"hourly_rate"`
	MinDurationHours decimal.Decimal `json:"min_duration_hours"`
	MaxDurationHours decimal.Decimal `json:"max_duration_hours"`
	IsVerified       bool            `json:"is_verified"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Bookable reports whether new consultations may be created for the consultant.
func (c *Consultant) Bookable() bool {
	return c.IsActive && c.IsVerified
}

// DurationBounds returns the allowed booking length, falling back to 1..8 hours
// for unset columns.
func (c *Consultant) DurationBounds() (lo, hi decimal.Decimal) {
	lo, hi = c.MinDurationHours, c.MaxDurationHours
	if !lo.IsPositive() {
		lo = decimal.NewFromInt(DefaultMinDurationHours)
	}
	if !hi.IsPositive() {
		hi = decimal.NewFromInt(DefaultMaxDurationHours)
	}
	return lo, hi
}
