package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionStatus ordinals match the deployed ConsultingSession contract.
type SessionStatus uint8

const (
	StatusCreated   SessionStatus = 0
	StatusActive    SessionStatus = 1
	StatusCompleted SessionStatus = 2
	StatusRefunded  SessionStatus = 4
)

func (s SessionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

const (
	// ConfirmationWindow is how long after the scheduled time an unconfirmed
	// session stays locked, and how long a consultant waits before releasing
	// a confirmed session without the client.
	ConfirmationWindow = 24 * time.Hour
	// StaleCreatedWindow lets the client reclaim a session the consultant
	// never confirmed, measured from creation.
	StaleCreatedWindow = 7 * 24 * time.Hour

	DefaultPlatformFeeBps uint32 = 500
	maxFeeBps             uint32 = 10_000
)

type Session struct {
	ID              uint64         `json:"id"`
	Client          common.Address `json:"client"`
	Consultant      common.Address `json:"consultant"`
	ConsultantID    string         `json:"consultant_id"`
	Amount          *big.Int       `json:"amount"`
	DurationMinutes uint64         `json:"duration_minutes"`
	ScheduledTime   int64          `json:"scheduled_time"`
	Status          SessionStatus  `json:"status"`
	IsConfirmed     bool           `json:"is_confirmed"`
	CreatedAt       int64          `json:"created_at"`
	SettledAt       int64          `json:"settled_at,omitempty"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Amount = cloneBigInt(s.Amount)
	return &out
}

// CreateParams mirrors createSession calldata plus the attached value.
type CreateParams struct {
	Client          common.Address
	Consultant      common.Address
	ConsultantID    string
	DurationMinutes uint64
	ScheduledTime   int64
	Amount          *big.Int
	Value           *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
