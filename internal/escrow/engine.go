package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Error texts follow the contract's revert strings.
var (
	ErrNilState           = errors.New("escrow engine: state not configured")
	ErrSessionNotFound    = errors.New("Session does not exist")
	ErrInvalidAmount      = errors.New("Amount must be greater than 0")
	ErrValueMismatch      = errors.New("Incorrect payment amount")
	ErrScheduleInPast     = errors.New("Scheduled time must be in the future")
	ErrInvalidConsultant  = errors.New("Invalid consultant address")
	ErrInsufficientFunds  = errors.New("Insufficient balance")
	ErrNotConsultant      = errors.New("Not the session consultant")
	ErrNotClient          = errors.New("Not the session client")
	ErrNotParticipant     = errors.New("Not a session participant")
	ErrInvalidStatus      = errors.New("Invalid session status")
	ErrAlreadySettled     = errors.New("Session already settled")
	ErrRefundNotEligible  = errors.New("Refund not eligible")
	ErrReleaseNotEligible = errors.New("Release not eligible yet")
)

// Engine runs the ConsultingSession state machine against a pluggable State.
// All checks run before any balance moves, and every mutation of a call is
// applied in one State.Update.
type Engine struct {
	mu       sync.Mutex
	state    State
	emitter  Emitter
	vault    common.Address
	platform common.Address
	feeBps   uint32
	nowFn    func() int64
}

func NewEngine(state State, vault, platform common.Address) *Engine {
	return &Engine{
		state:    state,
		emitter:  NoopEmitter{},
		vault:    vault,
		platform: platform,
		feeBps:   DefaultPlatformFeeBps,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock. Passing nil restores wall time.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetFeeBps(bps uint32) error {
	if bps > maxFeeBps {
		return fmt.Errorf("escrow: fee bps %d out of range", bps)
	}
	e.feeBps = bps
	return nil
}

func (e *Engine) Vault() common.Address { return e.vault }

func (e *Engine) Now() int64 { return e.nowFn() }

// CreateSession escrows Value from the client and opens a session in CREATED.
func (e *Engine) CreateSession(p CreateParams) (*Session, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	amount := cloneBigInt(p.Amount)
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if cloneBigInt(p.Value).Cmp(amount) != 0 {
		return nil, ErrValueMismatch
	}
	if p.Consultant == (common.Address{}) {
		return nil, ErrInvalidConsultant
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	if p.ScheduledTime <= now {
		return nil, ErrScheduleInPast
	}

	var created *Session
	err := e.state.Update(func(tx StateTx) error {
		if err := transfer(tx, p.Client, e.vault, amount); err != nil {
			return err
		}
		id, err := tx.NextSessionID()
		if err != nil {
			return err
		}
		created = &Session{
			ID:              id,
			Client:          p.Client,
			Consultant:      p.Consultant,
			ConsultantID:    p.ConsultantID,
			Amount:          amount,
			DurationMinutes: p.DurationMinutes,
			ScheduledTime:   p.ScheduledTime,
			Status:          StatusCreated,
			CreatedAt:       now,
		}
		return tx.PutSession(created)
	})
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(newCreatedEvent(created))
	return created.Clone(), nil
}

// ConfirmSession is called by the consultant to accept a CREATED session.
func (e *Engine) ConfirmSession(id uint64, caller common.Address) (*Session, error) {
	return e.mutate(id, func(tx StateTx, s *Session, now int64) (Event, error) {
		if caller != s.Consultant {
			return Event{}, ErrNotConsultant
		}
		if s.Status.Terminal() {
			return Event{}, ErrAlreadySettled
		}
		if s.Status != StatusCreated {
			return Event{}, ErrInvalidStatus
		}
		s.Status = StatusActive
		s.IsConfirmed = true
		return newConfirmedEvent(s), nil
	})
}

// Refund returns the full amount to the client when the consultant never
// confirmed within 24h of the scheduled time, or when the session is still
// CREATED seven days after creation.
func (e *Engine) Refund(id uint64, caller common.Address) (*Session, error) {
	return e.mutate(id, func(tx StateTx, s *Session, now int64) (Event, error) {
		if caller != s.Client {
			return Event{}, ErrNotClient
		}
		if s.Status.Terminal() {
			return Event{}, ErrAlreadySettled
		}
		if !refundEligible(s, now) {
			return Event{}, ErrRefundNotEligible
		}
		if err := transfer(tx, e.vault, s.Client, s.Amount); err != nil {
			return Event{}, err
		}
		s.Status = StatusRefunded
		s.SettledAt = now
		return newRefundedEvent(s), nil
	})
}

func refundEligible(s *Session, now int64) bool {
	window := int64(ConfirmationWindow / time.Second)
	stale := int64(StaleCreatedWindow / time.Second)
	if !s.IsConfirmed && now > s.ScheduledTime+window {
		return true
	}
	return s.Status == StatusCreated && now > s.CreatedAt+stale
}

// Release pays out an ACTIVE session: the client may release at any time
// (confirmCompletion), the consultant only once the confirmation window after
// the scheduled time has passed (releasePayment).
func (e *Engine) Release(id uint64, caller common.Address) (*Session, error) {
	return e.mutate(id, func(tx StateTx, s *Session, now int64) (Event, error) {
		if caller != s.Client && caller != s.Consultant {
			return Event{}, ErrNotParticipant
		}
		if s.Status.Terminal() {
			return Event{}, ErrAlreadySettled
		}
		if s.Status != StatusActive {
			return Event{}, ErrInvalidStatus
		}
		if caller == s.Consultant && caller != s.Client {
			if now <= s.ScheduledTime+int64(ConfirmationWindow/time.Second) {
				return Event{}, ErrReleaseNotEligible
			}
		}
		payout, fee := e.split(s.Amount)
		if err := transfer(tx, e.vault, s.Consultant, payout); err != nil {
			return Event{}, err
		}
		if err := transfer(tx, e.vault, e.platform, fee); err != nil {
			return Event{}, err
		}
		s.Status = StatusCompleted
		s.SettledAt = now
		return newReleasedEvent(s, payout.String(), fee.String()), nil
	})
}

// split returns the consultant payout and the platform fee; integer division
// remainder stays with the consultant.
func (e *Engine) split(amount *big.Int) (payout, fee *big.Int) {
	total := cloneBigInt(amount)
	fee = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(e.feeBps)))
	fee.Div(fee, big.NewInt(int64(maxFeeBps)))
	payout = new(big.Int).Sub(total, fee)
	return payout, fee
}

func (e *Engine) mutate(id uint64, fn func(tx StateTx, s *Session, now int64) (Event, error)) (*Session, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	var (
		out *Session
		evt Event
	)
	err := e.state.Update(func(tx StateTx) error {
		s, ok, err := tx.GetSession(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		if evt, err = fn(tx, s, now); err != nil {
			return err
		}
		out = s
		return tx.PutSession(s)
	})
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(evt)
	return out.Clone(), nil
}

// Session returns a copy of the stored session.
func (e *Engine) Session(id uint64) (*Session, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	var out *Session
	err := e.state.View(func(tx StateTx) error {
		s, ok, err := tx.GetSession(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		out = s
		return nil
	})
	return out, err
}

func (e *Engine) Balance(addr common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	var out *big.Int
	err := e.state.View(func(tx StateTx) error {
		b, err := tx.Balance(addr)
		out = b
		return err
	})
	return out, err
}

// Credit mints funds to an account. Only the development network exposes it.
func (e *Engine) Credit(addr common.Address, amount *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	if cloneBigInt(amount).Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out *big.Int
	err := e.state.Update(func(tx StateTx) error {
		b, err := tx.Balance(addr)
		if err != nil {
			return err
		}
		out = new(big.Int).Add(b, amount)
		return tx.SetBalance(addr, out)
	})
	return out, err
}

func transfer(tx StateTx, from, to common.Address, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromBal, err := tx.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal, err := tx.Balance(to)
	if err != nil {
		return err
	}
	if err := tx.SetBalance(from, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return tx.SetBalance(to, new(big.Int).Add(toBal, amt))
}
