package escrow

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// State persists sessions and balances. Update must apply all writes made by
// fn or none of them.
type State interface {
	View(fn func(tx StateTx) error) error
	Update(fn func(tx StateTx) error) error
}

type StateTx interface {
	GetSession(id uint64) (*Session, bool, error)
	PutSession(s *Session) error
	NextSessionID() (uint64, error)
	Balance(addr common.Address) (*big.Int, error)
	SetBalance(addr common.Address, amount *big.Int) error
}

// MemoryState is a process-local State. Update runs against a copy and
// swaps it in on success.
type MemoryState struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	sessions map[uint64]*Session
	balances map[common.Address]*big.Int
	counter  uint64
}

func NewMemoryState() *MemoryState {
	return &MemoryState{data: &memoryData{
		sessions: make(map[uint64]*Session),
		balances: make(map[common.Address]*big.Int),
	}}
}

func (m *MemoryState) View(fn func(tx StateTx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

func (m *MemoryState) Update(fn func(tx StateTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.data.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.data = work
	return nil
}

func (d *memoryData) clone() *memoryData {
	out := &memoryData{
		sessions: make(map[uint64]*Session, len(d.sessions)),
		balances: make(map[common.Address]*big.Int, len(d.balances)),
		counter:  d.counter,
	}
	for id, s := range d.sessions {
		out.sessions[id] = s.Clone()
	}
	for addr, b := range d.balances {
		out.balances[addr] = cloneBigInt(b)
	}
	return out
}

func (d *memoryData) GetSession(id uint64) (*Session, bool, error) {
	s, ok := d.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (d *memoryData) PutSession(s *Session) error {
	d.sessions[s.ID] = s.Clone()
	return nil
}

func (d *memoryData) NextSessionID() (uint64, error) {
	d.counter++
	return d.counter, nil
}

func (d *memoryData) Balance(addr common.Address) (*big.Int, error) {
	return cloneBigInt(d.balances[addr]), nil
}

func (d *memoryData) SetBalance(addr common.Address, amount *big.Int) error {
	d.balances[addr] = cloneBigInt(amount)
	return nil
}
