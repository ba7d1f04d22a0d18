package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/askgene/backend/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SimulatedBackend runs contract calls against an in-process escrow engine
// and keeps receipts the way a node would. Every call mines one block;
// reverted calls still get a receipt with Success=false.
type SimulatedBackend struct {
	engine *escrow.Engine

	mu       sync.RWMutex
	block    uint64
	nonce    uint64
	receipts map[common.Hash]*Receipt
}

func NewSimulatedBackend(engine *escrow.Engine) *SimulatedBackend {
	return &SimulatedBackend{
		engine:   engine,
		receipts: make(map[common.Hash]*Receipt),
	}
}

func (b *SimulatedBackend) Engine() *escrow.Engine { return b.engine }

func (b *SimulatedBackend) ContractBalance(ctx context.Context) (*big.Int, error) {
	return b.engine.Balance(b.engine.Vault())
}

func (b *SimulatedBackend) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	if !IsTxHash(txHash) {
		return nil, fmt.Errorf("chain: invalid tx hash %q", txHash)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rcpt, ok := b.receipts[common.HexToHash(txHash)]
	if !ok {
		return &Receipt{Found: false}, nil
	}
	out := *rcpt
	out.Confirmations = b.block - rcpt.BlockNumber + 1
	return &out, nil
}

// CreateSession executes createSession and returns the transaction hash.
// The returned error is the revert reason when the call failed; the hash is
// valid either way.
func (b *SimulatedBackend) CreateSession(p escrow.CreateParams) (common.Hash, *escrow.Session, error) {
	s, err := b.engine.CreateSession(p)
	var id uint64
	if s != nil {
		id = s.ID
	}
	return b.mine(p.Client, id, err), s, err
}

// Call executes one of the single-argument session calls.
func (b *SimulatedBackend) Call(method string, sessionID uint64, caller common.Address) (common.Hash, *escrow.Session, error) {
	var (
		s   *escrow.Session
		err error
	)
	switch method {
	case FuncConfirmSession:
		s, err = b.engine.ConfirmSession(sessionID, caller)
	case FuncRefund:
		s, err = b.engine.Refund(sessionID, caller)
	case FuncConfirmCompletion, FuncReleasePayment:
		s, err = b.engine.Release(sessionID, caller)
	default:
		return common.Hash{}, nil, fmt.Errorf("chain: %q is not a session call", method)
	}
	return b.mine(caller, 0, err), s, err
}

// mine stores a receipt for one call. A non-nil failure marks it reverted
// and keeps the reason.
func (b *SimulatedBackend) mine(from common.Address, sessionID uint64, failure error) common.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce++
	b.block++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], b.nonce)
	hash := crypto.Keccak256Hash(from.Bytes(), n[:])
	rcpt := &Receipt{
		Found:       true,
		Success:     failure == nil,
		BlockNumber: b.block,
		SessionID:   sessionID,
	}
	if failure != nil {
		rcpt.RevertReason = failure.Error()
	}
	b.receipts[hash] = rcpt
	return hash
}

// Mine advances the block height without a transaction.
func (b *SimulatedBackend) Mine(blocks uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block += blocks
	return b.block
}
