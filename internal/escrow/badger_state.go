package escrow

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

var (
	keySessionCounter = []byte("escrow/counter")
	prefixSession     = []byte("escrow/session/")
	prefixBalance     = []byte("escrow/balance/")
)

// BadgerState persists engine state in a badger database so a development
// chain survives restarts.
type BadgerState struct {
	db *badger.DB
}

func OpenBadgerState(dir string) (*BadgerState, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerState{db: db}, nil
}

// OpenInMemoryBadgerState is used by tests.
func OpenInMemoryBadgerState() (*BadgerState, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerState{db: db}, nil
}

func (b *BadgerState) Close() error {
	return b.db.Close()
}

func (b *BadgerState) View(fn func(tx StateTx) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *BadgerState) Update(fn func(tx StateTx) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

type badgerTx struct {
	txn *badger.Txn
}

func sessionKey(id uint64) []byte {
	key := make([]byte, len(prefixSession)+8)
	copy(key, prefixSession)
	binary.BigEndian.PutUint64(key[len(prefixSession):], id)
	return key
}

func balanceKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixBalance...), addr.Bytes()...)
}

func (t *badgerTx) get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (t *badgerTx) GetSession(id uint64) (*Session, bool, error) {
	raw, ok, err := t.get(sessionKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("decode session %d: %w", id, err)
	}
	return &s, true, nil
}

func (t *badgerTx) PutSession(s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return t.txn.Set(sessionKey(s.ID), raw)
}

func (t *badgerTx) NextSessionID() (uint64, error) {
	raw, ok, err := t.get(keySessionCounter)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if ok && len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := t.txn.Set(keySessionCounter, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (t *badgerTx) Balance(addr common.Address) (*big.Int, error) {
	raw, ok, err := t.get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(raw), nil
}

func (t *badgerTx) SetBalance(addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative balance for %s", addr.Hex())
	}
	return t.txn.Set(balanceKey(addr), amount.Bytes())
}

// Sessions walks every stored session in id order.
func (b *BadgerState) Sessions(fn func(*Session) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixSession
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if err := fn(&s); err != nil {
				return err
			}
		}
		return nil
	})
}
