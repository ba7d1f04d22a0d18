package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsTxHash reports whether s looks like a 32-byte hex transaction hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// Receipt is the part of a transaction receipt the reconciler acts on.
type Receipt struct {
	Found         bool   `json:"found"`
	Success       bool   `json:"success"`
	BlockNumber   uint64 `json:"block_number"`
	Confirmations uint64 `json:"confirmations"`
	// SessionID is set when the transaction emitted SessionCreated.
	SessionID uint64 `json:"session_id,omitempty"`
	// RevertReason is the raw EVM error of a failed transaction, when the
	// node could reproduce it.
	RevertReason string `json:"revert_reason,omitempty"`
}

// FailureMessage is the caller-facing text for a reverted receipt and empty
// otherwise.
func (r *Receipt) FailureMessage() string {
	if r == nil || !r.Found || r.Success {
		return ""
	}
	if r.RevertReason == "" {
		return RevertMessage(errReverted)
	}
	return RevertMessage(errors.New(r.RevertReason))
}

var errReverted = errors.New("execution reverted")

// Backend reads escrow state from a chain.
type Backend interface {
	ContractBalance(ctx context.Context) (*big.Int, error)
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
}

// EthBackend talks to an EVM JSON-RPC endpoint.
type EthBackend struct {
	client   *ethclient.Client
	contract common.Address
	log      *zap.Logger
}

func DialEthBackend(ctx context.Context, rpcURL, contract string, log *zap.Logger) (*EthBackend, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contract)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	log.Info("chain rpc connected", zap.String("rpc", rpcURL), zap.String("contract", contract))
	return &EthBackend{client: client, contract: common.HexToAddress(contract), log: log}, nil
}

func (b *EthBackend) Close() {
	b.client.Close()
}

func (b *EthBackend) ContractBalance(ctx context.Context) (*big.Int, error) {
	return b.client.BalanceAt(ctx, b.contract, nil)
}

func (b *EthBackend) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	if !IsTxHash(txHash) {
		return nil, fmt.Errorf("chain: invalid tx hash %q", txHash)
	}
	rcpt, err := b.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Receipt{Found: false}, nil
		}
		return nil, fmt.Errorf("chain: receipt %s: %w", txHash, err)
	}

	out := &Receipt{
		Found:       true,
		Success:     rcpt.Status == 1,
		BlockNumber: rcpt.BlockNumber.Uint64(),
	}

	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	if latest := header.Number.Uint64(); latest >= out.BlockNumber {
		out.Confirmations = latest - out.BlockNumber + 1
	}
	if !out.Success {
		out.RevertReason = b.revertReason(ctx, rcpt)
	}

	for _, l := range rcpt.Logs {
		if l.Address != b.contract {
			continue
		}
		created, ok, err := DecodeSessionCreated(l)
		if !ok {
			continue
		}
		if err != nil {
			b.log.Warn("undecodable SessionCreated log", zap.String("tx", txHash), zap.Error(err))
			continue
		}
		out.SessionID = created.SessionID
		break
	}
	return out, nil
}

// revertReason replays the failed transaction at its block to recover the
// EVM error. Nodes without archive state return nothing useful; the reason is
// then left empty.
func (b *EthBackend) revertReason(ctx context.Context, rcpt *types.Receipt) string {
	tx, _, err := b.client.TransactionByHash(ctx, rcpt.TxHash)
	if err != nil {
		b.log.Debug("revert replay: transaction lookup failed", zap.Stringer("tx", rcpt.TxHash), zap.Error(err))
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		b.log.Debug("revert replay: sender recovery failed", zap.Stringer("tx", rcpt.TxHash), zap.Error(err))
		return ""
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	if _, err := b.client.CallContract(ctx, msg, rcpt.BlockNumber); err != nil {
		return err.Error()
	}
	return ""
}

// Connect picks the backend for the configured chain mode. In simulated mode
// rpcURL is the base URL of a devnet process.
func Connect(ctx context.Context, simulated bool, rpcURL, contract string, log *zap.Logger) (Backend, func(), error) {
	if simulated {
		log.Info("using devnet chain backend", zap.String("url", rpcURL))
		return NewDevnetClient(rpcURL, log), func() {}, nil
	}
	b, err := DialEthBackend(ctx, rpcURL, contract, log)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}
