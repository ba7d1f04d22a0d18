package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	FuncCreateSession     = "createSession"
	FuncConfirmSession    = "confirmSession"
	FuncRefund            = "refund"
	FuncConfirmCompletion = "confirmCompletion"
	FuncReleasePayment    = "releasePayment"

	EventSessionCreated   = "SessionCreated"
	EventSessionConfirmed = "SessionConfirmed"
	EventPaymentRefunded  = "PaymentRefunded"
	EventPaymentReleased  = "PaymentReleased"
)

// ConsultingSessionABI is the subset of the deployed contract the backend calls
// or decodes.
const ConsultingSessionABI = `[
{"inputs":[{"internalType":"string","name":"_consultantId","type":"string"},{"internalType":"uint256","name":"_scheduledTime","type":"uint256"},{"internalType":"uint256","name":"_amount","type":"uint256"}],"name":"createSession","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_sessionId","type":"uint256"}],"name":"confirmSession","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_sessionId","type":"uint256"}],"name":"refund","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_sessionId","type":"uint256"}],"name":"confirmCompletion","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"_sessionId","type":"uint256"}],"name":"releasePayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"sessionId","type":"uint256"},{"indexed":true,"internalType":"address","name":"client","type":"address"},{"indexed":true,"internalType":"address","name":"consultant","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"duration","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"scheduledTime","type":"uint256"}],"name":"SessionCreated","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"sessionId","type":"uint256"},{"indexed":true,"internalType":"address","name":"consultant","type":"address"}],"name":"SessionConfirmed","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"sessionId","type":"uint256"},{"indexed":true,"internalType":"address","name":"client","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"PaymentRefunded","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"sessionId","type":"uint256"},{"indexed":true,"internalType":"address","name":"consultant","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"platformFee","type":"uint256"}],"name":"PaymentReleased","type":"event"}
]`

var (
	sessionCreatedSig = crypto.Keccak256Hash([]byte("SessionCreated(uint256,address,address,uint256,uint256,uint256)"))

	contractABI = mustParseABI(ConsultingSessionABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse contract abi: %v", err))
	}
	return parsed
}

// ContractABI returns the parsed contract ABI.
func ContractABI() abi.ABI { return contractABI }

// PackCreateSession encodes createSession calldata.
func PackCreateSession(consultantID string, scheduledUnix int64, amountWei *big.Int) ([]byte, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return nil, fmt.Errorf("chain: amount must be positive")
	}
	return contractABI.Pack(FuncCreateSession, consultantID, big.NewInt(scheduledUnix), amountWei)
}

// CallMethod names the contract function selected by calldata.
func CallMethod(calldata []byte) (string, error) {
	if len(calldata) < 4 {
		return "", fmt.Errorf("chain: calldata too short")
	}
	method, err := contractABI.MethodById(calldata[:4])
	if err != nil {
		return "", err
	}
	return method.Name, nil
}

// UnpackSessionCall decodes calldata for one of the single-argument session
// calls (confirmSession, refund, confirmCompletion, releasePayment).
func UnpackSessionCall(calldata []byte) (string, uint64, error) {
	name, err := CallMethod(calldata)
	if err != nil {
		return "", 0, err
	}
	switch name {
	case FuncConfirmSession, FuncRefund, FuncConfirmCompletion, FuncReleasePayment:
	default:
		return "", 0, fmt.Errorf("chain: %q is not a session call", name)
	}
	values, err := contractABI.Methods[name].Inputs.Unpack(calldata[4:])
	if err != nil {
		return "", 0, fmt.Errorf("chain: unpack %s: %w", name, err)
	}
	id, ok := values[0].(*big.Int)
	if !ok || !id.IsUint64() {
		return "", 0, fmt.Errorf("chain: %s session id out of range", name)
	}
	return name, id.Uint64(), nil
}

// CreateSessionArgs is decoded createSession calldata.
type CreateSessionArgs struct {
	ConsultantID  string
	ScheduledTime *big.Int
	Amount        *big.Int
}

func UnpackCreateSession(calldata []byte) (*CreateSessionArgs, error) {
	name, err := CallMethod(calldata)
	if err != nil {
		return nil, err
	}
	if name != FuncCreateSession {
		return nil, fmt.Errorf("chain: calldata is %s, not createSession", name)
	}
	values, err := contractABI.Methods[name].Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("chain: unpack createSession: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("chain: createSession expects 3 args, got %d", len(values))
	}
	id, _ := values[0].(string)
	scheduled, _ := values[1].(*big.Int)
	amount, _ := values[2].(*big.Int)
	return &CreateSessionArgs{ConsultantID: id, ScheduledTime: scheduled, Amount: amount}, nil
}

// SessionCreatedLog is a decoded SessionCreated event.
type SessionCreatedLog struct {
	SessionID     uint64
	Client        common.Address
	Consultant    common.Address
	Amount        *big.Int
	Duration      *big.Int
	ScheduledTime *big.Int
}

// DecodeSessionCreated returns the SessionCreated event in a log, or false
// when the log is some other event.
func DecodeSessionCreated(l *types.Log) (*SessionCreatedLog, bool, error) {
	if l == nil || len(l.Topics) == 0 || l.Topics[0] != sessionCreatedSig {
		return nil, false, nil
	}
	if len(l.Topics) < 4 {
		return nil, true, fmt.Errorf("chain: SessionCreated topics len %d < 4", len(l.Topics))
	}
	var out struct {
		Amount        *big.Int
		Duration      *big.Int
		ScheduledTime *big.Int
	}
	if err := contractABI.UnpackIntoInterface(&out, EventSessionCreated, l.Data); err != nil {
		return nil, true, fmt.Errorf("chain: unpack SessionCreated: %w", err)
	}
	return &SessionCreatedLog{
		SessionID:     new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
		Client:        common.BytesToAddress(l.Topics[2].Bytes()[12:]),
		Consultant:    common.BytesToAddress(l.Topics[3].Bytes()[12:]),
		Amount:        out.Amount,
		Duration:      out.Duration,
		ScheduledTime: out.ScheduledTime,
	}, true, nil
}

// ContractConfig is what the client wallet needs to build the createSession
// transaction.
type ContractConfig struct {
	Address      string          `json:"address"`
	ABI          json.RawMessage `json:"abi"`
	FunctionName string          `json:"functionName"`
	Args         []string        `json:"args"`
	Value        string          `json:"value"`
	ChainID      int64           `json:"chainId"`
	Calldata     string          `json:"calldata,omitempty"`
}

func NewContractConfig(address string, chainID int64, consultantID string, scheduledUnix int64, amountWei *big.Int) (*ContractConfig, error) {
	data, err := PackCreateSession(consultantID, scheduledUnix, amountWei)
	if err != nil {
		return nil, err
	}
	return &ContractConfig{
		Address:      address,
		ABI:          json.RawMessage(ConsultingSessionABI),
		FunctionName: FuncCreateSession,
		Args:         []string{consultantID, big.NewInt(scheduledUnix).String(), amountWei.String()},
		Value:        amountWei.String(),
		ChainID:      chainID,
		Calldata:     "0x" + common.Bytes2Hex(data),
	}, nil
}
