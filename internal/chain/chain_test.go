package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askgene/backend/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPackCreateSessionDecodes(t *testing.T) {
	amount := big.NewInt(150_000_000_000_000_000)
	data, err := PackCreateSession("c0ffee-consultant", 1_800_000_000, amount)
	require.NoError(t, err)

	parsed := ContractABI()
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, FuncCreateSession, method.Name)

	args, err := UnpackCreateSession(data)
	require.NoError(t, err)
	require.Equal(t, "c0ffee-consultant", args.ConsultantID)
	require.Equal(t, int64(1_800_000_000), args.ScheduledTime.Int64())
	require.Equal(t, 0, args.Amount.Cmp(amount))
}

func TestPackCreateSessionRejectsZero(t *testing.T) {
	_, err := PackCreateSession("c", 1, big.NewInt(0))
	require.Error(t, err)
	_, err = PackCreateSession("c", 1, nil)
	require.Error(t, err)
}

func TestUnpackSessionCall(t *testing.T) {
	for _, m := range []string{FuncConfirmSession, FuncRefund, FuncConfirmCompletion, FuncReleasePayment} {
		data, err := ContractABI().Pack(m, big.NewInt(7))
		require.NoError(t, err, m)

		name, id, err := UnpackSessionCall(data)
		require.NoError(t, err, m)
		require.Equal(t, m, name)
		require.Equal(t, uint64(7), id)
	}

	create, err := PackCreateSession("c", 1, big.NewInt(1))
	require.NoError(t, err)
	_, _, err = UnpackSessionCall(create)
	require.Error(t, err)

	_, err = UnpackCreateSession(create[:4])
	require.Error(t, err)
	_, _, err = UnpackSessionCall([]byte{0x01})
	require.Error(t, err)

	huge, err := ContractABI().Pack(FuncRefund, new(big.Int).Lsh(big.NewInt(1), 70))
	require.NoError(t, err)
	_, _, err = UnpackSessionCall(huge)
	require.Error(t, err)
}

func TestDecodeSessionCreated(t *testing.T) {
	event := ContractABI().Events[EventSessionCreated]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1e17), big.NewInt(60), big.NewInt(1_800_000_000))
	require.NoError(t, err)

	client := common.HexToAddress("0x1111111111111111111111111111111111111111")
	consultant := common.HexToAddress("0x2222222222222222222222222222222222222222")
	l := &types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(42)),
			common.BytesToHash(client.Bytes()),
			common.BytesToHash(consultant.Bytes()),
		},
		Data: data,
	}

	got, ok, err := DecodeSessionCreated(l)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got.SessionID)
	require.Equal(t, client, got.Client)
	require.Equal(t, consultant, got.Consultant)
	require.Equal(t, int64(1e17), got.Amount.Int64())
	require.Equal(t, int64(60), got.Duration.Int64())

	other := &types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}
	_, ok, err = DecodeSessionCreated(other)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionCreatedSignatureMatchesABI(t *testing.T) {
	require.Equal(t, ContractABI().Events[EventSessionCreated].ID, sessionCreatedSig)
}

func TestNewContractConfig(t *testing.T) {
	wei := big.NewInt(1_500_000_000_000_000_000)
	cfg, err := NewContractConfig("0x4dF00c67bB55295347f4e3BA9634ffF8270E9EDe", 80002, "cons-1", 1_800_000_000, wei)
	require.NoError(t, err)
	require.Equal(t, FuncCreateSession, cfg.FunctionName)
	require.Equal(t, []string{"cons-1", "1800000000", "1500000000000000000"}, cfg.Args)
	require.Equal(t, "1500000000000000000", cfg.Value)
	require.True(t, strings.HasPrefix(cfg.Calldata, "0x"))
}

func TestToWei(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"0.1", "100000000000000000", false},
		{"150", "150000000000000000000", false},
		{"1.0000000000000000019", "1000000000000000001", false},
		{"0", "", true},
		{"-1", "", true},
		{"0.0000000000000000001", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToWei(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	require.Equal(t, "0.1", FormatEther(big.NewInt(1e17)))
	require.Equal(t, "0", FormatEther(nil))
}

func TestRevertMessage(t *testing.T) {
	require.Equal(t, "Only the consultant of this session can confirm it.", RevertMessage(escrow.ErrNotConsultant))
	wrapped := fmt.Errorf("call: %w", escrow.ErrRefundNotEligible)
	require.Equal(t, "This session is not eligible for a refund yet.", RevertMessage(wrapped))
	rpc := errors.New("execution reverted: Not the session consultant")
	require.Equal(t, "Only the consultant of this session can confirm it.", RevertMessage(rpc))
	require.Equal(t, "The transaction was reverted by the escrow contract.", RevertMessage(errors.New("execution reverted")))
	require.Empty(t, RevertMessage(nil))
}

func TestReceiptFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		rcpt *Receipt
		want string
	}{
		{"nil", nil, ""},
		{"not found", &Receipt{}, ""},
		{"success", &Receipt{Found: true, Success: true}, ""},
		{"no reason", &Receipt{Found: true}, "The transaction was reverted by the escrow contract."},
		{"known reason", &Receipt{Found: true, RevertReason: "execution reverted: Session already settled"}, "This session has already been paid out or refunded."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.rcpt.FailureMessage())
		})
	}
}

func TestIsTxHash(t *testing.T) {
	require.True(t, IsTxHash("0x"+strings.Repeat("ab", 32)))
	require.False(t, IsTxHash("0x1234"))
	require.False(t, IsTxHash("pending_escrow_1_abc"))
}

func newSimulated(t *testing.T) (*SimulatedBackend, common.Address, common.Address) {
	t.Helper()
	vault := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	platform := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	client := common.HexToAddress("0x0000000000000000000000000000000000000001")
	consultant := common.HexToAddress("0x0000000000000000000000000000000000000002")
	engine := escrow.NewEngine(escrow.NewMemoryState(), vault, platform)
	_, err := engine.Credit(client, big.NewInt(1e18))
	require.NoError(t, err)
	return NewSimulatedBackend(engine), client, consultant
}

func TestSimulatedBackendReceipts(t *testing.T) {
	b, client, consultant := newSimulated(t)
	ctx := context.Background()
	amount := big.NewInt(1e17)

	hash, s, err := b.CreateSession(escrow.CreateParams{
		Client: client, Consultant: consultant,
		ScheduledTime: b.Engine().Now() + 3600,
		Amount:        amount, Value: amount,
	})
	require.NoError(t, err)

	rcpt, err := b.Receipt(ctx, hash.Hex())
	require.NoError(t, err)
	require.True(t, rcpt.Found)
	require.True(t, rcpt.Success)
	require.Equal(t, s.ID, rcpt.SessionID)
	require.Equal(t, uint64(1), rcpt.Confirmations)

	b.Mine(2)
	rcpt, err = b.Receipt(ctx, hash.Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(3), rcpt.Confirmations)

	bal, err := b.ContractBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Cmp(amount))

	badHash, _, err := b.Call(FuncConfirmSession, s.ID, client)
	require.ErrorIs(t, err, escrow.ErrNotConsultant)
	rcpt, err = b.Receipt(ctx, badHash.Hex())
	require.NoError(t, err)
	require.True(t, rcpt.Found)
	require.False(t, rcpt.Success)
	require.Equal(t, escrow.ErrNotConsultant.Error(), rcpt.RevertReason)
	require.Equal(t, "Only the consultant of this session can confirm it.", rcpt.FailureMessage())

	missing, err := b.Receipt(ctx, "0x"+strings.Repeat("00", 32))
	require.NoError(t, err)
	require.False(t, missing.Found)
}

func TestDevnetClient(t *testing.T) {
	known := "0x" + strings.Repeat("cd", 32)
	failed := "0x" + strings.Repeat("ab", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contract/balance":
			_, _ = w.Write([]byte(`{"balance":"300000000000000000"}`))
		case "/tx/" + known:
			_, _ = w.Write([]byte(`{"success":true,"block_number":12,"confirmations":3,"session_id":5}`))
		case "/tx/" + failed:
			_, _ = w.Write([]byte(`{"success":false,"block_number":13,"confirmations":1,"revert_reason":"Refund not eligible"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewDevnetClient(srv.URL+"/", zap.NewNop())
	ctx := context.Background()

	bal, err := c.ContractBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, "300000000000000000", bal.String())

	rcpt, err := c.Receipt(ctx, known)
	require.NoError(t, err)
	require.True(t, rcpt.Found)
	require.Equal(t, uint64(5), rcpt.SessionID)
	require.Equal(t, uint64(3), rcpt.Confirmations)

	rcpt, err = c.Receipt(ctx, failed)
	require.NoError(t, err)
	require.False(t, rcpt.Success)
	require.Equal(t, "Refund not eligible", rcpt.RevertReason)
	require.Equal(t, "This session is not eligible for a refund yet.", rcpt.FailureMessage())

	rcpt, err = c.Receipt(ctx, "0x"+strings.Repeat("ef", 32))
	require.NoError(t, err)
	require.False(t, rcpt.Found)

	_, err = c.Receipt(ctx, "nope")
	require.Error(t, err)
}
