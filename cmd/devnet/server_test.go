package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	vault      = common.HexToAddress("0x4dF00c67bB55295347f4e3BA9634ffF8270E9EDe")
	platform   = common.HexToAddress("0x9999999999999999999999999999999999999999")
	client     = "0x1111111111111111111111111111111111111111"
	consultant = "0x2222222222222222222222222222222222222222"
)

func newDevnet(t *testing.T) (*fiber.App, *server) {
	t.Helper()
	engine := escrow.NewEngine(escrow.NewMemoryState(), vault, platform)
	srv := newServer(chain.NewSimulatedBackend(engine), zap.NewNop())
	app := fiber.New()
	srv.routes(app)
	return app, srv
}

func call(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func openSession(t *testing.T, app *fiber.App) (string, string) {
	t.Helper()
	status, _ := call(t, app, "POST", "/accounts/"+client+"/fund", map[string]any{"amount": "1000"})
	require.Equal(t, fiber.StatusOK, status)

	status, body := call(t, app, "POST", "/sessions", map[string]any{
		"from":            client,
		"consultant":      consultant,
		"consultantId":    "c-1",
		"scheduledTime":   time.Now().Add(time.Hour).Unix(),
		"durationMinutes": 60,
		"amount":          "1000",
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	session := body["session"].(map[string]any)
	id := strconv.FormatFloat(session["id"].(float64), 'f', 0, 64)
	return id, body["tx_hash"].(string)
}

func TestSessionLifecycle(t *testing.T) {
	app, _ := newDevnet(t)
	id, _ := openSession(t, app)

	_, body := call(t, app, "GET", "/contract/balance", nil)
	require.Equal(t, "1000", body["balance"])

	status, body := call(t, app, "POST", "/sessions/"+id+"/confirm", map[string]any{"from": client})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, escrow.ErrNotConsultant.Error(), body["error"])
	require.Equal(t, "Only the consultant of this session can confirm it.", body["message"])

	status, _ = call(t, app, "POST", "/sessions/"+id+"/confirm", map[string]any{"from": consultant})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = call(t, app, "POST", "/sessions/"+id+"/release", map[string]any{"from": consultant})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body = call(t, app, "POST", "/sessions/"+id+"/release", map[string]any{"from": client})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, float64(escrow.StatusCompleted), body["session"].(map[string]any)["status"])

	_, body = call(t, app, "GET", "/accounts/"+consultant, nil)
	require.Equal(t, "950", body["balance"])
	_, body = call(t, app, "GET", "/accounts/"+platform.Hex(), nil)
	require.Equal(t, "50", body["balance"])

	status, _ = call(t, app, "POST", "/sessions/"+id+"/refund", map[string]any{"from": client})
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestRefundAfterTimeAdvance(t *testing.T) {
	app, _ := newDevnet(t)
	id, _ := openSession(t, app)

	status, _ := call(t, app, "POST", "/sessions/"+id+"/refund", map[string]any{"from": client})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = call(t, app, "POST", "/time/advance", map[string]any{"seconds": int64((25 * time.Hour).Seconds())})
	require.Equal(t, fiber.StatusOK, status)

	status, body := call(t, app, "POST", "/sessions/"+id+"/refund", map[string]any{"from": client})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, float64(escrow.StatusRefunded), body["session"].(map[string]any)["status"])

	_, body = call(t, app, "GET", "/accounts/"+client, nil)
	require.Equal(t, "1000", body["balance"])
}

func TestUnknownSessionAndTx(t *testing.T) {
	app, _ := newDevnet(t)

	status, _ := call(t, app, "GET", "/sessions/42", nil)
	require.Equal(t, fiber.StatusNotFound, status)

	status, _ = call(t, app, "GET", "/tx/0x"+string(bytes.Repeat([]byte("a"), 64)), nil)
	require.Equal(t, fiber.StatusNotFound, status)

	status, _ = call(t, app, "GET", "/tx/0x12", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestDevnetClientReadsReceipts(t *testing.T) {
	app, _ := newDevnet(t)
	_, hash := openSession(t, app)
	call(t, app, "POST", "/mine", map[string]any{"blocks": 2})

	ts := httptest.NewServer(adaptor.FiberApp(app))
	defer ts.Close()
	dc := chain.NewDevnetClient(ts.URL, zap.NewNop())

	rcpt, err := dc.Receipt(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, rcpt.Found)
	require.True(t, rcpt.Success)
	require.Equal(t, uint64(3), rcpt.Confirmations)
	require.Equal(t, uint64(1), rcpt.SessionID)

	bal, err := dc.ContractBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())

	missing, err := dc.Receipt(context.Background(), "0x"+string(bytes.Repeat([]byte("b"), 64)))
	require.NoError(t, err)
	require.False(t, missing.Found)
}

func TestRawTransactions(t *testing.T) {
	app, _ := newDevnet(t)
	status, _ := call(t, app, "POST", "/accounts/"+client+"/fund", map[string]any{"amount": "2000"})
	require.Equal(t, fiber.StatusOK, status)

	create, err := chain.PackCreateSession("c-raw", time.Now().Add(time.Hour).Unix(), big.NewInt(2000))
	require.NoError(t, err)
	status, body := call(t, app, "POST", "/tx", map[string]any{
		"from":            client,
		"data":            hexutil.Encode(create),
		"consultant":      consultant,
		"durationMinutes": 30,
	})
	require.Equal(t, fiber.StatusCreated, status, body)
	require.Equal(t, chain.FuncCreateSession, body["method"])
	session := body["session"].(map[string]any)
	require.Equal(t, "c-raw", session["consultant_id"])
	id := uint64(session["id"].(float64))

	confirm, err := chain.ContractABI().Pack(chain.FuncConfirmSession, new(big.Int).SetUint64(id))
	require.NoError(t, err)
	status, body = call(t, app, "POST", "/tx", map[string]any{"from": client, "data": hexutil.Encode(confirm)})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Equal(t, "Only the consultant of this session can confirm it.", body["message"])

	status, rcpt := call(t, app, "GET", "/tx/"+body["tx_hash"].(string), nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, false, rcpt["success"])
	require.Equal(t, escrow.ErrNotConsultant.Error(), rcpt["revert_reason"])

	status, body = call(t, app, "POST", "/tx", map[string]any{"from": consultant, "data": hexutil.Encode(confirm)})
	require.Equal(t, fiber.StatusOK, status, body)
	require.Equal(t, chain.FuncConfirmSession, body["method"])

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad from", map[string]any{"from": "nope", "data": hexutil.Encode(confirm)}},
		{"bad hex", map[string]any{"from": client, "data": "zz"}},
		{"unknown selector", map[string]any{"from": client, "data": "0xdeadbeef"}},
		{"create without consultant", map[string]any{"from": client, "data": hexutil.Encode(create)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := call(t, app, "POST", "/tx", tt.body)
			require.Equal(t, fiber.StatusBadRequest, status)
		})
	}
}
