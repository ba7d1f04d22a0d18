package main

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// server exposes the simulated escrow contract over JSON. The clock can be
// moved forward to exercise the refund and release windows.
type server struct {
	backend *chain.SimulatedBackend
	offset  atomic.Int64 // seconds added to wall time
	log     *zap.Logger
}

func newServer(backend *chain.SimulatedBackend, log *zap.Logger) *server {
	s := &server{backend: backend, log: log}
	backend.Engine().SetNowFunc(func() int64 {
		return time.Now().Unix() + s.offset.Load()
	})
	return s
}

type logEmitter struct{ log *zap.Logger }

func (e logEmitter) Emit(ev escrow.Event) {
	fields := []zap.Field{zap.String("type", ev.Type), zap.Uint64("session_id", ev.SessionID)}
	for k, v := range ev.Attributes {
		fields = append(fields, zap.String(k, v))
	}
	e.log.Info("contract event", fields...)
}

func (s *server) routes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "now": s.backend.Engine().Now()})
	})
	app.Post("/sessions", s.createSession)
	app.Get("/sessions/:id", s.getSession)
	app.Post("/sessions/:id/confirm", s.sessionCall(chain.FuncConfirmSession))
	app.Post("/sessions/:id/refund", s.sessionCall(chain.FuncRefund))
	app.Post("/sessions/:id/release", s.sessionCall(chain.FuncReleasePayment))
	app.Post("/accounts/:address/fund", s.fund)
	app.Get("/accounts/:address", s.balance)
	app.Post("/time/advance", s.advance)
	app.Post("/mine", s.mine)
	app.Get("/contract/balance", s.contractBalance)
	app.Post("/tx", s.sendTransaction)
	app.Get("/tx/:hash", s.receipt)
}

func reverted(c *fiber.Ctx, hash common.Hash, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   err.Error(),
		"message": chain.RevertMessage(err),
		"tx_hash": hash.Hex(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

type createSessionRequest struct {
	From            string `json:"from"`
	Consultant      string `json:"consultant"`
	ConsultantID    string `json:"consultantId"`
	ScheduledTime   int64  `json:"scheduledTime"`
	DurationMinutes uint64 `json:"durationMinutes"`
	Amount          string `json:"amount"` // wei
	Value           string `json:"value"`  // wei, defaults to amount
}

func (s *server) createSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !common.IsHexAddress(req.From) || !common.IsHexAddress(req.Consultant) {
		return badRequest(c, "from and consultant must be addresses")
	}
	amount, err := chain.ParseWei(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	value := amount
	if req.Value != "" {
		if value, err = chain.ParseWei(req.Value); err != nil {
			return badRequest(c, err.Error())
		}
	}

	hash, session, err := s.backend.CreateSession(escrow.CreateParams{
		Client:          common.HexToAddress(req.From),
		Consultant:      common.HexToAddress(req.Consultant),
		ConsultantID:    req.ConsultantID,
		DurationMinutes: req.DurationMinutes,
		ScheduledTime:   req.ScheduledTime,
		Amount:          amount,
		Value:           value,
	})
	if err != nil {
		return reverted(c, hash, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"tx_hash": hash.Hex(), "session": session})
}

func sessionID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("id"), 10, 64)
}

func (s *server) getSession(c *fiber.Ctx) error {
	id, err := sessionID(c)
	if err != nil {
		return badRequest(c, "invalid session id")
	}
	session, err := s.backend.Engine().Session(id)
	if errors.Is(err, escrow.ErrSessionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return err
	}
	return c.JSON(session)
}

type callerRequest struct {
	From string `json:"from"`
}

func (s *server) sessionCall(method string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := sessionID(c)
		if err != nil {
			return badRequest(c, "invalid session id")
		}
		var req callerRequest
		if err := c.BodyParser(&req); err != nil || !common.IsHexAddress(req.From) {
			return badRequest(c, "from must be an address")
		}
		hash, session, err := s.backend.Call(method, id, common.HexToAddress(req.From))
		if err != nil {
			return reverted(c, hash, err)
		}
		return c.JSON(fiber.Map{"tx_hash": hash.Hex(), "session": session})
	}
}

// txRequest is a raw contract call as a wallet would sign it. The consultant
// address and duration are not part of createSession calldata and ride along
// separately.
type txRequest struct {
	From            string `json:"from"`
	Data            string `json:"data"`  // 0x calldata
	Value           string `json:"value"` // wei
	Consultant      string `json:"consultant"`
	DurationMinutes uint64 `json:"durationMinutes"`
}

func (s *server) sendTransaction(c *fiber.Ctx) error {
	var req txRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if !common.IsHexAddress(req.From) {
		return badRequest(c, "from must be an address")
	}
	data, err := hexutil.Decode(req.Data)
	if err != nil {
		return badRequest(c, "data must be 0x-prefixed hex")
	}
	method, err := chain.CallMethod(data)
	if err != nil {
		return badRequest(c, err.Error())
	}
	from := common.HexToAddress(req.From)

	if method != chain.FuncCreateSession {
		name, id, err := chain.UnpackSessionCall(data)
		if err != nil {
			return badRequest(c, err.Error())
		}
		hash, session, err := s.backend.Call(name, id, from)
		if err != nil {
			return reverted(c, hash, err)
		}
		return c.JSON(fiber.Map{"tx_hash": hash.Hex(), "method": name, "session": session})
	}

	args, err := chain.UnpackCreateSession(data)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if !common.IsHexAddress(req.Consultant) {
		return badRequest(c, "consultant must be an address")
	}
	if !args.ScheduledTime.IsInt64() {
		return badRequest(c, "scheduled time out of range")
	}
	value := args.Amount
	if req.Value != "" {
		if value, err = chain.ParseWei(req.Value); err != nil {
			return badRequest(c, err.Error())
		}
	}
	hash, session, err := s.backend.CreateSession(escrow.CreateParams{
		Client:          from,
		Consultant:      common.HexToAddress(req.Consultant),
		ConsultantID:    args.ConsultantID,
		DurationMinutes: req.DurationMinutes,
		ScheduledTime:   args.ScheduledTime.Int64(),
		Amount:          args.Amount,
		Value:           value,
	})
	if err != nil {
		return reverted(c, hash, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"tx_hash": hash.Hex(), "method": method, "session": session})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (s *server) fund(c *fiber.Ctx) error {
	addr := c.Params("address")
	if !common.IsHexAddress(addr) {
		return badRequest(c, "invalid address")
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := chain.ParseWei(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	bal, err := s.backend.Engine().Credit(common.HexToAddress(addr), amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(fiber.Map{"address": addr, "balance": bal.String()})
}

func (s *server) balance(c *fiber.Ctx) error {
	addr := c.Params("address")
	if !common.IsHexAddress(addr) {
		return badRequest(c, "invalid address")
	}
	bal, err := s.backend.Engine().Balance(common.HexToAddress(addr))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"address": addr, "balance": bal.String()})
}

type advanceRequest struct {
	Seconds int64 `json:"seconds"`
}

func (s *server) advance(c *fiber.Ctx) error {
	var req advanceRequest
	if err := c.BodyParser(&req); err != nil || req.Seconds <= 0 {
		return badRequest(c, "seconds must be positive")
	}
	s.offset.Add(req.Seconds)
	return c.JSON(fiber.Map{"now": s.backend.Engine().Now()})
}

type mineRequest struct {
	Blocks uint64 `json:"blocks"`
}

func (s *server) mine(c *fiber.Ctx) error {
	var req mineRequest
	if err := c.BodyParser(&req); err != nil || req.Blocks == 0 {
		req.Blocks = 1
	}
	return c.JSON(fiber.Map{"block": s.backend.Mine(req.Blocks)})
}

func (s *server) contractBalance(c *fiber.Ctx) error {
	bal, err := s.backend.ContractBalance(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"balance": bal.String()})
}

func (s *server) receipt(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !chain.IsTxHash(hash) {
		return badRequest(c, "invalid transaction hash")
	}
	rcpt, err := s.backend.Receipt(c.UserContext(), hash)
	if err != nil {
		return err
	}
	if !rcpt.Found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "transaction not found"})
	}
	return c.JSON(rcpt)
}
