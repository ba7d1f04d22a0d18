package handlers

import (
	"context"

	"github.com/askgene/backend/internal/http/dto"
	"github.com/askgene/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EscrowAPI interface {
	OpenSession(ctx context.Context, in services.OpenSessionInput) (*services.OpenSessionResult, error)
	UpdateTransaction(ctx context.Context, in services.UpdateTransactionInput) (*services.TransactionSnapshot, error)
}

type EscrowHandler struct {
	escrow EscrowAPI
	log    *zap.Logger
}

func NewEscrowHandler(escrow EscrowAPI, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrow: escrow, log: log}
}

func (h *EscrowHandler) CreateSession(c *fiber.Ctx) error {
	var req dto.CreateEscrowSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	res, err := h.escrow.OpenSession(c.UserContext(), services.OpenSessionInput{
		ConsultationID:  req.ConsultationID,
		ConsultantID:    req.ConsultantID,
		ScheduledTime:   req.ScheduledTime,
		Amount:          req.Amount,
		CustomerAddress: req.CustomerAddress,
		CustomerEmail:   req.CustomerEmail,
		SessionDuration: req.SessionDuration,
		Caller:          caller(c),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	out := dto.EscrowSessionResponse{
		Success:           true,
		ConsultationID:    res.Consultation.ID.String(),
		ContractAddress:   res.ContractAddress,
		ContractSessionID: res.CorrelationID,
		Amount:            res.Amount,
		CryptoAmount:      res.AmountWei,
		Currency:          res.Currency,
		Network:           res.Network,
		ContractConfig:    res.ContractConfig,
	}
	if res.PaymentRecord != nil {
		out.PaymentRecordID = res.PaymentRecord.ID.String()
	}
	if res.CryptoTransaction != nil {
		out.CryptoTransactionID = res.CryptoTransaction.ID.String()
	}
	return c.JSON(out)
}

func (h *EscrowHandler) UpdateTransaction(c *fiber.Ctx) error {
	var req dto.UpdateTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	snap, err := h.escrow.UpdateTransaction(c.UserContext(), services.UpdateTransactionInput{
		ConsultationID:    req.ConsultationID,
		TransactionHash:   req.TransactionHash,
		ContractSessionID: req.ContractSessionID,
		Status:            req.Status,
		Caller:            caller(c),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.TransactionUpdateResponse{
		Success:            true,
		Unchanged:          snap.Unchanged,
		Consultation:       snap.Consultation,
		PaymentRecords:     snap.PaymentRecords,
		CryptoTransactions: snap.CryptoTransactions,
	})
}
