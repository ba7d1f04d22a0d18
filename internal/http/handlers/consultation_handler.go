package handlers

import (
	"context"
	"strings"

	"github.com/askgene/backend/internal/http/dto"
	"github.com/askgene/backend/internal/middleware"
	"github.com/askgene/backend/internal/models"
	"github.com/askgene/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type BookingAPI interface {
	CreateConsultation(ctx context.Context, in services.CreateConsultationInput) (*services.CreateConsultationResult, error)
	ListConsultations(ctx context.Context, in services.ListConsultationsInput) (*services.ConsultationList, error)
	GetConsultation(ctx context.Context, id, caller string) (*models.Consultation, error)
}

type ConsultationHandler struct {
	booking BookingAPI
	log     *zap.Logger
}

func NewConsultationHandler(booking BookingAPI, log *zap.Logger) *ConsultationHandler {
	return &ConsultationHandler{booking: booking, log: log}
}

func (h *ConsultationHandler) CreateConsultation(c *fiber.Ctx) error {
	var req dto.CreateConsultationRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if req.ClientWalletAddress == "" {
		if claims := middleware.GetClaims(c); claims != nil {
			req.ClientWalletAddress = claims.WalletAddress
		}
	}

	res, err := h.booking.CreateConsultation(c.UserContext(), services.CreateConsultationInput{
		ConsultantID:        req.ConsultantID,
		ClientWalletAddress: req.ClientWalletAddress,
		Title:               req.Title,
		Description:         req.Description,
		ScheduledFor:        req.ScheduledFor,
		DurationHours:       req.DurationHours,
		HourlyRate:          req.HourlyRate,
		Currency:            req.Currency,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.ConsultationResponse{
		Success:      true,
		Consultation: res.Consultation,
		Consultant:   dto.NewConsultantSummary(res.Consultant),
	})
}

func (h *ConsultationHandler) ListConsultations(c *fiber.Ctx) error {
	wallet := c.Query("wallet_address")
	if claims := middleware.GetClaims(c); claims != nil && claims.WalletAddress != "" {
		if wallet == "" {
			wallet = claims.WalletAddress
		} else if !strings.EqualFold(wallet, claims.WalletAddress) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: "wallet_address does not belong to the caller",
				Code:  "FORBIDDEN",
			})
		}
	}

	list, err := h.booking.ListConsultations(c.UserContext(), services.ListConsultationsInput{
		ClientWalletAddress: wallet,
		Status:              c.Query("status"),
		Limit:               c.QueryInt("limit", 0),
		Offset:              c.QueryInt("offset", 0),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.ConsultationListResponse{
		Success:       true,
		Consultations: list.Items,
		Stats:         list.Stats,
		Pagination:    dto.Pagination{Limit: list.Limit, Offset: list.Offset},
	})
}

func (h *ConsultationHandler) GetConsultation(c *fiber.Ctx) error {
	consultation, err := h.booking.GetConsultation(c.UserContext(), c.Params("id"), caller(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.ConsultationResponse{Success: true, Consultation: consultation})
}
