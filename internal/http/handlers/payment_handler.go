package handlers

import (
	"context"
	"errors"

	"github.com/askgene/backend/internal/http/dto"
	"github.com/askgene/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type CardPaymentAPI interface {
	CreatePaymentIntent(ctx context.Context, in services.CreateIntentInput) (*services.CreateIntentResult, error)
}

type WebhookAPI interface {
	HandleStripe(ctx context.Context, payload []byte, signature string) (*services.WebhookResult, error)
}

type PaymentHandler struct {
	card     CardPaymentAPI
	webhooks WebhookAPI
	log      *zap.Logger
}

func NewPaymentHandler(card CardPaymentAPI, webhooks WebhookAPI, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{card: card, webhooks: webhooks, log: log}
}

func (h *PaymentHandler) CreatePaymentIntent(c *fiber.Ctx) error {
	var req dto.CreatePaymentIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	res, err := h.card.CreatePaymentIntent(c.UserContext(), services.CreateIntentInput{
		ConsultationID:  req.ConsultationID,
		AmountCents:     req.Amount,
		Currency:        req.Currency,
		ConsultantID:    req.ConsultantID,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		ScheduledTime:   req.ScheduledTime,
		SessionDuration: req.SessionDuration,
		Caller:          caller(c),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.PaymentIntentResponse{
		Success:         true,
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		TransactionID:   res.TransactionID,
		Amount:          res.AmountCents,
		Currency:        res.Currency,
		Status:          res.Status,
		Livemode:        res.Livemode,
	})
}

// StripeWebhook needs the untouched request body; it must not sit behind a
// body-rewriting middleware.
func (h *PaymentHandler) StripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	res, err := h.webhooks.HandleStripe(c.UserContext(), payload, c.Get("Stripe-Signature"))
	if err != nil {
		var se *services.Error
		if errors.As(err, &se) {
			return respondError(c, h.log, err)
		}
		// acknowledged anyway: the provider would only redeliver
		h.log.Error("webhook handling failed", zap.Error(err))
		return c.JSON(dto.WebhookAck{Received: true})
	}
	return c.JSON(dto.WebhookAck{Received: true, Outcome: res.Outcome})
}
