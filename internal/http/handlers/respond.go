package handlers

import (
	"github.com/askgene/backend/internal/http/dto"
	"github.com/askgene/backend/internal/middleware"
	"github.com/askgene/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError writes a service failure as the typed error body. Server-side
// failures are logged with their cause; the cause is never sent to the client.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	se := services.AsError(err)
	reqID := middleware.RequestID(c)
	if se.Status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.String("code", se.Code),
			zap.Error(err))
	}
	return c.Status(se.Status).JSON(dto.ErrorResponse{
		Error:     se.Message,
		Code:      se.Code,
		Details:   se.Details,
		RequestID: reqID,
	})
}

// caller identifies the authenticated user for ownership checks: the wallet
// when the token carries one, otherwise the subject. Anonymous requests get "".
func caller(c *fiber.Ctx) string {
	if claims := middleware.GetClaims(c); claims != nil {
		return claims.Audience()
	}
	return ""
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: "invalid request body",
		Code:  "INVALID_BODY",
	})
}
