package http

import (
	"time"

	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/http/handlers"
	"github.com/askgene/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Consultations *handlers.ConsultationHandler
	Escrow        *handlers.EscrowHandler
	Payments      *handlers.PaymentHandler
	WSHub         *handlers.WSHub
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	// Provider webhooks: signature-gated, no auth, no rate limit
	api.Post("/webhooks/stripe", h.Payments.StripeWebhook)

	limited := api.Group("", middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))
	protected := limited.Group("", middleware.AuthMiddleware(cfg, log))

	// Consultations
	protected.Post("/consultations", h.Consultations.CreateConsultation)
	protected.Get("/consultations", h.Consultations.ListConsultations)
	protected.Get("/consultations/:id", h.Consultations.GetConsultation)

	// Crypto escrow
	protected.Post("/escrow/create-session", h.Escrow.CreateSession)
	protected.Post("/escrow/update-transaction", h.Escrow.UpdateTransaction)

	// Card payments
	protected.Post("/stripe/create-payment-intent", h.Payments.CreatePaymentIntent)

	// WebSocket
	if h.WSHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WSHub.HandleWS))
	}
}
