package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/events"
	apphttp "github.com/askgene/backend/internal/http"
	"github.com/askgene/backend/internal/http/handlers"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/payments"
	"github.com/askgene/backend/internal/repositories"
	"github.com/askgene/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, os.DirFS("migrations"), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Chain
	backend, closeChain, err := chain.Connect(ctx, cfg.Simulated(), cfg.ChainRPCURL, cfg.ContractAddress, log)
	if err != nil {
		log.Fatal("failed to connect to chain", zap.Error(err))
	}
	defer closeChain()

	// Repositories
	consultantRepo := repositories.NewConsultantRepo(pool)
	consultationRepo := repositories.NewConsultationRepo(pool)
	paymentRecordRepo := repositories.NewPaymentRecordRepo(pool)
	cryptoTxRepo := repositories.NewCryptoTxRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	claims := repositories.NewWebhookClaims(rdb, cfg.WebhookDedupeTTL)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	m := metrics.Default()

	// Services
	bookingService := services.NewBookingService(consultantRepo, consultationRepo, auditRepo, publisher, m, cfg, log)
	escrowService := services.NewEscrowService(consultantRepo, consultationRepo, paymentRecordRepo, cryptoTxRepo, backend, auditRepo, publisher, m, cfg, log)
	cardService := services.NewCardPaymentService(consultationRepo, payments.NewStripeClient(cfg.StripeSecretKey), auditRepo, publisher, m, log)
	webhookService := services.NewWebhookService(payments.NewStripeWebhookVerifier(cfg.StripeWebhookSecret), claims,
		consultationRepo, paymentRecordRepo, auditRepo, publisher, m, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	h := apphttp.Handlers{
		Consultations: handlers.NewConsultationHandler(bookingService, log),
		Escrow:        handlers.NewEscrowHandler(escrowService, log),
		Payments:      handlers.NewPaymentHandler(cardService, webhookService, log),
		WSHub:         wsHub,
	}

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Error("websocket hub not subscribed", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error(), "code": "HTTP_ERROR"})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
