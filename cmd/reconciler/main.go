package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/db"
	"github.com/askgene/backend/internal/events"
	"github.com/askgene/backend/internal/metrics"
	"github.com/askgene/backend/internal/repositories"
	"github.com/askgene/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	backend, closeChain, err := chain.Connect(ctx, cfg.Simulated(), cfg.ChainRPCURL, cfg.ContractAddress, log)
	if err != nil {
		log.Fatal("failed to connect to chain", zap.Error(err))
	}
	defer closeChain()

	// Repos
	consultationRepo := repositories.NewConsultationRepo(pool)
	paymentRecordRepo := repositories.NewPaymentRecordRepo(pool)
	cryptoTxRepo := repositories.NewCryptoTxRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)
	reconciler := services.NewReconciler(consultationRepo, paymentRecordRepo, cryptoTxRepo, backend,
		auditRepo, publisher, metrics.Default(), cfg, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down reconciler")
		cancel()
	}()

	log.Info("reconciler started",
		zap.Duration("receipt_interval", cfg.ReceiptInterval),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Int("confirmations", cfg.ChainConfirmations))
	reconciler.Run(ctx)
}
