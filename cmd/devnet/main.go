package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/askgene/backend/internal/chain"
	"github.com/askgene/backend/internal/config"
	"github.com/askgene/backend/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	state, err := escrow.OpenBadgerState(cfg.DevnetDataDir)
	if err != nil {
		log.Fatal("failed to open devnet state", zap.String("dir", cfg.DevnetDataDir), zap.Error(err))
	}
	defer state.Close()

	engine := escrow.NewEngine(state, common.HexToAddress(cfg.ContractAddress), common.HexToAddress(cfg.PlatformWallet))
	if err := engine.SetFeeBps(uint32(cfg.PlatformFeeBPS)); err != nil {
		log.Fatal("invalid platform fee", zap.Error(err))
	}
	engine.SetEmitter(logEmitter{log: log})

	srv := newServer(chain.NewSimulatedBackend(engine), log)
	app := fiber.New()
	app.Use(recover.New())
	srv.routes(app)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down devnet")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.DevnetPort)
	log.Info("starting devnet", zap.String("addr", addr), zap.String("contract", cfg.ContractAddress))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
