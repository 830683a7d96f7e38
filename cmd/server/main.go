package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/internal/infrastructure/config"
	"github.com/pagewarden/pagewarden/internal/infrastructure/logging"
	"github.com/pagewarden/pagewarden/internal/infrastructure/monitoring"
	"github.com/pagewarden/pagewarden/internal/mediator"
	"github.com/pagewarden/pagewarden/internal/server"
)

func main() {
	// Optional .env for local runs; environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	collector := monitoring.NewCollector()
	metrics := monitoring.NewMetrics()

	opts := []mediator.Option{
		mediator.WithCollector(collector),
		mediator.WithMetrics(metrics),
	}

	var audit *mediator.AuditLog
	if cfg.Audit.Path != "" {
		audit, err = mediator.OpenAuditLog(cfg.Audit.Path, cfg.Audit.Compress)
		if err != nil {
			log.Fatalf("audit log open failed: %v", err)
		}
		defer audit.Close()
		opts = append(opts, mediator.WithAuditLog(audit))
	}

	med, err := mediator.New(cfg, logger, opts...)
	if err != nil {
		log.Fatalf("mediator init failed: %v", err)
	}
	if cfg.Gemini.APIKey == "" {
		logger.Warn("no provider credential configured; reasoner layer disabled")
	}

	srv := server.New(cfg, logger, med, collector, metrics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}
