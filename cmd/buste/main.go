package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"buste/internal/amqp"
	"buste/internal/cli"
	apphttp "buste/internal/http"
	"buste/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting buste server")

	result := cli.OpenStore(logger, cfg)
	store := result.Store

	// Event publishing is optional; without a broker approvals are log-only.
	var events services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			events = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - approval events will not be published")
	}

	matcher := services.NewRuleMatcher(store)
	ledger := services.NewLedgerService(store, matcher, events)
	distributor := services.NewDistributor(store, events)

	srv := apphttp.NewServer(":"+cfg.Port, store, ledger, distributor, matcher)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if amqpClient != nil {
			amqpClient.Close()
		}
		if result.Cleanup != nil {
			result.Cleanup()
		}
	})

	logger.Info("Server listening", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err, "port", cfg.Port)
		return
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
