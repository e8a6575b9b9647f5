package main

import (
	"context"
	"log/slog"
	"time"

	"buste/internal/amqp"
	"buste/internal/cli"
	"buste/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting recurring-worker")

	result := cli.OpenStore(logger, cfg)

	var events services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			events = amqpClient
		}
	}

	distributor := services.NewDistributor(result.Store, events)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if amqpClient != nil {
			amqpClient.Close()
		}
		if result.Cleanup != nil {
			result.Cleanup()
		}
	})

	logger.Info("Recurring income processor configured",
		"interval", cfg.RecurringInterval,
		"backend", cfg.DataBackend)

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	// Catch anything already due before the first tick.
	runSweep(ctx, distributor, logger)

	for {
		select {
		case <-ctx.Done():
			cli.WaitForShutdown(ctx, done)
			logger.Info("Recurring-worker stopped gracefully")
			return
		case <-ticker.C:
			runSweep(ctx, distributor, logger)
		}
	}
}

func runSweep(ctx context.Context, distributor *services.Distributor, logger *slog.Logger) {
	processed, err := distributor.ProcessDue(ctx, time.Now())
	if err != nil {
		logger.Error("Recurring sweep failed", "error", err)
		return
	}
	if processed > 0 {
		logger.Info("Processed due recurring templates", "count", processed)
	}
}
