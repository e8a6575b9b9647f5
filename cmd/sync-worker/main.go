package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"buste/internal/amqp"
	"buste/internal/cli"
	"buste/internal/export"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting sync-worker")

	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("Sync-worker requires GOOGLE_SPREADSHEET_ID")
		os.Exit(1)
	}

	result := cli.OpenStore(logger, cfg)

	writer, err := export.NewSheetsWriter(context.Background(),
		cfg.GoogleSpreadsheetID, cfg.GoogleSheetName,
		cfg.GoogleCredentialsFile, cfg.GoogleCredentialsJSON)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets writer", "error", err)
		os.Exit(1)
	}

	exporter := export.NewExporter(result.Store, writer, cfg.ExportBatchSize)

	// Event-driven export is optional; without a broker the periodic sweep
	// alone keeps the sheet current.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, falling back to periodic sync only", "error", err)
			amqpClient = nil
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if amqpClient != nil {
			amqpClient.Close()
		}
		if result.Cleanup != nil {
			result.Cleanup()
		}
	})

	// Drain anything left over from a previous run before consuming.
	if _, err := exporter.ExportPending(ctx); err != nil {
		logger.Error("Startup export failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.Consume(gctx, func(routingKey string, body []byte) error {
				slog.InfoContext(gctx, "Ledger event received", "routing_key", routingKey)
				_, err := exporter.ExportPending(gctx)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := exporter.ExportPending(gctx); err != nil {
					logger.Error("Periodic export failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Sync-worker failed", "error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Sync-worker stopped gracefully")
}
