package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"envelope/internal/amqp"
	"envelope/internal/config"
	"envelope/internal/export"
	expgoogle "envelope/internal/export/google"
	applog "envelope/internal/log"
	"envelope/internal/recalc"
	"envelope/internal/services"
	"envelope/internal/storage"
	"envelope/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logCfg := applog.DefaultConfig()
	logCfg.Component = applog.ComponentWorker
	logger := applog.New(logCfg)
	slog.SetDefault(logger.Logger)

	logger.Info("Starting envelope-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// The worker always runs against the durable backend.
	store, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot export to Google Sheets is optional.
	var exporter export.SnapshotWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := expgoogle.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Snapshot export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	orch := recalc.New(store,
		recalc.WithBatchSize(cfg.RecalcBatchSize),
		recalc.WithFetchConcurrency(cfg.FetchConcurrency))
	// The worker is the recalculation sink; it never republishes, so no
	// AMQP client goes into the service.
	service := services.NewBudgetService(store, nil, orch, cfg.CacheTTL)

	recalcWorker := worker.NewRecalcWorker(service, exporter)

	go func() {
		if err := amqpClient.ConsumeRecalculationRequests(ctx, recalcWorker.HandleRecalcMessage); err != nil {
			if err != context.Canceled {
				logger.Error("Message consumption failed", "error", err)
			}
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", "signal", sig.String())
		cancel()
	case <-ctx.Done():
	}
}
