package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logship/internal/api"
	"logship/internal/api/handlers"
	"logship/internal/banner"
	"logship/internal/config"
	"logship/internal/database"
	"logship/internal/database/repositories"
	"logship/internal/ingest"
	"logship/internal/realtime"
	"logship/internal/workqueue"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

func main() {
	// Initialize logger with INFO level for production as a sensible default
	// We'll reconfigure the level after loading the configuration (LOG_LEVEL)
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	// Print banner
	banner.Print("Server")

	logger.Info("Initializing Logship ingestion server...")

	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	logger = pterm.DefaultLogger.WithLevel(parseLogLevel(cfg.LogLevel))
	logger.Debug("Log level set", logger.Args("level", cfg.LogLevel))

	logger.Debug("Configuration loaded",
		logger.Args(
			"db_path", cfg.Database.Path,
			"server_port", cfg.Server.Port,
			"queue_poll_interval", cfg.WorkQueue.PollInterval.String(),
		))

	// Initialize database connection with configured settings
	db, err := database.NewConnection(&database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
	}, logger)
	if err != nil {
		logger.WithCaller().Fatal("Failed to connect to database", logger.Args("error", err))
	}

	// Initialize repositories
	logger.Debug("Initializing repositories...")
	recordRepo := repositories.NewLogRecordRepository(db, logger)
	summaryRepo := repositories.NewLogSummaryRepository(db, logger)
	queueRepo := repositories.NewWorkQueueRepository(db, logger)

	clock := clockwork.NewRealClock()

	// Ingestion pipeline: validator, settings cache, dedup
	logger.Debug("Initializing ingestion pipeline...")
	validator := ingest.NewValidator(clock)
	settings := ingest.NewSettingsProvider(cfg.Ingest.SettingsURL, clock, logger)
	dedup := ingest.NewDedupCache(cfg.Ingest.DedupWindow, clock, logger)
	podCache := ingest.NewPodExistenceCache(cfg.Ingest.PodCacheTTL, clock)

	// Real-time notification hub
	hub := realtime.NewHub(logger)

	// Work queue: enqueue service and purge processor
	logger.Debug("Initializing work queue processor...")
	queueService := workqueue.NewService(queueRepo, recordRepo, clock, logger)
	processor := workqueue.NewProcessor(queueRepo, recordRepo, summaryRepo, podCache, hub, clock, logger).
		WithTuning(cfg.WorkQueue.PollInterval, cfg.WorkQueue.PurgeBatchSize, cfg.WorkQueue.InterBatchDelay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dedup.Run(ctx, cfg.Ingest.DedupSweep)
	go processor.Run(ctx)

	// Initialize web server with configured settings
	logger.Info("Initializing web server...")
	ingestHandler := handlers.NewIngestHandler(validator, settings, dedup, recordRepo, summaryRepo, hub, logger)
	purgeHandler := handlers.NewPurgeHandler(queueService, logger)
	eventsHandler := handlers.NewEventsHandler(hub, logger)
	webServer := api.NewServer(&api.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Production: cfg.Server.Production,
	}, ingestHandler, purgeHandler, eventsHandler, logger)

	// Start web server in goroutine
	go func() {
		if err := webServer.Run(); err != nil {
			logger.WithCaller().Error("Web server error", logger.Args("error", err))
		}
	}()

	logger.Info("🚢 Logship server is running",
		logger.Args("url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port)))

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutdown signal received, stopping services...")

	// Stop the processor and dedup sweeper first so no purge batch starts
	// while the server drains.
	cancel()

	// Create shutdown context with timeout (generous to drain SSE connections)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop web server (this will close SSE connections)
	logger.Debug("Stopping web server...")
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		logger.WithCaller().Error("Web server shutdown error", logger.Args("error", err))
	} else {
		logger.Info("Web server stopped successfully")
	}

	logger.Info("Logship server stopped gracefully")
}

// parseLogLevel maps LOG_LEVEL values to pterm levels.
// Supported values: trace, debug, info, warn, error, fatal
func parseLogLevel(raw string) pterm.LogLevel {
	switch strings.ToLower(raw) {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}
