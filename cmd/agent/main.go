package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logship/internal/agent/batcher"
	"logship/internal/agent/sequence"
	"logship/internal/agent/state"
	"logship/internal/agent/tailer"
	"logship/internal/agent/tracker"
	"logship/internal/agent/transmit"
	"logship/internal/banner"
	"logship/internal/config"
	"logship/internal/database/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"
)

func main() {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)

	// Print banner
	banner.Print("Agent")

	logger.Info("Initializing Logship agent...")

	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.WithCaller().Fatal("Failed to load configuration", logger.Args("error", err))
	}

	logger = pterm.DefaultLogger.WithLevel(parseLogLevel(cfg.LogLevel))
	logger.Debug("Log level set", logger.Args("level", cfg.LogLevel))

	agentID := cfg.Agent.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	logger.Debug("Configuration loaded",
		logger.Args(
			"log_roots", strings.Join(cfg.Agent.LogRoots, ","),
			"server_url", cfg.Agent.ServerURL,
			"agent_id", agentID,
			"batch_size", cfg.Agent.MaxBatchSize,
		))

	minLevel, ok := models.ParseLevel(cfg.Agent.DefaultMinLevel)
	if !ok {
		logger.Warn("Unknown default minimum level, using Any",
			logger.Args("configured", cfg.Agent.DefaultMinLevel))
	}

	clock := clockwork.NewRealClock()

	// Durable cursors and per-pod policies
	registry := tracker.NewRegistry(minLevel)
	persister := state.NewPersister(cfg.Agent.StateFilePath, registry, cfg.Agent.StateInterval, clock, logger)
	if err := persister.Load(); err != nil {
		logger.WithCaller().Fatal("Failed to load agent state", logger.Args("error", err))
	}

	// Outbound pipeline: batcher -> transmitter -> circuit breaker
	breaker := transmit.NewCircuitBreaker(cfg.Agent.BreakerFailures, cfg.Agent.BreakerCooldown, clock, logger)
	transmitter := transmit.NewTransmitter(cfg.Agent.ServerURL, agentID, breaker, logger)
	batch := batcher.New(transmitter, cfg.Agent.MaxBatchSize, cfg.Agent.FlushInterval, clock, logger)

	// Seed cursor baselines so already-stored lines are not reshipped.
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if times, err := transmitter.FetchLatestTimes(seedCtx); err != nil {
		logger.Warn("Could not fetch latest stored times, shipping from cursor positions",
			logger.Args("error", err))
	} else {
		registry.SeedBaselines(times)
		logger.Info("Cursor baselines seeded", logger.Args("deployments", len(times)))
	}
	seedCancel()

	sequences := sequence.NewRegistry()
	tail := tailer.New(cfg.Agent.LogRoots, registry, sequences, batch, logger)

	ctx, cancel := context.WithCancel(context.Background())

	go batch.Run(ctx)
	go persister.Run(ctx)
	go sequenceJanitor(ctx, clock, sequences, cfg.Agent.SequenceMaxAge, logger)

	tailerDone := make(chan error, 1)
	go func() {
		tailerDone <- tail.Run(ctx)
	}()

	logger.Info("🚢 Logship agent is running",
		logger.Args("roots", strings.Join(cfg.Agent.LogRoots, ","), "server", cfg.Agent.ServerURL))

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping agent...")
	case err := <-tailerDone:
		if err != nil {
			// No watchable roots means the agent can never ship anything.
			cancel()
			logger.WithCaller().Fatal("Tailer failed", logger.Args("error", err))
		}
	}

	// Stop the tailer first so no new records enter the pipeline, then the
	// batcher's final flush and the state save run on context cancel.
	cancel()

	time.Sleep(time.Second)

	if err := persister.Save(); err != nil {
		logger.WithCaller().Error("Final state save failed", logger.Args("error", err))
	}

	logger.Info("Logship agent stopped gracefully")
}

// sequenceJanitor periodically drops counters for sources that have gone
// quiet, bounding memory across pod churn.
func sequenceJanitor(ctx context.Context, clock clockwork.Clock, sequences *sequence.Registry, maxAge time.Duration, logger *pterm.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := clock.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := sequences.CleanupStale(maxAge); removed > 0 {
				logger.Debug("Dropped stale sequence counters",
					logger.Args("removed", removed, "remaining", sequences.Len()))
			}
		}
	}
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
