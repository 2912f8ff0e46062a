package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expenseai/engine/internal/config"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/logger"
	"github.com/expenseai/engine/internal/notify"
	"github.com/expenseai/engine/internal/store/postgres"
	"github.com/expenseai/engine/internal/workflows"
)

func main() {
	// Initialize logger
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the relational store
	st, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	// Choose the notifier: real email API when configured, log-only otherwise
	var notifier notify.Notifier
	if cfg.NotifyAPIKey != "" {
		notifier = notify.NewEmailClient(cfg.NotifyAPIKey, cfg.NotifyFrom, log)
	} else {
		log.Warn().Msg("No notification API key configured - notifications will be logged only")
		notifier = notify.NewLogNotifier(log)
	}

	// Register workflows; the registry is injected into the engine, there is
	// no global dispatcher state
	registry := engine.NewRegistry()

	taskStore := engine.NewMemoryTaskStore()
	checkpoints := engine.NewMemoryCheckpointStore()
	eng := engine.New(registry, taskStore, checkpoints, log,
		engine.WithWorkers(cfg.WorkerCount),
		engine.WithBuffer(cfg.QueueBuffer),
	)

	registry.MustRegister(workflows.NewSyncUser(st, notifier))
	registry.MustRegister(workflows.NewTriggerRecurring(st, eng))
	registry.MustRegister(workflows.NewProcessRecurring(st, cfg.RecurringUserLimit, cfg.RecurringUserWindow))
	registry.MustRegister(workflows.NewCheckBudgetAlerts(st, notifier))

	log.Info().Msg("Starting workflow engine")

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workflow engine")
	}

	log.Info().Msg("Workflow engine started, waiting for triggers...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down workflow engine...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Workflow engine exited")
}
