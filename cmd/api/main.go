package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/expenseai/engine/internal/api/handlers"
	"github.com/expenseai/engine/internal/api/middleware"
	"github.com/expenseai/engine/internal/blob"
	"github.com/expenseai/engine/internal/config"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/logger"
	"github.com/expenseai/engine/internal/notify"
	"github.com/expenseai/engine/internal/scan"
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

	st, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	var notifier notify.Notifier
	if cfg.NotifyAPIKey != "" {
		notifier = notify.NewEmailClient(cfg.NotifyAPIKey, cfg.NotifyFrom, log)
	} else {
		log.Warn().Msg("No notification API key configured - notifications will be logged only")
		notifier = notify.NewLogNotifier(log)
	}

	// The API process runs the engine in-process: webhook requests publish
	// events straight onto the same worker pool that serves cron triggers.
	registry := engine.NewRegistry()
	taskStore := engine.NewMemoryTaskStore()
	eng := engine.New(registry, taskStore, engine.NewMemoryCheckpointStore(), log,
		engine.WithWorkers(cfg.WorkerCount),
		engine.WithBuffer(cfg.QueueBuffer),
	)

	registry.MustRegister(workflows.NewSyncUser(st, notifier))
	registry.MustRegister(workflows.NewTriggerRecurring(st, eng))
	registry.MustRegister(workflows.NewProcessRecurring(st, cfg.RecurringUserLimit, cfg.RecurringUserWindow))
	registry.MustRegister(workflows.NewCheckBudgetAlerts(st, notifier))

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workflow engine")
	}

	// Receipt scanning is optional; without a Gemini key the endpoint
	// reports unavailable instead of failing at startup.
	var scanner scan.Scanner
	if cfg.GeminiAPIKey != "" {
		scanner = scan.NewGeminiScanner(cfg.GeminiAPIKey, scan.DefaultModelName)
	} else {
		log.Warn().Msg("No Gemini API key configured - receipt scanning disabled")
	}
	var fetcher blob.Fetcher
	if cfg.ReceiptBucket != "" {
		fetcher = blob.NewGCSFetcher()
	}

	webhooksHandler := handlers.NewWebhooksHandler(eng, log)
	tasksHandler := handlers.NewTasksHandler(taskStore, log)
	receiptsHandler := handlers.NewReceiptsHandler(scanner, fetcher, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/webhooks/identity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		webhooksHandler.IdentityEvent(w, r)
	})

	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		tasksHandler.ListTasks(w, r)
	})

	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if taskID == "" || strings.Contains(taskID, "/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		tasksHandler.GetTask(w, r, taskID)
	})

	mux.HandleFunc("/api/receipts/scan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		receiptsHandler.ScanReceipt(w, r)
	})

	// Apply middleware chain
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	cancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping workflow engine")
	}

	log.Info().Msg("Server exited")
}
