package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the engine processes.
// Values come from the environment, with a .env file loaded when present.
type Config struct {
	// Port is the HTTP listen port for the api process.
	Port string

	// DatabaseURL is the Postgres connection string for the relational store.
	DatabaseURL string

	// GeminiAPIKey authenticates receipt-scan calls. Optional; scanning is
	// disabled when empty.
	GeminiAPIKey string

	// ReceiptBucket is the GCS bucket receipt images are fetched from.
	ReceiptBucket string

	// NotifyAPIKey authenticates the outbound email API. Optional; when
	// empty notifications are logged instead of sent.
	NotifyAPIKey string

	// NotifyFrom is the From address on outbound notifications.
	NotifyFrom string

	// QueueBuffer is the fan-out queue buffer size.
	QueueBuffer int

	// WorkerCount is the number of concurrent task workers.
	WorkerCount int

	// RecurringUserLimit caps recurrence-processing task completions per
	// user within RecurringUserWindow.
	RecurringUserLimit int

	// RecurringUserWindow is the rolling window for RecurringUserLimit.
	RecurringUserWindow time.Duration
}

// Load reads configuration from the environment. A missing DATABASE_URL is
// an error: every workflow needs the store.
func Load() (Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		ReceiptBucket:       getEnv("RECEIPT_BUCKET", ""),
		NotifyAPIKey:        getEnv("NOTIFY_API_KEY", ""),
		NotifyFrom:          getEnv("NOTIFY_FROM", "ExpenseAI <alerts@expenseai.local>"),
		QueueBuffer:         getEnvInt("QUEUE_BUFFER", 100),
		WorkerCount:         getEnvInt("WORKER_COUNT", 5),
		RecurringUserLimit:  getEnvInt("RECURRING_USER_LIMIT", 10),
		RecurringUserWindow: getEnvDuration("RECURRING_USER_WINDOW", time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
