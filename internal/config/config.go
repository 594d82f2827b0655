// Package config loads server settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Backend names for the persistence layer.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

type Config struct {
	Port        string
	Environment string
	// Storage configuration
	Backend      string
	SQLitePath   string
	GCPProjectID string
	// DevUserID enables unauthenticated local runs when set.
	DevUserID string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// Import pipeline tuning
	BatchSize      int
	DedupThreshold int
}

func Load() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("GO_ENV", "production"),
		Backend:        getEnv("STORAGE_BACKEND", BackendSQLite),
		SQLitePath:     getEnv("SQLITE_PATH", "finflow.db"),
		GCPProjectID:   getEnv("GCP_PROJECT_ID", ""),
		DevUserID:      getEnv("DEV_USER_ID", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		BatchSize:      getEnvInt("IMPORT_BATCH_SIZE", 50),
		DedupThreshold: getEnvInt("DEDUP_THRESHOLD", 60),
	}
}

// SlogLevel maps LogLevel onto slog's levels, defaulting to info for
// unrecognized values.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
