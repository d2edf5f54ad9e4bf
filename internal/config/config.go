package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/macjediwizard/crmcalsync/internal/sync"
)

var ErrInvalidConfig = errors.New("invalid configuration value")

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig
	Sync         SyncConfig
	Jobs         JobsConfig
	RateLimiting RateLimitConfig
	Network      NetworkConfig
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds the sync engine's tunables.
type SyncConfig struct {
	PastDays                int
	FutureDays              int
	MaxOperationsPerAccount int
	AccountBatchLimit       int
	SweepInterval           int // seconds between sweep cycles
	Strategy                sync.Strategy
}

// JobsConfig holds job queue configuration.
type JobsConfig struct {
	Workers int
}

// RateLimitConfig bounds outbound provider calls.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// NetworkConfig holds outbound connection policy.
type NetworkConfig struct {
	AllowPrivateIPs bool
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/crmcalsync.db")

	var err error
	if cfg.Sync.PastDays, err = getEnvInt("SYNC_PAST_DAYS", 30); err != nil {
		return nil, fmt.Errorf("%w: SYNC_PAST_DAYS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.FutureDays, err = getEnvInt("SYNC_FUTURE_DAYS", 90); err != nil {
		return nil, fmt.Errorf("%w: SYNC_FUTURE_DAYS: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.MaxOperationsPerAccount, err = getEnvInt("MAX_OPERATIONS_PER_ACCOUNT", 100); err != nil {
		return nil, fmt.Errorf("%w: MAX_OPERATIONS_PER_ACCOUNT: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.AccountBatchLimit, err = getEnvInt("ACCOUNT_BATCH_LIMIT", 50); err != nil {
		return nil, fmt.Errorf("%w: ACCOUNT_BATCH_LIMIT: %w", ErrInvalidConfig, err)
	}
	if cfg.Sync.SweepInterval, err = getEnvInt("SWEEP_INTERVAL", 300); err != nil {
		return nil, fmt.Errorf("%w: SWEEP_INTERVAL: %w", ErrInvalidConfig, err)
	}

	strategy := sync.Strategy(strings.ToLower(getEnv("CONFLICT_STRATEGY", string(sync.StrategyTimestamp))))
	if !strategy.IsValid() {
		return nil, fmt.Errorf("%w: CONFLICT_STRATEGY: unknown strategy %q", ErrInvalidConfig, strategy)
	}
	cfg.Sync.Strategy = strategy

	if cfg.Jobs.Workers, err = getEnvInt("JOB_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("%w: JOB_WORKERS: %w", ErrInvalidConfig, err)
	}

	if cfg.RateLimiting.RPS, err = getEnvFloat("PROVIDER_RATE_LIMIT_RPS", 10.0); err != nil {
		return nil, fmt.Errorf("%w: PROVIDER_RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	if cfg.RateLimiting.Burst, err = getEnvInt("PROVIDER_RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("%w: PROVIDER_RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}

	cfg.Network.AllowPrivateIPs = getEnvBool("ALLOW_PRIVATE_IPS", false)

	if cfg.Sync.PastDays < 0 || cfg.Sync.FutureDays < 0 {
		return nil, fmt.Errorf("%w: sync window days must be non-negative", ErrInvalidConfig)
	}
	if cfg.Sync.SweepInterval < 1 {
		return nil, fmt.Errorf("%w: SWEEP_INTERVAL must be at least 1 second", ErrInvalidConfig)
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns true for "1", "true", or "yes" (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
