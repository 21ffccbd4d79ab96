package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port    int
	DevMode bool

	// StateDBPath holds positions and cached risk results.
	StateDBPath string
	// PriceDBPath holds price history, FX rates and security metadata.
	PriceDBPath string

	LogLevel string

	// RiskWindow is the default lookback in trading days.
	RiskWindow int
	// CacheRetentionDays bounds how long cached risk results are kept.
	CacheRetentionDays int
	// PriceRefreshSchedule is the cron spec for the nightly price refresh.
	PriceRefreshSchedule string
	// RiskRefreshSchedule is the cron spec for the scheduled risk recompute.
	RiskRefreshSchedule string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnvAsInt("PORT", 8010),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		StateDBPath:          getEnv("STATE_DB_PATH", "./data/state.db"),
		PriceDBPath:          getEnv("PRICE_DB_PATH", "./data/prices.db"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RiskWindow:           getEnvAsInt("RISK_WINDOW", 252),
		CacheRetentionDays:   getEnvAsInt("CACHE_RETENTION_DAYS", 30),
		PriceRefreshSchedule: getEnv("PRICE_REFRESH_SCHEDULE", "0 30 22 * * MON-FRI"),
		RiskRefreshSchedule:  getEnv("RISK_REFRESH_SCHEDULE", "0 0 23 * * MON-FRI"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.StateDBPath == "" {
		return fmt.Errorf("STATE_DB_PATH is required")
	}
	if c.PriceDBPath == "" {
		return fmt.Errorf("PRICE_DB_PATH is required")
	}
	if c.RiskWindow <= 0 {
		return fmt.Errorf("RISK_WINDOW must be positive, got %d", c.RiskWindow)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
