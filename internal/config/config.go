// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BaseURL      string // URL the in-process agent uses to reach its own paid APIs.

	// Macaroon settings.
	MacaroonSecret string
	TokenTTL       time.Duration

	// Pricing settings.
	BasePriceSats int64

	// Agent settings.
	AgentID             string
	AgentInitialBalance int64
	AgentHourlyBudget   int64

	// Persistence settings.
	DatabasePath string // SQLite file; ":memory:" for an ephemeral store.

	// Admin bootstrap.
	AdminAPIKey string // Guards wallet funding; empty disables the endpoint.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("SATSGATE_PORT", 8080),
		ReadTimeout:         envDuration("SATSGATE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("SATSGATE_WRITE_TIMEOUT", 30*time.Second),
		BaseURL:             envStr("SATSGATE_BASE_URL", "http://localhost:8080"),
		MacaroonSecret:      envStr("SATSGATE_MACAROON_SECRET", ""),
		TokenTTL:            envDuration("SATSGATE_TOKEN_TTL", time.Hour),
		BasePriceSats:       envInt64("SATSGATE_BASE_PRICE_SATS", 10),
		AgentID:             envStr("SATSGATE_AGENT_ID", "agent-alpha"),
		AgentInitialBalance: envInt64("SATSGATE_AGENT_INITIAL_BALANCE", 10000),
		AgentHourlyBudget:   envInt64("SATSGATE_AGENT_HOURLY_BUDGET", 500),
		DatabasePath:        envStr("SATSGATE_DATABASE_PATH", "satsgate.db"),
		AdminAPIKey:         envStr("SATSGATE_ADMIN_API_KEY", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "satsgate"),
		LogLevel:            envStr("SATSGATE_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: envInt64("SATSGATE_MAX_REQUEST_BODY_BYTES", 1*1024*1024),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: SATSGATE_PORT out of range: %d", c.Port)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: SATSGATE_TOKEN_TTL must be positive")
	}
	if c.BasePriceSats <= 0 {
		return fmt.Errorf("config: SATSGATE_BASE_PRICE_SATS must be positive")
	}
	if c.AgentInitialBalance < 0 {
		return fmt.Errorf("config: SATSGATE_AGENT_INITIAL_BALANCE must not be negative")
	}
	if c.AgentHourlyBudget <= 0 {
		return fmt.Errorf("config: SATSGATE_AGENT_HOURLY_BUDGET must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: SATSGATE_DATABASE_PATH is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: SATSGATE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
