// Package config reads server settings from the environment and the workflow
// catalog from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/triage-ai/cli-analytics/internal/inference"
	"github.com/triage-ai/cli-analytics/internal/privacy"
)

// Config is the server's runtime configuration.
type Config struct {
	DBDriver       string
	DBDSN          string
	ClickHouseDSN  string
	HTTPPort       string
	GRPCHealthPort string
	HashSalt       string
	AdminToken     string
	CatalogPath    string
	LogLevel       string

	SessionGap     time.Duration
	MaxClockSkew   time.Duration
	ErrorTextMax   int
	OpaqueTokenMin int

	InferInterval   time.Duration
	InferWorkers    int
	InferBatchLimit int

	AuthCacheTTL time.Duration
}

// FromEnv builds a Config from ANALYTICS_* variables with defaults.
func FromEnv() Config {
	dsn := os.Getenv("ANALYTICS_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("POSTGRES_DSN")
	}
	return Config{
		DBDriver:       EnvOrDefault("ANALYTICS_DB_DRIVER", "pgx"),
		DBDSN:          dsn,
		ClickHouseDSN:  os.Getenv("CLICKHOUSE_DSN"),
		HTTPPort:       EnvOrDefault("ANALYTICS_HTTP_PORT", "8080"),
		GRPCHealthPort: os.Getenv("ANALYTICS_GRPC_HEALTH_PORT"),
		HashSalt:       os.Getenv("ANALYTICS_HASH_SALT"),
		AdminToken:     os.Getenv("ANALYTICS_ADMIN_TOKEN"),
		CatalogPath:    os.Getenv("ANALYTICS_CATALOG"),
		LogLevel:       EnvOrDefault("ANALYTICS_LOG_LEVEL", "info"),

		SessionGap:     time.Duration(EnvOrDefaultInt("ANALYTICS_SESSION_GAP_MIN", 30)) * time.Minute,
		MaxClockSkew:   time.Duration(EnvOrDefaultInt("ANALYTICS_MAX_CLOCK_SKEW_S", 300)) * time.Second,
		ErrorTextMax:   EnvOrDefaultInt("ANALYTICS_ERROR_TEXT_MAX", 256),
		OpaqueTokenMin: EnvOrDefaultInt("ANALYTICS_OPAQUE_TOKEN_MIN", 20),

		InferInterval:   time.Duration(EnvOrDefaultInt("ANALYTICS_INFER_INTERVAL_S", 0)) * time.Second,
		InferWorkers:    EnvOrDefaultInt("ANALYTICS_INFER_WORKERS", 4),
		InferBatchLimit: EnvOrDefaultInt("ANALYTICS_INFER_BATCH_LIMIT", 10000),

		AuthCacheTTL: time.Duration(EnvOrDefaultInt("ANALYTICS_AUTH_CACHE_TTL_S", 30)) * time.Second,
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "pgx", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported ANALYTICS_DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("ANALYTICS_DB_DSN (or POSTGRES_DSN) is required")
	}
	if c.SessionGap <= 0 {
		return fmt.Errorf("ANALYTICS_SESSION_GAP_MIN must be positive")
	}
	if c.InferWorkers <= 0 || c.InferBatchLimit <= 0 {
		return fmt.Errorf("ANALYTICS_INFER_WORKERS and ANALYTICS_INFER_BATCH_LIMIT must be positive")
	}
	return nil
}

// Sanitizer returns the sanitizer limits.
func (c Config) Sanitizer() privacy.Config {
	return privacy.Config{
		MaxClockSkew:   c.MaxClockSkew,
		ErrorTextMax:   c.ErrorTextMax,
		OpaqueTokenMin: c.OpaqueTokenMin,
	}
}

// Inference returns the runner settings.
func (c Config) Inference() inference.Config {
	return inference.Config{
		Gap:        c.SessionGap,
		Workers:    c.InferWorkers,
		BatchLimit: c.InferBatchLimit,
	}
}

// EnvOrDefault returns the variable's value, or defaultVal when unset or empty.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// EnvOrDefaultInt is EnvOrDefault for integers; unparsable values fall back to defaultVal.
func EnvOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
