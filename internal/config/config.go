// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level

	DB  DBConfig
	AI  AIConfig
	Ops OpsConfig
}

// DBConfig selects and locates the session store.
type DBConfig struct {
	Driver      string
	Path        string
	DatabaseURL string
}

// AIConfig configures the Gemini gateway.
type AIConfig struct {
	APIKey      string
	Disabled    bool
	ModelsFile  string
	Timeout     time.Duration
	PlanTimeout time.Duration
}

// OpsConfig holds rate limiting, retention and health settings.
type OpsConfig struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	SessionRetention   time.Duration
	MachineIdleTTL     time.Duration
	GRPCHealthAddr     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DB: DBConfig{
			Driver:      strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:        getEnv("DB_PATH", "./data/usba.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		AI: AIConfig{
			APIKey:      strings.TrimSpace(getEnv("GEMINI_API_KEY", "")),
			Disabled:    getEnvBool("AI_DISABLED", false),
			ModelsFile:  getEnv("AI_MODELS_FILE", ""),
			Timeout:     getEnvDuration("AI_TIMEOUT", 90*time.Second),
			PlanTimeout: getEnvDuration("AI_PLAN_TIMEOUT", 180*time.Second),
		},
		Ops: OpsConfig{
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 3),
			SessionRetention:   getEnvDuration("SESSION_RETENTION", 720*time.Hour),
			MachineIdleTTL:     getEnvDuration("MACHINE_IDLE_TTL", 60*time.Minute),
			GRPCHealthAddr:     getEnv("GRPC_HEALTH_ADDR", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DB.Driver)
	}
	if !c.AI.Disabled && c.AI.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required unless AI_DISABLED=true")
	}
	if c.AI.Timeout <= 0 || c.AI.PlanTimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT and AI_PLAN_TIMEOUT must be > 0")
	}
	if c.Ops.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative")
	}
	if c.Ops.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	if c.Ops.SessionRetention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if c.Ops.MachineIdleTTL <= 0 {
		return fmt.Errorf("MACHINE_IDLE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AIEnabled reports whether the Gemini gateway should be used.
func (c *Config) AIEnabled() bool {
	return !c.AI.Disabled
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
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
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
