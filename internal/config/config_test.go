package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// unset clears keys for the test and restores them afterwards.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Unsetenv(%s): %v", key, err)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	unset(t, "PORT", "DB_DRIVER", "DB_PATH", "AI_DISABLED", "AI_TIMEOUT", "RATE_LIMIT_PER_MINUTE", "SESSION_RETENTION", "LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DB.Driver != DriverSQLite || cfg.DB.Path != "./data/usba.db" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.AI.Timeout != 90*time.Second || cfg.AI.PlanTimeout != 180*time.Second {
		t.Errorf("ai timeouts = %v / %v", cfg.AI.Timeout, cfg.AI.PlanTimeout)
	}
	if cfg.Ops.RateLimitPerMinute != 10 || cfg.Ops.SessionRetention != 720*time.Hour {
		t.Errorf("ops = %+v", cfg.Ops)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if !cfg.AIEnabled() {
		t.Error("AI should be enabled with a key")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("AI_DISABLED", "true")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://usba@localhost/usba")
	t.Setenv("AI_PLAN_TIMEOUT", "4m")
	t.Setenv("MACHINE_IDLE_TTL", "not-a-duration")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != DriverPostgres {
		t.Errorf("driver = %q", cfg.DB.Driver)
	}
	if cfg.AI.PlanTimeout != 4*time.Minute {
		t.Errorf("plan timeout = %v", cfg.AI.PlanTimeout)
	}
	if cfg.Ops.MachineIdleTTL != 60*time.Minute {
		t.Errorf("invalid duration should fall back, got %v", cfg.Ops.MachineIdleTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %v", cfg.LogLevel)
	}
	if cfg.AIEnabled() {
		t.Error("AI_DISABLED ignored")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Port: "8080",
			DB:   DBConfig{Driver: DriverSQLite, Path: "usba.db"},
			AI:   AIConfig{APIKey: "k", Timeout: time.Second, PlanTimeout: time.Second},
			Ops:  OpsConfig{RateLimitPerMinute: 10, RateLimitBurst: 3, SessionRetention: time.Hour, MachineIdleTTL: time.Hour},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing key", func(c *Config) { c.AI.APIKey = "" }, "GEMINI_API_KEY"},
		{"disabled without key", func(c *Config) { c.AI.APIKey = ""; c.AI.Disabled = true }, ""},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, "DB_DRIVER"},
		{"postgres without url", func(c *Config) { c.DB.Driver = DriverPostgres }, "DATABASE_URL"},
		{"zero burst", func(c *Config) { c.Ops.RateLimitBurst = 0 }, "RATE_LIMIT_BURST"},
		{"limiter off", func(c *Config) { c.Ops.RateLimitPerMinute = 0 }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	for url, want := range map[string]bool{
		"":                      true,
		"http://localhost:5173": true,
		"https://usba.example":  false,
	} {
		if got := (&Config{FrontendURL: url}).IsDevelopment(); got != want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", url, got, want)
		}
	}
}
