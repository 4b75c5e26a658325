// Package config_test tests configuration loading and validation.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/taskbell/internal/config"
)

func TestLoadDefaultsWithEnvToken(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "123456:test-token")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Telegram.Token != "123456:test-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "info" || !cfg.Logger.JSON {
		t.Errorf("logger defaults = %+v", cfg.Logger)
	}
	if cfg.Scheduler.MaxAttempts != 5 || cfg.Scheduler.BackoffBase != 2*time.Second {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
	if cfg.Sync.DefaultTimezone != "UTC" || cfg.Sync.CalendarID != "primary" {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if job, ok := cfg.Jobs["sql_maintenance"]; !ok || !job.Enabled || job.Schedule == "" {
		t.Errorf("jobs defaults = %+v", cfg.Jobs)
	}
}

func TestLoadMissingTokenFails(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation failure without a telegram token")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
telegram:
  token: "file-token"
logger:
  level: debug
  json: false
scheduler:
  max_attempts: 3
  backoff_base: 500ms
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.Token != "file-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.JSON {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if cfg.Scheduler.MaxAttempts != 3 || cfg.Scheduler.BackoffBase != 500*time.Millisecond {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	// Unspecified values keep their defaults.
	if cfg.Scheduler.BackoffMax != 2*time.Minute {
		t.Errorf("backoff max = %v", cfg.Scheduler.BackoffMax)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "123456:test-token")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
logger:
  level: loud
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation failure for unknown log level")
	}
}
