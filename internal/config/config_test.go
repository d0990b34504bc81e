package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
	if cfg.JobPollInterval != 2*time.Second {
		t.Errorf("JobPollInterval = %s, want 2s", cfg.JobPollInterval)
	}
	if cfg.SessionIdleTimeout != 2*time.Hour {
		t.Errorf("SessionIdleTimeout = %s, want 2h", cfg.SessionIdleTimeout)
	}
	if !cfg.SeedDemo || cfg.RedisURL != "" || cfg.AdminPassword != "" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SESSION_IDLE_TIMEOUT", "30m")
	t.Setenv("SEED_DEMO", "false")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %s, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.SeedDemo {
		t.Error("SeedDemo = true, want false")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unparsable duration", "JOB_POLL_INTERVAL", "soon"},
		{"zero poll interval", "JOB_POLL_INTERVAL", "0s"},
		{"negative idle timeout", "SESSION_IDLE_TIMEOUT", "-1m"},
		{"bad bool", "SEED_DEMO", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
