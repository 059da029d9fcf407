package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tillbook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != defaultAppName || cfg.AppEnv != defaultAppEnv {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AllowOverdraft {
		t.Fatal("overdraft must default to disallowed")
	}
	if cfg.ConflictRetries != defaultConflictRetries {
		t.Fatalf("expected %d retries, got %d", defaultConflictRetries, cfg.ConflictRetries)
	}
	if cfg.BalanceCacheTTL != defaultBalanceCacheTTL {
		t.Fatalf("expected ttl %s, got %s", defaultBalanceCacheTTL, cfg.BalanceCacheTTL)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tillbook")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ALLOW_OVERDRAFT", "true")
	t.Setenv("CONFLICT_RETRIES", "5")
	t.Setenv("BALANCE_CACHE_TTL", "2m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not lowercased: %q", cfg.LogLevel)
	}
	if !cfg.AllowOverdraft {
		t.Fatal("expected overdraft allowed")
	}
	if cfg.ConflictRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.ConflictRetries)
	}
	if cfg.BalanceCacheTTL != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %s", cfg.BalanceCacheTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tillbook")

	t.Setenv("ALLOW_OVERDRAFT", "sometimes")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad ALLOW_OVERDRAFT")
	}
	t.Setenv("ALLOW_OVERDRAFT", "")

	t.Setenv("CONFLICT_RETRIES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero CONFLICT_RETRIES")
	}
}
