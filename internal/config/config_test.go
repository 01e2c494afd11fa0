package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.IdleTimeout != time.Minute || cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Unexpected timeouts: %+v", cfg)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.Log.Level != "INFO" || cfg.Log.SampleRate != 100 || cfg.Log.OTelEnabled {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Namespace != "simplerules" {
		t.Errorf("Metrics.Namespace = %q, want simplerules", cfg.Metrics.Namespace)
	}
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "0s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_NAMESPACE", "cards")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.CacheTTL != 0 || cfg.Log.Level != "DEBUG" || cfg.Metrics.Namespace != "cards" {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
}

func TestLoadServerRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadServer()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg Server
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")
	t.Setenv("READ_TIMEOUT", "soon")

	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadMigrate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MIGRATIONS_PATH", "")

	cfg, err := LoadMigrate()
	if err != nil {
		t.Fatalf("LoadMigrate() failed: %v", err)
	}
	if cfg.DatabaseURL != "" || cfg.Path != "migrations" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}

	t.Setenv("MIGRATIONS_PATH", "db/migrations")
	cfg, err = LoadMigrate()
	if err != nil {
		t.Fatalf("LoadMigrate() failed: %v", err)
	}
	if cfg.Path != "db/migrations" {
		t.Errorf("Path = %q, want db/migrations", cfg.Path)
	}
}
