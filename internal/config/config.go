package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server holds the HTTP server settings
type Server struct {
	DatabaseURL     string        `env:"DATABASE_URL,required,notEmpty"`
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	Log             Log
	Metrics         Metrics
}

// Log holds the logger settings shared by every command
type Log struct {
	Level       string `env:"LOG_LEVEL" envDefault:"INFO"`
	SampleRate  int    `env:"ERROR_SAMPLE_RATE" envDefault:"100"`
	OTelEnabled bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"simplerules"`
}

// Metrics holds the Prometheus settings
type Metrics struct {
	Namespace string `env:"METRICS_NAMESPACE" envDefault:"simplerules"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServer parses the server configuration from the environment
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// Migrate holds the migration tool settings. Flags override these values.
type Migrate struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Path        string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
	Log         Log
}

// LoadMigrate parses the migration tool configuration from the environment
func LoadMigrate() (Migrate, error) {
	var cfg Migrate
	if err := ParseEnv(&cfg); err != nil {
		return Migrate{}, err
	}
	return cfg, nil
}
