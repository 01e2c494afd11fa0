package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/simplerules/internal/config"
	"github.com/liamcoop/simplerules/internal/logger"
)

func main() {
	cfg, err := config.LoadMigrate()
	if err != nil {
		config.Exitf("config: %v", err)
	}

	var command string
	flag.StringVar(&cfg.DatabaseURL, "database", cfg.DatabaseURL, "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&cfg.Path, "path", cfg.Path, "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if err := logger.Setup(context.Background(), logger.Options{Level: cfg.Log.Level, SampleRate: 1}); err != nil {
		config.Exitf("logger: %v", err)
	}
	log := logger.New("migrate")

	if cfg.DatabaseURL == "" {
		config.Exitf("Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	log.Info("connecting to database", "path", cfg.Path)

	m, err := migrate.New(fmt.Sprintf("file://%s", cfg.Path), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		log.Info("running migrations up")
		err = m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("no migrations to run, database is up to date")
		case err != nil:
			logger.Fatal("failed to run migrations", "error", err)
		default:
			log.Info("migrations completed")
		}

	case "down":
		log.Info("rolling back migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("failed to roll back migrations", "error", err)
		}
		log.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("failed to get version", "error", err)
		}
		log.Info("current version", "version", version, "dirty", dirty)

	case "force":
		if flag.NArg() < 1 {
			config.Exitf("Force command requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			config.Exitf("Invalid version number: %v", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("failed to force version", "error", err)
		}
		log.Info("forced version", "version", version)

	default:
		config.Exitf("Unknown command: %s (use: up, down, version, force)", command)
	}
}
