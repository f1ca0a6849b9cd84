// Command migrate applies or rolls back the session database schema.
//
//	migrate -direction up
package main

import (
	"flag"
	"log/slog"
	"os"

	"onboarding/internal/platform/config"
	"onboarding/internal/platform/logger"
	"onboarding/internal/platform/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	if err := postgres.Migrate(cfg.Database.URL, *direction); err != nil {
		log.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
	log.Info("schema migrated", "direction", *direction)
}
