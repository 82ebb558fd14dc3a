package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens monitor.db and applies its schema.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// monitor.db - jobs and records are the source of truth for monitoring status
	monitorDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "monitor.db"),
		Profile: database.ProfileDurable,
		Name:    "monitor",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize monitor database: %w", err)
	}

	if err := monitorDB.Migrate(); err != nil {
		monitorDB.Close()
		return nil, fmt.Errorf("failed to apply schema to %s: %w", monitorDB.Name(), err)
	}
	container.MonitorDB = monitorDB

	log.Info().Str("path", monitorDB.Path()).Msg("Database initialized and schema applied")

	return container, nil
}
