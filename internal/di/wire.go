// Package di provides dependency injection wiring and initialization.
package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/stockwatch/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize services (pipeline, tasks, monitoring, backups)
// 3. Register jobs
//
// Persisted monitoring jobs are not relaunched here; the caller runs Monitor.Recover
// once it is ready to serve.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		container.MonitorDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.MonitorDB.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}

// Shutdown stops background work in dependency order: cron first, then monitoring loops
// and analysis tasks, then the worker pool, and finally the database.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error

	if c.Cron != nil {
		c.Cron.Stop()
	}
	if c.Monitor != nil {
		if err := c.Monitor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("monitor: %w", err))
		}
	}
	if c.Tasks != nil {
		if err := c.Tasks.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tasks: %w", err))
		}
	}
	if c.Pool != nil {
		if err := c.Pool.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker pool: %w", err))
		}
	}
	if c.MonitorDB != nil {
		if err := c.MonitorDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("monitor database: %w", err))
		}
	}

	return errors.Join(errs...)
}
