// Package main is the entry point for the stockwatch analysis service.
//
// The service answers on-demand analysis requests for A-share securities and runs
// persistent monitoring jobs that re-analyze a security on a fixed interval while the
// exchange is trading.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/di"
	"github.com/aristath/stockwatch/internal/server"
	"github.com/aristath/stockwatch/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting stockwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, _, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Relaunch loops for jobs that were RUNNING or PAUSED when the process stopped
	if n, err := container.Monitor.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to recover monitoring jobs")
	} else {
		log.Info().Int("jobs", n).Msg("Monitoring jobs recovered")
	}

	container.Cron.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Tasks:     container.Tasks,
		Monitor:   container.Monitor,
		Results:   container.Results,
		MonitorDB: container.MonitorDB,
		Pool:      container.Pool,
		Caches: map[string]server.CacheStatter{
			"documents": container.Documents,
		},
		Session: container.Calendar,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Active jobs are persisted as STOPPED with "service shutdown"
	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Background work did not stop cleanly")
	}

	log.Info().Msg("Server stopped")
}
