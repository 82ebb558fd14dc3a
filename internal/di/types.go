// Package di provides dependency injection type definitions.
package di

import (
	"time"

	"github.com/aristath/stockwatch/internal/aggregator"
	"github.com/aristath/stockwatch/internal/analysis"
	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/reliability"
	"github.com/aristath/stockwatch/internal/scheduler"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/aristath/stockwatch/internal/sources"
	"github.com/aristath/stockwatch/internal/tasks"
	"github.com/aristath/stockwatch/internal/work"
)

// Container holds all dependencies for the application.
//
// It is created by Wire and handed to the HTTP server and the entry point.
// Nothing in it is a package-level singleton.
type Container struct {
	// Databases
	MonitorDB *database.DB // monitoring jobs, records and latest analysis results

	// Execution
	Pool *work.Pool // bounded worker pool shared by aggregation branches and compositions

	// Data pipeline
	Documents  *cache.Cache[domain.Document]
	Sources    *sources.Client
	Aggregator *aggregator.Aggregator
	Analyzer   domain.Analyzer
	Results    *analysis.Repository
	Composer   *analysis.Composer

	// Async analysis tasks
	Tasks *tasks.Registry

	// Monitoring
	Location *time.Location
	Calendar *session.Calendar
	Jobs     *monitor.Repository
	Monitor  *monitor.Scheduler

	// Offsite backups, nil when BACKUP_S3_BUCKET is unset
	Backup *reliability.BackupService

	// Cron
	Cron *scheduler.Scheduler
}

// Housekeeping schedules, evaluated in the exchange time zone.
const (
	taskRetention       = time.Hour
	cacheSweepSchedule  = "*/5 * * * *"
	taskEvictSchedule   = "*/10 * * * *"
	walSchedule         = "0 * * * *"
	maintenanceSchedule = "30 3 * * *"
)
