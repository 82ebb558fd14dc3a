package di

import (
	"fmt"

	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/config"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/reliability"
	"github.com/aristath/stockwatch/internal/scheduler"
	"github.com/aristath/stockwatch/internal/tasks"
	"github.com/rs/zerolog"
)

// JobInstances holds the registered jobs for manual triggering.
type JobInstances struct {
	CacheCleanup     *cache.CleanupJob
	TaskEviction     *tasks.EvictionJob
	WALCheckpoint    *scheduler.WALCheckpointJob
	DailyMaintenance *reliability.DailyMaintenanceJob
	Backup           *reliability.BackupJob // nil when backups are disabled
}

// RegisterJobs creates the cron scheduler in the exchange time zone and registers
// the session windows and housekeeping jobs on it.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	cron := scheduler.New(container.Location, log)
	container.Cron = cron
	instances := &JobInstances{}

	// Midday pause and afternoon resume
	if err := monitor.RegisterSessionWindows(cron, container.Monitor, container.Calendar.Exchange()); err != nil {
		return nil, fmt.Errorf("failed to register session windows: %w", err)
	}

	instances.CacheCleanup = cache.NewCleanupJob(map[string]cache.Sweeper{
		"documents": container.Documents,
	}, log)
	if err := cron.AddJob(cacheSweepSchedule, instances.CacheCleanup); err != nil {
		return nil, err
	}

	instances.TaskEviction = tasks.NewEvictionJob(container.Tasks, taskRetention, log)
	if err := cron.AddJob(taskEvictSchedule, instances.TaskEviction); err != nil {
		return nil, err
	}

	instances.WALCheckpoint = scheduler.NewWALCheckpointJob(log, container.MonitorDB)
	if err := cron.AddJob(walSchedule, instances.WALCheckpoint); err != nil {
		return nil, err
	}

	instances.DailyMaintenance = reliability.NewDailyMaintenanceJob(cfg.DataDir, log, container.MonitorDB)
	if err := cron.AddJob(maintenanceSchedule, instances.DailyMaintenance); err != nil {
		return nil, err
	}

	if container.Backup != nil {
		instances.Backup = reliability.NewBackupJob(container.Backup, cfg.Backup.RetentionDays, log)
		if err := cron.AddJob(cfg.Backup.Schedule, instances.Backup); err != nil {
			return nil, err
		}
	}

	log.Info().Msg("Background jobs registered")

	return instances, nil
}
