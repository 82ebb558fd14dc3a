package cache

import "github.com/rs/zerolog"

// Sweeper is implemented by caches that can drop expired entries.
type Sweeper interface {
	Sweep() int
}

// CleanupJob removes expired entries from the registered caches.
type CleanupJob struct {
	caches map[string]Sweeper
	log    zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job.
func NewCleanupJob(caches map[string]Sweeper, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		caches: caches,
		log:    log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run removes expired entries from every cache.
func (j *CleanupJob) Run() error {
	total := 0
	for name, c := range j.caches {
		if removed := c.Sweep(); removed > 0 {
			j.log.Debug().
				Str("cache", name).
				Int("deleted", removed).
				Msg("Cleaned up expired cache entries")
			total += removed
		}
	}

	if total > 0 {
		j.log.Info().Int("total_deleted", total).Msg("Cache cleanup completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
