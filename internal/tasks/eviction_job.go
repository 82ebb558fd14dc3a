package tasks

import (
	"time"

	"github.com/rs/zerolog"
)

// EvictionJob drops finished tasks older than a retention window.
type EvictionJob struct {
	registry  *Registry
	retention time.Duration
	log       zerolog.Logger
}

// NewEvictionJob creates the eviction job.
func NewEvictionJob(registry *Registry, retention time.Duration, log zerolog.Logger) *EvictionJob {
	return &EvictionJob{
		registry:  registry,
		retention: retention,
		log:       log.With().Str("job", "task_eviction").Logger(),
	}
}

// Name returns the job name.
func (j *EvictionJob) Name() string {
	return "task_eviction"
}

// Run evicts expired tasks.
func (j *EvictionJob) Run() error {
	removed := j.registry.Evict(j.retention)
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Evicted finished analysis tasks")
	}
	return nil
}
