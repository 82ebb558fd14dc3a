package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/analysis"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/rs/zerolog"
)

// run drives one job until it is stopped, the session ends or the scheduler shuts down.
func (s *Scheduler) run(ctx context.Context, l *loop) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.loops, l.jobID)
		s.mu.Unlock()
	}()

	log := s.log.With().Str("job_id", l.jobID).Str("security_id", l.securityID).Logger()
	log.Debug().Msg("Monitoring loop started")
	defer log.Debug().Msg("Monitoring loop exited")

	for ctx.Err() == nil {
		next, keepGoing := s.iterate(ctx, l, log)
		if !keepGoing {
			return
		}
		if !s.opts.Sleeper.Sleep(ctx, next, l.wake) {
			return
		}
	}
}

// iterate performs one pass of the loop and returns how long to sleep before the next.
// Panics are recorded as error records and the loop carries on.
func (s *Scheduler) iterate(ctx context.Context, l *loop, log zerolog.Logger) (next time.Duration, keepGoing bool) {
	next = s.opts.PausePoll
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Monitoring iteration panicked")
			s.recordFailure(ctx, l, fmt.Sprintf("iteration failed: %v", r), log)
			keepGoing = true
		}
	}()

	job, err := s.jobs.FindByID(ctx, l.jobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("Monitoring job disappeared, exiting loop")
		return 0, false
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load monitoring job")
		return next, true
	}
	if job.Status == domain.JobStopped {
		return 0, false
	}
	next = job.Interval()

	switch s.clock.Phase(s.opts.Now()) {
	case session.PhaseNonTradingDay, session.PhaseClosed:
		if err := s.jobs.UpdateStatus(ctx, job.JobID, domain.JobStopped, MessageNonTrading); err != nil && !errors.Is(err, ErrJobStopped) {
			log.Error().Err(err).Msg("Failed to stop job outside trading hours")
			return s.opts.PausePoll, true
		}
		log.Info().Msg("Trading day over, monitoring stopped")
		return 0, false

	case session.PhasePreOpen:
		if job.Status == domain.JobRunning && job.LastMessage != MessageWaitingOpen {
			if !s.setStatus(ctx, job.JobID, domain.JobRunning, MessageWaitingOpen, log) {
				return 0, false
			}
		}
		return s.opts.PausePoll, true

	case session.PhaseMiddayBreak:
		if job.Status != domain.JobPaused {
			if !s.setStatus(ctx, job.JobID, domain.JobPaused, MessageMiddayBreak, log) {
				return 0, false
			}
			log.Info().Msg("Midday break, monitoring paused")
		}
		return s.opts.PausePoll, true
	}

	if job.Status == domain.JobPaused {
		// only the midday pause lifts itself; other pauses wait for ResumeAll
		if job.LastMessage != MessageMiddayBreak {
			return s.opts.PausePoll, true
		}
		if !s.setStatus(ctx, job.JobID, domain.JobRunning, MessageResumed, log) {
			return 0, false
		}
		log.Info().Msg("Session reopened, monitoring resumed")
	}

	s.runOnce(ctx, job, log)
	return next, true
}

// setStatus persists a status change. It returns false when the job was stopped meanwhile.
func (s *Scheduler) setStatus(ctx context.Context, jobID string, status domain.JobStatus, message string, log zerolog.Logger) bool {
	err := s.jobs.UpdateStatus(ctx, jobID, status, message)
	if errors.Is(err, ErrJobStopped) || errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to update job status")
	}
	return true
}

// runOnce analyses the security, appends a record and updates lastRunAt/lastMessage.
func (s *Scheduler) runOnce(ctx context.Context, job *domain.MonitoringJob, log zerolog.Logger) {
	start := s.opts.Now()

	doc := s.aggregator.Aggregate(ctx, job.SecurityID)
	if ctx.Err() != nil {
		return
	}
	result, persistErr := s.composer.Compose(ctx, job.SecurityID, doc)

	rec := domain.MonitoringRecord{
		JobID:      job.JobID,
		SecurityID: job.SecurityID,
		Content:    formatRecord(result),
		IsError:    result.Synthetic,
		CreatedAt:  s.opts.Now(),
	}

	message := fmt.Sprintf("analysis completed (%d sources, %d failed)", len(result.Sources), len(result.FailedSources))
	if result.Synthetic {
		message = "analysis engine unavailable, raw data recorded"
	}
	if persistErr != nil {
		message += "; result not persisted: " + persistErr.Error()
	}
	if err := s.records.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to append monitoring record")
		message += "; record not saved: " + err.Error()
	}
	if err := s.jobs.MarkRun(ctx, job.JobID, message); err != nil {
		log.Error().Err(err).Msg("Failed to update job after run")
	}

	log.Info().
		Dur("duration", s.opts.Now().Sub(start)).
		Bool("synthetic", result.Synthetic).
		Strs("failed_sources", result.FailedSources).
		Msg("Monitoring iteration completed")
}

// recordFailure appends an error record and notes the failure on the job.
func (s *Scheduler) recordFailure(ctx context.Context, l *loop, message string, log zerolog.Logger) {
	rec := domain.MonitoringRecord{
		JobID:      l.jobID,
		SecurityID: l.securityID,
		Content:    message,
		IsError:    true,
		CreatedAt:  s.opts.Now(),
	}
	if err := s.records.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to append error record")
	}
	if err := s.jobs.MarkRun(ctx, l.jobID, message); err != nil {
		log.Error().Err(err).Msg("Failed to update job after failed run")
	}
}

// formatRecord renders a result as record content: the extracted sections in order,
// or the full text when nothing could be extracted.
func formatRecord(result domain.AnalysisResult) string {
	if result.Synthetic {
		return result.FullText
	}

	var b strings.Builder
	for _, name := range sortedSectionNames(result.Sections) {
		value := result.Sections[name]
		if value == domain.SectionNotFound {
			continue
		}
		fmt.Fprintf(&b, "【%s】%s\n", name, value)
	}
	if b.Len() == 0 {
		return result.FullText
	}
	return strings.TrimSpace(b.String())
}

// sortedSectionNames orders the default sections first, then any others by name.
func sortedSectionNames(sections map[string]string) []string {
	rank := make(map[string]int, len(analysis.DefaultSections))
	for i, name := range analysis.DefaultSections {
		rank[name] = i
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names
}
