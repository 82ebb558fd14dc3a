// Package monitor runs one persistent monitoring loop per security. Each loop analyses
// its security at a fixed interval while the market is open, pauses over the midday
// break and stops itself once the trading day is over.
//
// The job store is the source of truth: loops re-read their job before every iteration,
// so a stop or pause written by any caller takes effect on the next iteration.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status messages written to lastMessage.
const (
	MessageStarted     = "monitoring started"
	MessageWaitingOpen = "waiting for market open"
	MessageMiddayBreak = "midday break"
	MessageResumed     = "resumed"
	MessageNonTrading  = "non-trading period"
	MessageStopped     = "stopped by request"
	MessageShutdown    = "service shutdown"
)

// ErrSchedulerClosed is returned by Start after Shutdown.
var ErrSchedulerClosed = errors.New("monitoring scheduler is shut down")

// Sleeper waits for d. It returns early with true when wake fires, and false when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-t.C:
		return true
	}
}

// Options tunes a Scheduler. Zero values get defaults.
type Options struct {
	PausePoll time.Duration // sleep between checks while paused or before the open
	Now       func() time.Time
	Sleeper   Sleeper
}

type loop struct {
	jobID      string
	securityID string
	wake       chan struct{}
}

// Scheduler owns the monitoring loops.
type Scheduler struct {
	jobs       domain.JobStore
	records    domain.RecordStore
	aggregator domain.Aggregator
	composer   domain.Composer
	clock      session.Clock
	opts       Options
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	loops  map[string]*loop
	guards map[string]*sync.Mutex
	closed bool
}

// NewScheduler creates a scheduler. Call Recover to relaunch persisted jobs.
func NewScheduler(
	jobs domain.JobStore,
	records domain.RecordStore,
	aggregator domain.Aggregator,
	composer domain.Composer,
	clock session.Clock,
	opts Options,
	log zerolog.Logger,
) *Scheduler {
	if opts.PausePoll <= 0 {
		opts.PausePoll = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = timerSleeper{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:       jobs,
		records:    records,
		aggregator: aggregator,
		composer:   composer,
		clock:      clock,
		opts:       opts,
		log:        log.With().Str("component", "monitor").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		loops:      make(map[string]*loop),
		guards:     make(map[string]*sync.Mutex),
	}
}

// Start persists a RUNNING job for securityID and launches its loop.
// It fails with domain.ErrConflict if the security already has an active job.
func (s *Scheduler) Start(ctx context.Context, securityID string, intervalMinutes int) (*domain.MonitoringJob, error) {
	securityID, err := domain.NormalizeSecurityID(securityID)
	if err != nil {
		return nil, err
	}
	if !domain.ValidInterval(intervalMinutes) {
		return nil, fmt.Errorf("%w: %d (allowed: %v)", domain.ErrInvalidInterval, intervalMinutes, domain.ValidIntervals)
	}
	if s.isClosed() {
		return nil, ErrSchedulerClosed
	}

	guard := s.guard(securityID)
	guard.Lock()
	defer guard.Unlock()

	now := s.opts.Now()
	job := domain.MonitoringJob{
		JobID:           uuid.NewString(),
		SecurityID:      securityID,
		IntervalMinutes: intervalMinutes,
		Status:          domain.JobRunning,
		StartedAt:       now,
		LastMessage:     MessageStarted,
		UpdatedAt:       now,
	}
	if err := s.jobs.CreateIfNoActive(ctx, job); err != nil {
		return nil, err
	}

	s.launch(job)

	s.log.Info().
		Str("job_id", job.JobID).
		Str("security_id", securityID).
		Int("interval_minutes", intervalMinutes).
		Msg("Monitoring started")

	return &job, nil
}

// Stop marks the job STOPPED and wakes its loop. Stopping a stopped job is a no-op.
func (s *Scheduler) Stop(ctx context.Context, jobID string) (*domain.MonitoringJob, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStopped {
		return job, nil
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStopped, MessageStopped); err != nil && !errors.Is(err, ErrJobStopped) {
		return nil, err
	}
	s.wake(jobID)

	s.log.Info().Str("job_id", jobID).Str("security_id", job.SecurityID).Msg("Monitoring stopped")
	return s.jobs.FindByID(ctx, jobID)
}

// PauseAll moves every RUNNING job to PAUSED with reason as its message and returns how many changed.
// Jobs paused with MessageMiddayBreak resume on their own once the session reopens;
// any other reason holds until ResumeAll.
func (s *Scheduler) PauseAll(ctx context.Context, reason string) (int, error) {
	jobs, err := s.jobs.FindAllByStatus(ctx, domain.JobRunning)
	if err != nil {
		return 0, err
	}

	paused := 0
	for _, job := range jobs {
		err := s.jobs.UpdateStatus(ctx, job.JobID, domain.JobPaused, reason)
		if errors.Is(err, ErrJobStopped) {
			continue
		}
		if err != nil {
			return paused, err
		}
		paused++
		s.wake(job.JobID)
	}

	s.log.Info().Int("paused", paused).Str("reason", reason).Msg("Paused monitoring jobs")
	return paused, nil
}

// ResumeAll moves every PAUSED job back to RUNNING and relaunches loops missing for
// any active job. It returns how many jobs were resumed.
func (s *Scheduler) ResumeAll(ctx context.Context) (int, error) {
	return s.resume(ctx, func(domain.MonitoringJob) bool { return true })
}

// ResumeMidday resumes only the jobs paused for the lunch break. Jobs paused with any
// other reason keep waiting for ResumeAll.
func (s *Scheduler) ResumeMidday(ctx context.Context) (int, error) {
	return s.resume(ctx, func(job domain.MonitoringJob) bool {
		return job.LastMessage == MessageMiddayBreak
	})
}

// resume moves the PAUSED jobs accepted by match to RUNNING. Loops are relaunched for
// every active job, paused or not.
func (s *Scheduler) resume(ctx context.Context, match func(domain.MonitoringJob) bool) (int, error) {
	jobs, err := s.jobs.FindAllByStatus(ctx, domain.JobRunning, domain.JobPaused)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, job := range jobs {
		if job.Status == domain.JobPaused && match(job) {
			err := s.jobs.UpdateStatus(ctx, job.JobID, domain.JobRunning, MessageResumed)
			if errors.Is(err, ErrJobStopped) {
				continue
			}
			if err != nil {
				return resumed, err
			}
			resumed++
		}
		s.launch(job)
		s.wake(job.JobID)
	}

	s.log.Info().Int("resumed", resumed).Msg("Resumed monitoring jobs")
	return resumed, nil
}

// Recover relaunches loops for every persisted active job. It is called once at boot.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	jobs, err := s.jobs.FindAllByStatus(ctx, domain.JobRunning, domain.JobPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to load active jobs: %w", err)
	}
	for _, job := range jobs {
		s.launch(job)
	}
	if len(jobs) > 0 {
		s.log.Info().Int("jobs", len(jobs)).Msg("Recovered monitoring jobs")
	}
	return len(jobs), nil
}

// Shutdown marks every active job STOPPED, cancels the loops and waits for them until ctx ends.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	jobs, err := s.jobs.FindAllByStatus(ctx, domain.JobRunning, domain.JobPaused)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to load active jobs: %w", err))
	}
	for _, job := range jobs {
		if err := s.jobs.UpdateStatus(ctx, job.JobID, domain.JobStopped, MessageShutdown); err != nil && !errors.Is(err, ErrJobStopped) {
			errs = append(errs, err)
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for monitoring loops: %w", ctx.Err()))
	}

	s.log.Info().Int("stopped", len(jobs)).Msg("Monitoring scheduler shut down")
	return errors.Join(errs...)
}

// Status returns the job with jobID.
func (s *Scheduler) Status(ctx context.Context, jobID string) (*domain.MonitoringJob, error) {
	return s.jobs.FindByID(ctx, jobID)
}

// StatusBySecurity returns the latest job for securityID, active or not.
func (s *Scheduler) StatusBySecurity(ctx context.Context, securityID string) (*domain.MonitoringJob, error) {
	return s.jobs.FindLatestBySecurity(ctx, securityID)
}

// ListActive returns all RUNNING and PAUSED jobs.
func (s *Scheduler) ListActive(ctx context.Context) ([]domain.MonitoringJob, error) {
	return s.jobs.FindAllByStatus(ctx, domain.JobRunning, domain.JobPaused)
}

// Records returns up to limit of the newest records of a job.
func (s *Scheduler) Records(ctx context.Context, jobID string, limit int) ([]domain.MonitoringRecord, error) {
	if _, err := s.jobs.FindByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.records.ListByJob(ctx, jobID, limit)
}

// ActiveLoops returns the number of loops running in this process.
func (s *Scheduler) ActiveLoops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// guard returns the mutex serialising starts for one security.
func (s *Scheduler) guard(securityID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guards[securityID]
	if !ok {
		g = &sync.Mutex{}
		s.guards[securityID] = g
	}
	return g
}

// launch starts a loop for job unless one is already running.
func (s *Scheduler) launch(job domain.MonitoringJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.loops[job.JobID]; ok {
		return
	}

	l := &loop{
		jobID:      job.JobID,
		securityID: job.SecurityID,
		wake:       make(chan struct{}, 1),
	}
	s.loops[job.JobID] = l
	s.wg.Add(1)

	go s.run(s.ctx, l)
}

// wake interrupts the current sleep of a job's loop, if any.
func (s *Scheduler) wake(jobID string) {
	s.mu.Lock()
	l, ok := s.loops[jobID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
