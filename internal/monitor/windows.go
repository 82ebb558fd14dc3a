package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/stockwatch/internal/scheduler"
	"github.com/aristath/stockwatch/internal/session"
)

const windowJobTimeout = 30 * time.Second

// MiddayPauseJob pauses all running jobs at the start of the lunch break.
type MiddayPauseJob struct {
	monitor *Scheduler
}

// Name returns the job name.
func (j *MiddayPauseJob) Name() string { return "midday_pause" }

// Run pauses running jobs.
func (j *MiddayPauseJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), windowJobTimeout)
	defer cancel()
	_, err := j.monitor.PauseAll(ctx, MessageMiddayBreak)
	return err
}

// MiddayResumeJob resumes jobs paused for the lunch break when the afternoon session opens.
type MiddayResumeJob struct {
	monitor *Scheduler
}

// Name returns the job name.
func (j *MiddayResumeJob) Name() string { return "midday_resume" }

// Run resumes midday-paused jobs and relaunches missing loops.
func (j *MiddayResumeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), windowJobTimeout)
	defer cancel()
	_, err := j.monitor.ResumeMidday(ctx)
	return err
}

// WindowSchedules returns the weekday cron specs for the start and end of the lunch break
// of exchange, e.g. "30 11 * * 1-5" and "0 13 * * 1-5". ok is false when the exchange has no break.
func WindowSchedules(exchange session.ExchangeConfig) (pause, resume string, ok bool) {
	lb := exchange.LunchBreak
	if lb == nil {
		return "", "", false
	}
	pause = fmt.Sprintf("%d %d * * 1-5", lb.StartMinute, lb.StartHour)
	resume = fmt.Sprintf("%d %d * * 1-5", lb.EndMinute, lb.EndHour)
	return pause, resume, true
}

// RegisterSessionWindows adds the midday pause and resume jobs to cron.
// cron must evaluate schedules in the exchange time zone.
func RegisterSessionWindows(cron *scheduler.Scheduler, monitor *Scheduler, exchange session.ExchangeConfig) error {
	pause, resume, ok := WindowSchedules(exchange)
	if !ok {
		return nil
	}
	if err := cron.AddJob(pause, &MiddayPauseJob{monitor: monitor}); err != nil {
		return err
	}
	return cron.AddJob(resume, &MiddayResumeJob{monitor: monitor})
}
