package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/domain"
)

// ErrJobStopped is returned when changing the status of a job that is already stopped.
var ErrJobStopped = errors.New("monitoring job already stopped")

// DefaultRecordLimit is used by ListByJob when no positive limit is given.
const DefaultRecordLimit = 50

const jobColumns = "job_id, security_id, interval_minutes, status, started_at, last_run_at, last_message, updated_at"

// Repository persists monitoring jobs and records. It implements domain.JobStore and domain.RecordStore.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository over the monitor database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// CreateIfNoActive inserts job unless its security already has an active job.
// The check and insert share a transaction; the partial unique index catches any writer
// that slips past it.
func (r *Repository) CreateIfNoActive(ctx context.Context, job domain.MonitoringJob) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM monitoring_jobs WHERE security_id = ? AND status IN ('RUNNING', 'PAUSED')",
			job.SecurityID,
		).Scan(&active)
		if err != nil {
			return fmt.Errorf("failed to check active jobs: %w", err)
		}
		if active > 0 {
			return domain.ErrConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO monitoring_jobs (job_id, security_id, interval_minutes, status, started_at, last_run_at, last_message, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID, job.SecurityID, job.IntervalMinutes, string(job.Status),
			job.StartedAt.Unix(), unixOrNil(job.LastRunAt), job.LastMessage, r.now().Unix(),
		)
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("security %s: %w", job.SecurityID, domain.ErrConflict)
	}
	return err
}

// FindByID returns the job or domain.ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, jobID string) (*domain.MonitoringJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM monitoring_jobs WHERE job_id = ?", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return job, nil
}

// FindLatestBySecurity returns the most recently started job for the security, active or not.
func (r *Repository) FindLatestBySecurity(ctx context.Context, securityID string) (*domain.MonitoringJob, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM monitoring_jobs WHERE security_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1",
		securityID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("jobs for %s: %w", securityID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest job for %s: %w", securityID, err)
	}
	return job, nil
}

// FindAllByStatus returns jobs in any of statuses, oldest first.
func (r *Repository) FindAllByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]domain.MonitoringJob, error) {
	if len(statuses) == 0 {
		return []domain.MonitoringJob{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM monitoring_jobs WHERE status IN ("+strings.Join(placeholders, ", ")+") ORDER BY started_at, rowid",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.MonitoringJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateStatus sets status and message. Stopped jobs are never changed again:
// the call returns ErrJobStopped for them.
func (r *Repository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, message string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitoring_jobs SET status = ?, last_message = ?, updated_at = ?
		WHERE job_id = ? AND status != 'STOPPED'`,
		string(status), message, r.now().Unix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return r.checkUpdated(ctx, res, jobID)
}

// MarkRun records the completion time and outcome message of an iteration.
// The message of a job that was paused or stopped meanwhile keeps its reason.
func (r *Repository) MarkRun(ctx context.Context, jobID string, message string) error {
	now := r.now().Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE monitoring_jobs SET last_run_at = ?,
			last_message = CASE WHEN status = 'RUNNING' THEN ? ELSE last_message END,
			updated_at = ?
		WHERE job_id = ?`,
		now, message, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run for job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return nil
}

// checkUpdated distinguishes a missing job from a stopped one after a guarded update.
func (r *Repository) checkUpdated(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("job %s: %w", jobID, ErrJobStopped)
}

// Append stores a record.
func (r *Repository) Append(ctx context.Context, rec domain.MonitoringRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitoring_records (job_id, security_id, content, is_error, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.JobID, rec.SecurityID, rec.Content, boolToInt(rec.IsError), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append record for job %s: %w", rec.JobID, err)
	}
	return nil
}

// ListByJob returns the newest records of a job, newest first.
func (r *Repository) ListByJob(ctx context.Context, jobID string, limit int) ([]domain.MonitoringRecord, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, security_id, content, is_error, created_at
		FROM monitoring_records WHERE job_id = ?
		ORDER BY id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for job %s: %w", jobID, err)
	}
	defer rows.Close()

	records := make([]domain.MonitoringRecord, 0)
	for rows.Next() {
		var (
			rec       domain.MonitoringRecord
			isError   int
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.SecurityID, &rec.Content, &isError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.IsError = isError != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.MonitoringJob, error) {
	var (
		job                  domain.MonitoringJob
		status               string
		startedAt, updatedAt int64
		lastRunAt            sql.NullInt64
	)
	if err := row.Scan(&job.JobID, &job.SecurityID, &job.IntervalMinutes, &status,
		&startedAt, &lastRunAt, &job.LastMessage, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.StartedAt = time.Unix(startedAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if lastRunAt.Valid {
		t := time.Unix(lastRunAt.Int64, 0)
		job.LastRunAt = &t
	}
	return &job, nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation matches the constraint error text of both SQLite drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
