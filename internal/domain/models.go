package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Document is the normalized output of one data source for one security.
type Document struct {
	Source    string         `json:"source" msgpack:"source"`
	Fields    map[string]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
	Text      string         `json:"text" msgpack:"text"` // human-readable summary fed into the prompt
	FetchedAt time.Time      `json:"fetched_at" msgpack:"fetched_at"`
}

// BranchResult is the outcome of one aggregation branch.
// Value is nil iff Failed is true.
type BranchResult struct {
	Value  *Document `json:"value,omitempty"`
	Failed bool      `json:"failed"`
	Err    string    `json:"error,omitempty"`
}

// AggregateDocument maps branch (source) name to its result.
// It is built once per aggregation and not modified afterwards.
type AggregateDocument map[string]BranchResult

// Names returns the branch names in sorted order.
func (d AggregateDocument) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Succeeded returns the sorted names of branches that produced a value.
func (d AggregateDocument) Succeeded() []string {
	var out []string
	for _, name := range d.Names() {
		if !d[name].Failed {
			out = append(out, name)
		}
	}
	return out
}

// Failures returns the sorted names of failed branches.
func (d AggregateDocument) Failures() []string {
	var out []string
	for _, name := range d.Names() {
		if d[name].Failed {
			out = append(out, name)
		}
	}
	return out
}

// SectionNotFound is the placeholder stored for sections that could not be extracted.
const SectionNotFound = "未找到"

// AnalysisResult is the structured outcome of one analysis.
// Every configured section key is present in Sections.
type AnalysisResult struct {
	SecurityID    string            `json:"security_id"`
	FullText      string            `json:"full_text"`
	Sections      map[string]string `json:"sections"`
	Sources       []string          `json:"sources"`
	FailedSources []string          `json:"failed_sources"`
	Synthetic     bool              `json:"synthetic"` // true when the engine call failed
	CreatedAt     time.Time         `json:"created_at"`
}

// TaskStatus is the lifecycle state of an analysis task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskNotFound  TaskStatus = "NOT_FOUND"
)

// IsTerminal reports whether the status will never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskNotFound
}

// rank orders statuses so transitions can only move forward.
func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskRunning:
		return 1
	case TaskCompleted, TaskFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether a task in status s may move to next.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// TaskSnapshot is a point-in-time copy of an analysis task.
type TaskSnapshot struct {
	TaskID     string          `json:"task_id"`
	SecurityID string          `json:"security_id,omitempty"`
	Status     TaskStatus      `json:"status"`
	Progress   int             `json:"progress"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// JobStatus is the persisted state of a monitoring job.
type JobStatus string

const (
	JobRunning JobStatus = "RUNNING"
	JobPaused  JobStatus = "PAUSED"
	JobStopped JobStatus = "STOPPED"
)

// IsActive reports whether the job holds its security's active slot.
func (s JobStatus) IsActive() bool {
	return s == JobRunning || s == JobPaused
}

// ValidIntervals are the monitoring intervals accepted, in minutes.
var ValidIntervals = []int{5, 10, 30, 60}

// ValidInterval reports whether minutes is an accepted monitoring interval.
func ValidInterval(minutes int) bool {
	for _, v := range ValidIntervals {
		if v == minutes {
			return true
		}
	}
	return false
}

// MonitoringJob is a persisted per-security monitoring loop.
type MonitoringJob struct {
	JobID           string     `json:"job_id"`
	SecurityID      string     `json:"security_id"`
	IntervalMinutes int        `json:"interval_minutes"`
	Status          JobStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastMessage     string     `json:"last_message"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Interval returns the job interval as a duration.
func (j MonitoringJob) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

// MonitoringRecord is one append-only output of a monitoring iteration.
type MonitoringRecord struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	SecurityID string    `json:"security_id"`
	Content    string    `json:"content"`
	IsError    bool      `json:"is_error"`
	CreatedAt  time.Time `json:"created_at"`
}

var securityIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,16}$`)

// NormalizeSecurityID trims id and checks it is a plausible ticker such as "000001" or "sh600000".
func NormalizeSecurityID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !securityIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityID, id)
	}
	return id, nil
}
