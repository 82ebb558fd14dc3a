package domain

import "context"

// Fetcher retrieves one source's data for a security.
// Implementations must be safe to call again after a failure.
type Fetcher interface {
	Fetch(ctx context.Context, securityID string) (Document, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, securityID string) (Document, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, securityID string) (Document, error) {
	return f(ctx, securityID)
}

// Analyzer runs the inference engine on a prompt and returns free text.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Aggregator collects every source for one security. It never fails as a whole:
// failed sources are reported as failed branches.
type Aggregator interface {
	Aggregate(ctx context.Context, securityID string) AggregateDocument
}

// Composer turns an aggregated document into an analysis result.
// The result is always usable; the error reports a persistence failure only.
type Composer interface {
	Compose(ctx context.Context, securityID string, doc AggregateDocument) (AnalysisResult, error)
}

// JobStore persists monitoring jobs. It is the source of truth for job status.
type JobStore interface {
	// CreateIfNoActive inserts job unless its security already has a RUNNING or PAUSED job,
	// in which case it returns ErrConflict.
	CreateIfNoActive(ctx context.Context, job MonitoringJob) error
	FindByID(ctx context.Context, jobID string) (*MonitoringJob, error)
	FindLatestBySecurity(ctx context.Context, securityID string) (*MonitoringJob, error)
	FindAllByStatus(ctx context.Context, statuses ...JobStatus) ([]MonitoringJob, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string) error
	MarkRun(ctx context.Context, jobID string, message string) error
}

// RecordStore appends and lists monitoring records.
type RecordStore interface {
	Append(ctx context.Context, rec MonitoringRecord) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]MonitoringRecord, error)
}

// ResultStore keeps the latest analysis result per security.
type ResultStore interface {
	Save(ctx context.Context, result AnalysisResult, doc AggregateDocument) error
	FindLatestBySecurity(ctx context.Context, securityID string) (*AnalysisResult, error)
}
