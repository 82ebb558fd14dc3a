package domain

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound is returned when a task, job or result does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a security already has an active monitoring job
	ErrConflict = errors.New("active monitoring job already exists")
	// ErrInvalidSecurityID is returned for empty or malformed security identifiers
	ErrInvalidSecurityID = errors.New("invalid security id")
	// ErrInvalidInterval is returned for monitoring intervals outside 5, 10, 30 or 60 minutes
	ErrInvalidInterval = errors.New("invalid monitoring interval")
	// ErrTransient marks failures that are worth retrying
	ErrTransient = errors.New("transient failure")
	// ErrRateLimited marks upstream throttling (HTTP 429, quota exhaustion)
	ErrRateLimited = errors.New("rate limited")
)

// transientError wraps an error so errors.Is(err, ErrTransient) holds
// while keeping the original error in the chain.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

// MarkTransient flags err as retryable. nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
// Explicitly marked errors, rate limits, deadline overruns and network timeouts qualify.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
