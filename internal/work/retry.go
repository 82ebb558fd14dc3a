package work

import (
	"context"
	"time"
)

// RetryPolicy controls Retry.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	Delay     time.Duration // fixed wait between attempts
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned. Waiting between attempts honours ctx.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err = fn(ctx)
		if err == nil {
			return value, attempt, nil
		}
		if attempt == attempts || policy.Retryable == nil || !policy.Retryable(err) {
			return value, attempt, err
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, attempt, err
		case <-timer.C:
		}
	}
	return value, attempts, err
}
