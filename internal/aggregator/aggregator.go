// Package aggregator fans a security out to every registered data source and
// collects one result per source.
//
// A branch failure never fails the aggregation: it is recorded as a failed branch
// and the remaining branches still complete. Each branch goes through the shared
// TTL cache and is bounded by the worker pool, a per-branch timeout and a bounded
// retry of transient errors.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/work"
	"github.com/rs/zerolog"
)

// Source is one aggregation branch.
type Source struct {
	Name    string
	TTL     time.Duration
	Timeout time.Duration // per attempt; zero uses the aggregator default
	Fetcher domain.Fetcher
}

// Options tunes an Aggregator.
type Options struct {
	BranchTimeout time.Duration
	Retries       int // attempts per branch, including the first
	RetryDelay    time.Duration
}

// Aggregator runs data sources concurrently for one security.
type Aggregator struct {
	sources []Source
	cache   *cache.Cache[domain.Document]
	pool    *work.Pool
	opts    Options
	log     zerolog.Logger
}

// New creates an aggregator over sources.
func New(sources []Source, docs *cache.Cache[domain.Document], pool *work.Pool, opts Options, log zerolog.Logger) *Aggregator {
	if opts.BranchTimeout <= 0 {
		opts.BranchTimeout = 30 * time.Second
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Aggregator{
		sources: sources,
		cache:   docs,
		pool:    pool,
		opts:    opts,
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

// SourceNames returns the registered branch names in registration order.
func (a *Aggregator) SourceNames() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name
	}
	return names
}

type branchOutcome struct {
	name   string
	result domain.BranchResult
}

// Aggregate fetches every source for securityID and returns once all branches
// have produced a result. The returned document always has one entry per source.
func (a *Aggregator) Aggregate(ctx context.Context, securityID string) domain.AggregateDocument {
	start := time.Now()
	results := make(chan branchOutcome, len(a.sources))

	for _, src := range a.sources {
		go func(src Source) {
			results <- branchOutcome{name: src.Name, result: a.runBranch(ctx, src, securityID)}
		}(src)
	}

	doc := make(domain.AggregateDocument, len(a.sources))
	for range a.sources {
		out := <-results
		doc[out.name] = out.result
	}

	a.log.Info().
		Str("security", securityID).
		Int("succeeded", len(doc.Succeeded())).
		Strs("failed", doc.Failures()).
		Dur("duration", time.Since(start)).
		Msg("Aggregation completed")

	return doc
}

func (a *Aggregator) runBranch(ctx context.Context, src Source, securityID string) (result domain.BranchResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Errorf("panic in source %s: %v", src.Name, r))
		}
	}()

	var (
		doc       domain.Document
		fromCache bool
	)
	err := a.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		doc, fromCache, err = a.cache.GetOrCompute(ctx, src.Name+":"+securityID, src.TTL, func(ctx context.Context) (domain.Document, error) {
			return a.fetchWithRetry(ctx, src, securityID)
		})
		return err
	})

	if err != nil {
		a.log.Warn().
			Err(err).
			Str("source", src.Name).
			Str("security", securityID).
			Dur("duration", time.Since(start)).
			Msg("Source failed")
		return failed(err)
	}

	a.log.Debug().
		Str("source", src.Name).
		Str("security", securityID).
		Bool("from_cache", fromCache).
		Dur("duration", time.Since(start)).
		Msg("Source fetched")

	return domain.BranchResult{Value: &doc}
}

func (a *Aggregator) fetchWithRetry(ctx context.Context, src Source, securityID string) (domain.Document, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = a.opts.BranchTimeout
	}

	policy := work.RetryPolicy{
		Attempts: a.opts.Retries,
		Delay:    a.opts.RetryDelay,
		Retryable: func(err error) bool {
			// a cancelled request stays cancelled
			return ctx.Err() == nil && domain.IsTransient(err)
		},
	}

	doc, attempts, err := work.Retry(ctx, policy, func(ctx context.Context) (domain.Document, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return src.Fetcher.Fetch(attemptCtx, securityID)
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("source %s failed after %d attempt(s): %w", src.Name, attempts, err)
	}

	if doc.Source == "" {
		doc.Source = src.Name
	}
	return doc, nil
}

func failed(err error) domain.BranchResult {
	return domain.BranchResult{Failed: true, Err: err.Error()}
}
