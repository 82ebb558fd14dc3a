package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// PoolStats reports pool usage.
type PoolStats struct {
	Size      int   `json:"size"`
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// Pool runs functions with bounded concurrency.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	wg   sync.WaitGroup
	log  zerolog.Logger

	closed    atomic.Bool
	inFlight  atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// NewPool creates a pool allowing size concurrent functions.
func NewPool(size int, log zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
		log:  log.With().Str("component", "worker_pool").Logger(),
	}
}

// Do runs fn in the caller's goroutine once a slot is available and returns its error.
// A panic in fn is recovered and returned as an error.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	return p.run(ctx, fn)
}

// Go waits for a slot and then runs fn on a new goroutine.
// It returns once fn has started, or with an error if ctx ends first or the pool is closed.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}

	go func() {
		defer p.release()
		_ = p.run(ctx, func(ctx context.Context) error {
			fn(ctx)
			return nil
		})
	}()
	return nil
}

func (p *Pool) acquire(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker slot: %w", err)
	}
	p.wg.Add(1)
	p.inFlight.Add(1)
	return nil
}

func (p *Pool) release() {
	p.inFlight.Add(-1)
	p.completed.Add(1)
	p.sem.Release(1)
	p.wg.Done()
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error().Interface("panic", r).Msg("Recovered panic in pool work")
			err = fmt.Errorf("panic in pool work: %v", r)
		}
	}()
	return fn(ctx)
}

// Close stops accepting new work. Work already admitted keeps running.
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Drain closes the pool and waits for in-flight work to finish or ctx to end.
func (p *Pool) Drain(ctx context.Context) error {
	p.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool drain interrupted with %d in flight: %w", p.inFlight.Load(), ctx.Err())
	}
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:      p.size,
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}
