// Package poller follows remote analysis tasks until they finish, spacing polls per key
// and backing off on errors.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is reported to the callback when a key exceeded MaxConsecutiveErrors.
var ErrCircuitOpen = errors.New("polling stopped after repeated errors")

// TaskSource reads task snapshots.
type TaskSource interface {
	GetTask(ctx context.Context, taskID string) (domain.TaskSnapshot, error)
}

// Config tunes the poller.
type Config struct {
	Base                 time.Duration // delay between polls after a success
	MinInterval          time.Duration // minimum spacing between two polls of one key
	RateLimitCap         time.Duration // upper bound of the delay after rate limiting
	ErrorCap             time.Duration // upper bound of the delay after other errors
	RateLimitFactor      float64
	ErrorFactor          float64
	MaxConsecutiveErrors int
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		Base:                 2 * time.Second,
		MinInterval:          time.Second,
		RateLimitCap:         60 * time.Second,
		ErrorCap:             30 * time.Second,
		RateLimitFactor:      2,
		ErrorFactor:          1.5,
		MaxConsecutiveErrors: 5,
	}
}

// KeyState is the polling state of one key.
type KeyState struct {
	Key               string            `json:"key"`
	TaskID            string            `json:"task_id"`
	LastPollAt        time.Time         `json:"last_poll_at"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	CurrentDelay      time.Duration     `json:"current_delay"`
	Active            bool              `json:"active"`
	LastStatus        domain.TaskStatus `json:"last_status,omitempty"`
	Progress          int               `json:"progress"`
}

// Callback receives the final snapshot of a key, or the error that stopped it.
// It runs at most once per tracked task.
type Callback func(key string, snap domain.TaskSnapshot, err error)

// ProgressFunc receives every successful poll.
type ProgressFunc func(key string, snap domain.TaskSnapshot)

type tracked struct {
	state   KeyState
	limiter *rate.Limiter
	ready   chan struct{} // closed once submit returned
	err     error         // submit error, valid after ready
	once    sync.Once
	cancel  context.CancelFunc
}

// Poller tracks one task per key.
type Poller struct {
	source     TaskSource
	cfg        Config
	onDone     Callback
	onProgress ProgressFunc
	log        zerolog.Logger

	mu   sync.Mutex
	keys map[string]*tracked
	wg   sync.WaitGroup
}

// New creates a poller. onDone may be nil.
func New(source TaskSource, cfg Config, onDone Callback, log zerolog.Logger) *Poller {
	if cfg.Base <= 0 {
		cfg.Base = DefaultConfig().Base
	}
	if cfg.RateLimitFactor <= 1 {
		cfg.RateLimitFactor = 2
	}
	if cfg.ErrorFactor <= 1 {
		cfg.ErrorFactor = 1.5
	}
	if cfg.RateLimitCap < cfg.Base {
		cfg.RateLimitCap = cfg.Base
	}
	if cfg.ErrorCap < cfg.Base {
		cfg.ErrorCap = cfg.Base
	}
	if cfg.MaxConsecutiveErrors < 1 {
		cfg.MaxConsecutiveErrors = 1
	}
	return &Poller{
		source: source,
		cfg:    cfg,
		onDone: onDone,
		log:    log.With().Str("component", "poller").Logger(),
		keys:   make(map[string]*tracked),
	}
}

// OnProgress registers fn to observe every successful poll. Call before Track.
func (p *Poller) OnProgress(fn ProgressFunc) {
	p.onProgress = fn
}

// Track submits a task for key via submit and polls it in the background.
// If key already has an active task, its id is returned with started=false and submit is not called.
// Polling stops when ctx ends.
func (p *Poller) Track(ctx context.Context, key string, submit func(context.Context) (string, error)) (taskID string, started bool, err error) {
	p.mu.Lock()
	if t, ok := p.keys[key]; ok && t.state.Active {
		p.mu.Unlock()
		select {
		case <-t.ready:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		if t.err != nil {
			return "", false, t.err
		}
		return t.state.TaskID, false, nil
	}

	t := &tracked{
		state: KeyState{
			Key:          key,
			CurrentDelay: p.cfg.Base,
			Active:       true,
		},
		limiter: rate.NewLimiter(rate.Every(p.cfg.MinInterval), 1),
		ready:   make(chan struct{}),
	}
	p.keys[key] = t
	p.mu.Unlock()

	id, err := submit(ctx)

	p.mu.Lock()
	if err != nil {
		t.err = fmt.Errorf("failed to submit %s: %w", key, err)
		t.state.Active = false
		if p.keys[key] == t {
			delete(p.keys, key)
		}
		close(t.ready)
		p.mu.Unlock()
		return "", false, t.err
	}
	t.state.TaskID = id
	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	close(t.ready)
	p.wg.Add(1)
	p.mu.Unlock()

	go p.poll(pollCtx, t)

	p.log.Debug().Str("key", key).Str("task_id", id).Msg("Tracking task")
	return id, true, nil
}

// poll runs until the task is terminal, the circuit opens or the key is stopped.
func (p *Poller) poll(ctx context.Context, t *tracked) {
	defer p.wg.Done()
	defer t.cancel()

	first := true
	for {
		if !first {
			p.mu.Lock()
			delay := t.state.CurrentDelay
			p.mu.Unlock()

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				p.finish(t, domain.TaskSnapshot{TaskID: t.state.TaskID}, ctx.Err())
				return
			case <-timer.C:
			}
		}
		first = false

		if err := t.limiter.Wait(ctx); err != nil {
			p.finish(t, domain.TaskSnapshot{TaskID: t.state.TaskID}, err)
			return
		}

		snap, err := p.source.GetTask(ctx, t.state.TaskID)
		if done := p.record(t, snap, err); done {
			return
		}
	}
}

// record applies one poll outcome and reports whether polling is over.
func (p *Poller) record(t *tracked, snap domain.TaskSnapshot, err error) bool {
	p.mu.Lock()
	t.state.LastPollAt = time.Now()

	if err == nil {
		t.state.ConsecutiveErrors = 0
		t.state.CurrentDelay = p.cfg.Base
		t.state.LastStatus = snap.Status
		t.state.Progress = snap.Progress
		p.mu.Unlock()

		if p.onProgress != nil {
			p.onProgress(t.state.Key, snap)
		}
		if snap.Status.IsTerminal() {
			p.finish(t, snap, nil)
			return true
		}
		return false
	}

	if errors.Is(err, domain.ErrNotFound) {
		p.mu.Unlock()
		p.finish(t, domain.TaskSnapshot{TaskID: t.state.TaskID, Status: domain.TaskNotFound}, err)
		return true
	}

	t.state.ConsecutiveErrors++
	t.state.CurrentDelay = NextDelay(p.cfg, t.state.CurrentDelay, err)
	errCount := t.state.ConsecutiveErrors
	p.mu.Unlock()

	p.log.Warn().
		Err(err).
		Str("key", t.state.Key).
		Int("consecutive_errors", errCount).
		Msg("Poll failed")

	if errCount > p.cfg.MaxConsecutiveErrors {
		p.finish(t, domain.TaskSnapshot{TaskID: t.state.TaskID, Status: t.state.LastStatus},
			fmt.Errorf("%w (%d consecutive): %w", ErrCircuitOpen, errCount, err))
		return true
	}
	return false
}

// NextDelay computes the delay after a failed poll.
func NextDelay(cfg Config, current time.Duration, err error) time.Duration {
	if errors.Is(err, domain.ErrRateLimited) {
		return capDelay(time.Duration(float64(current)*cfg.RateLimitFactor), cfg.RateLimitCap)
	}
	return capDelay(time.Duration(float64(current)*cfg.ErrorFactor), cfg.ErrorCap)
}

func capDelay(d, limit time.Duration) time.Duration {
	if d > limit {
		return limit
	}
	return d
}

// finish deactivates the key and fires the callback once.
func (p *Poller) finish(t *tracked, snap domain.TaskSnapshot, err error) {
	p.mu.Lock()
	t.state.Active = false
	p.mu.Unlock()

	t.once.Do(func() {
		if p.onDone != nil {
			p.onDone(t.state.Key, snap, err)
		}
	})
}

// Stop cancels polling for key. The callback fires with context.Canceled.
func (p *Poller) Stop(key string) {
	p.mu.Lock()
	t, ok := p.keys[key]
	p.mu.Unlock()
	if ok && t.cancel != nil {
		t.cancel()
	}
}

// State returns the polling state of key.
func (p *Poller) State(key string) (KeyState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.keys[key]
	if !ok {
		return KeyState{}, false
	}
	return t.state, true
}

// States returns all key states ordered by key.
func (p *Poller) States() []KeyState {
	p.mu.Lock()
	out := make([]KeyState, 0, len(p.keys))
	for _, t := range p.keys {
		out = append(out, t.state)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Wait blocks until every tracked key finished or ctx ends.
func (p *Poller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
