// Package tasks runs on-demand analyses in the background and tracks their progress
// in memory until they are evicted.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Progress checkpoints reported by the analysis worker.
const (
	ProgressFanOut     = 10
	ProgressAggregated = 40
	ProgressComposing  = 60
	ProgressComposed   = 90
	ProgressDone       = 100
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("task registry closed")

type task struct {
	snap    domain.TaskSnapshot
	subs    map[int]chan domain.TaskSnapshot
	nextSub int
}

// Stats summarises the registry contents by status.
type Stats struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

// Registry owns all analysis tasks. Only the worker running a task mutates it.
type Registry struct {
	aggregator domain.Aggregator
	composer   domain.Composer
	now        func() time.Time
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	tasks  map[string]*task
	closed bool
}

// NewRegistry creates a registry that runs analyses with aggregator and composer.
func NewRegistry(aggregator domain.Aggregator, composer domain.Composer, log zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		aggregator: aggregator,
		composer:   composer,
		now:        time.Now,
		log:        log.With().Str("component", "task_registry").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(map[string]*task),
	}
}

// Submit creates a pending task for securityID and starts its worker.
func (r *Registry) Submit(securityID string) (string, error) {
	securityID, err := domain.NormalizeSecurityID(securityID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.tasks[id] = &task{
		snap: domain.TaskSnapshot{
			TaskID:     id,
			SecurityID: securityID,
			Status:     domain.TaskPending,
			StartedAt:  r.now(),
		},
		subs: make(map[int]chan domain.TaskSnapshot),
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(r.ctx, id, securityID)

	r.log.Info().Str("task_id", id).Str("security_id", securityID).Msg("Analysis task submitted")
	return id, nil
}

// run executes aggregate then compose for one task.
func (r *Registry) run(ctx context.Context, id, securityID string) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("task_id", id).Interface("panic", p).Msg("Analysis task panicked")
			r.fail(id, fmt.Sprintf("analysis panicked: %v", p))
		}
	}()

	r.advance(id, domain.TaskRunning)
	r.setProgress(id, ProgressFanOut)

	doc := r.aggregator.Aggregate(ctx, securityID)
	r.setProgress(id, ProgressAggregated)

	if err := ctx.Err(); err != nil {
		r.fail(id, fmt.Sprintf("analysis cancelled: %v", err))
		return
	}

	r.setProgress(id, ProgressComposing)
	result, err := r.composer.Compose(ctx, securityID, doc)
	if err != nil {
		// the result is still complete, only its persistence failed
		r.log.Warn().Err(err).Str("task_id", id).Msg("Analysis result not persisted")
	}
	r.setProgress(id, ProgressComposed)

	r.complete(id, result)
}

// Query returns a copy of the task. Unknown ids yield a NOT_FOUND snapshot.
func (r *Registry) Query(taskID string) domain.TaskSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return domain.TaskSnapshot{TaskID: taskID, Status: domain.TaskNotFound}
	}
	return t.snap
}

// List returns snapshots of all retained tasks, newest first.
func (r *Registry) List() []domain.TaskSnapshot {
	r.mu.RLock()
	out := make([]domain.TaskSnapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.snap)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Subscribe returns a channel that receives the current snapshot and every later change.
// Slow readers only see the latest snapshot. The channel is closed after the terminal
// snapshot or when cancel is called.
func (r *Registry) Subscribe(taskID string) (<-chan domain.TaskSnapshot, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	ch := make(chan domain.TaskSnapshot, 1)
	ch <- t.snap
	if t.snap.Status.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}

	subID := t.nextSub
	t.nextSub++
	t.subs[subID] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := t.subs[subID]; ok {
			delete(t.subs, subID)
			close(c)
		}
	}
	return ch, cancel, nil
}

// Evict drops terminal tasks that finished more than olderThan ago and returns how many were removed.
func (r *Registry) Evict(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		if t.snap.FinishedAt != nil && t.snap.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Stats counts retained tasks by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.tasks), ByStatus: make(map[domain.TaskStatus]int)}
	for _, t := range r.tasks {
		stats.ByStatus[t.snap.Status]++
	}
	return stats
}

// Close stops accepting tasks, cancels running workers and waits for them until ctx ends.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for analysis tasks: %w", ctx.Err())
	}
}

// advance moves a task forward; backward or repeated moves are ignored.
func (r *Registry) advance(id string, status domain.TaskStatus) {
	r.update(id, func(s *domain.TaskSnapshot) bool {
		if !s.Status.CanAdvanceTo(status) {
			return false
		}
		s.Status = status
		return true
	})
}

// setProgress raises the progress of a non-terminal task; decreases are ignored.
func (r *Registry) setProgress(id string, progress int) {
	r.update(id, func(s *domain.TaskSnapshot) bool {
		if s.Status.IsTerminal() || progress <= s.Progress {
			return false
		}
		s.Progress = progress
		return true
	})
}

func (r *Registry) complete(id string, result domain.AnalysisResult) {
	r.update(id, func(s *domain.TaskSnapshot) bool {
		if !s.Status.CanAdvanceTo(domain.TaskCompleted) {
			return false
		}
		finished := r.now()
		s.Status = domain.TaskCompleted
		s.Progress = ProgressDone
		s.Result = &result
		s.FinishedAt = &finished
		return true
	})
}

func (r *Registry) fail(id, reason string) {
	r.update(id, func(s *domain.TaskSnapshot) bool {
		if !s.Status.CanAdvanceTo(domain.TaskFailed) {
			return false
		}
		finished := r.now()
		s.Status = domain.TaskFailed
		s.Error = reason
		s.FinishedAt = &finished
		return true
	})
}

// update applies fn under the lock and publishes the snapshot when fn reports a change.
func (r *Registry) update(id string, fn func(*domain.TaskSnapshot) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || !fn(&t.snap) {
		return
	}

	terminal := t.snap.Status.IsTerminal()
	for subID, ch := range t.subs {
		publish(ch, t.snap)
		if terminal {
			close(ch)
			delete(t.subs, subID)
		}
	}
}

// publish replaces any unread snapshot in ch with snap. Callers hold the registry lock,
// so no other sender can refill the buffer in between.
func publish(ch chan domain.TaskSnapshot, snap domain.TaskSnapshot) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
