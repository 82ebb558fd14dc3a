package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	snap domain.TaskSnapshot
	err  error
}

// scriptedSource replays steps in order and repeats the last one.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedSource) GetTask(ctx context.Context, taskID string) (domain.TaskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	st.snap.TaskID = taskID
	return st.snap, st.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type outcome struct {
	key  string
	snap domain.TaskSnapshot
	err  error
}

func fastConfig() Config {
	return Config{
		Base:                 2 * time.Millisecond,
		MinInterval:          time.Millisecond,
		RateLimitCap:         20 * time.Millisecond,
		ErrorCap:             10 * time.Millisecond,
		RateLimitFactor:      2,
		ErrorFactor:          1.5,
		MaxConsecutiveErrors: 3,
	}
}

func newTestPoller(t *testing.T, source TaskSource, cfg Config) (*Poller, chan outcome) {
	t.Helper()
	done := make(chan outcome, 4)
	p := New(source, cfg, func(key string, snap domain.TaskSnapshot, err error) {
		done <- outcome{key: key, snap: snap, err: err}
	}, zerolog.Nop())
	return p, done
}

func submitID(id string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return id, nil }
}

func waitOutcome(t *testing.T, done <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not fire")
		return outcome{}
	}
}

func TestNextDelay(t *testing.T) {
	cfg := DefaultConfig()
	transient := domain.MarkTransient(errors.New("connection reset"))

	tests := []struct {
		name    string
		current time.Duration
		err     error
		want    time.Duration
	}{
		{"rate limited doubles", 2 * time.Second, domain.ErrRateLimited, 4 * time.Second},
		{"rate limited capped", 40 * time.Second, domain.ErrRateLimited, 60 * time.Second},
		{"error grows by half", 2 * time.Second, transient, 3 * time.Second},
		{"error capped", 25 * time.Second, transient, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDelay(cfg, tt.current, tt.err))
		})
	}
}

func TestNextDelay_MonotonicUntilCap(t *testing.T) {
	cfg := DefaultConfig()
	for _, err := range []error{domain.ErrRateLimited, errors.New("boom")} {
		delay := cfg.Base
		limit := cfg.ErrorCap
		if errors.Is(err, domain.ErrRateLimited) {
			limit = cfg.RateLimitCap
		}
		for i := 0; i < 20; i++ {
			next := NextDelay(cfg, delay, err)
			assert.GreaterOrEqual(t, next, delay)
			assert.LessOrEqual(t, next, limit)
			delay = next
		}
		assert.Equal(t, limit, delay)
	}
}

func TestTrack_CompletesAfterErrors(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{snap: domain.TaskSnapshot{Status: domain.TaskRunning, Progress: 10}},
		{err: domain.ErrRateLimited},
		{err: domain.MarkTransient(errors.New("502"))},
		{snap: domain.TaskSnapshot{Status: domain.TaskRunning, Progress: 60}},
		{snap: domain.TaskSnapshot{Status: domain.TaskCompleted, Progress: 100}},
	}}
	p, done := newTestPoller(t, source, fastConfig())

	var progress []int
	var mu sync.Mutex
	p.OnProgress(func(key string, snap domain.TaskSnapshot) {
		mu.Lock()
		progress = append(progress, snap.Progress)
		mu.Unlock()
	})

	id, started, err := p.Track(context.Background(), "600519", submitID("task-1"))
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, "task-1", id)

	o := waitOutcome(t, done)
	assert.Equal(t, "600519", o.key)
	assert.NoError(t, o.err)
	assert.Equal(t, domain.TaskCompleted, o.snap.Status)
	assert.Equal(t, "task-1", o.snap.TaskID)

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 5, source.Calls())

	state, ok := p.State("600519")
	require.True(t, ok)
	assert.False(t, state.Active)
	assert.Zero(t, state.ConsecutiveErrors)
	assert.Equal(t, fastConfig().Base, state.CurrentDelay)

	mu.Lock()
	assert.Equal(t, []int{10, 60, 100}, progress)
	mu.Unlock()
}

func TestTrack_CircuitOpensOnce(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{err: domain.MarkTransient(errors.New("503"))},
	}}
	cfg := fastConfig()
	p, done := newTestPoller(t, source, cfg)

	_, _, err := p.Track(context.Background(), "000001", submitID("task-2"))
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.ErrorIs(t, o.err, ErrCircuitOpen)

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, cfg.MaxConsecutiveErrors+1, source.Calls())

	select {
	case extra := <-done:
		t.Fatalf("callback fired twice: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTrack_NotFoundIsTerminal(t *testing.T) {
	source := &scriptedSource{steps: []step{{err: domain.ErrNotFound}}}
	p, done := newTestPoller(t, source, fastConfig())

	_, _, err := p.Track(context.Background(), "000002", submitID("gone"))
	require.NoError(t, err)

	o := waitOutcome(t, done)
	assert.ErrorIs(t, o.err, domain.ErrNotFound)
	assert.Equal(t, domain.TaskNotFound, o.snap.Status)
	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, 1, source.Calls())
}

func TestTrack_DedupesActiveKey(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{snap: domain.TaskSnapshot{Status: domain.TaskRunning, Progress: 40}},
	}}
	p, done := newTestPoller(t, source, fastConfig())

	var submits atomic.Int32
	submit := func(context.Context) (string, error) {
		submits.Add(1)
		return "task-3", nil
	}

	id, started, err := p.Track(context.Background(), "600036", submit)
	require.NoError(t, err)
	assert.True(t, started)

	again, startedAgain, err := p.Track(context.Background(), "600036", submit)
	require.NoError(t, err)
	assert.False(t, startedAgain)
	assert.Equal(t, id, again)
	assert.Equal(t, int32(1), submits.Load())

	p.Stop("600036")
	o := waitOutcome(t, done)
	assert.ErrorIs(t, o.err, context.Canceled)
	require.NoError(t, p.Wait(context.Background()))

	states := p.States()
	require.Len(t, states, 1)
	assert.False(t, states[0].Active)
}

func TestTrack_SubmitError(t *testing.T) {
	p, done := newTestPoller(t, &scriptedSource{steps: []step{{}}}, fastConfig())

	_, started, err := p.Track(context.Background(), "600000", func(context.Context) (string, error) {
		return "", domain.ErrRateLimited
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.False(t, started)

	_, ok := p.State("600000")
	assert.False(t, ok)
	select {
	case o := <-done:
		t.Fatalf("unexpected callback: %+v", o)
	default:
	}
}

func TestTrack_ContextCancelStopsPolling(t *testing.T) {
	source := &scriptedSource{steps: []step{
		{snap: domain.TaskSnapshot{Status: domain.TaskPending}},
	}}
	p, done := newTestPoller(t, source, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	_, _, err := p.Track(ctx, "601318", submitID("task-4"))
	require.NoError(t, err)
	cancel()

	o := waitOutcome(t, done)
	assert.ErrorIs(t, o.err, context.Canceled)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":"slow down"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrRateLimited)
				assert.Contains(t, err.Error(), "slow down")
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"error":"task not found","data":{"task_id":"x","status":"NOT_FOUND"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `oops`,
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsTransient(err))
			},
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"error":"invalid security id"}`,
			check: func(t *testing.T, err error) {
				require.Error(t, err)
				assert.False(t, domain.IsTransient(err))
				assert.NotErrorIs(t, err, domain.ErrNotFound)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, time.Second).GetTask(context.Background(), "x")
			tt.check(t, err)
		})
	}
}

func TestHTTPClient_GetTaskDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analysis/tasks/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"task_id":"abc","status":"RUNNING","progress":40},"metadata":{"timestamp":"2026-03-02T10:00:00Z"}}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPClient(srv.URL+"/", time.Second).GetTask(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.TaskID)
	assert.Equal(t, domain.TaskRunning, snap.Status)
	assert.Equal(t, 40, snap.Progress)
}

func TestHTTPClient_SubmitAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analysis", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"task_id":"t-9","status":"PENDING"}}`))
	}))
	defer srv.Close()

	id, err := NewHTTPClient(srv.URL, time.Second).SubmitAnalysis(context.Background(), "600519")
	require.NoError(t, err)
	assert.Equal(t, "t-9", id)
}
