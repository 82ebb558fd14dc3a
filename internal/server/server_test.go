package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/stockwatch/internal/analysis"
	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/aristath/stockwatch/internal/tasks"
	testingpkg "github.com/aristath/stockwatch/internal/testing"
	"github.com/aristath/stockwatch/internal/work"
)

// parkedSleeper keeps a monitoring loop idle after its first iteration.
type parkedSleeper struct{}

func (parkedSleeper) Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	<-ctx.Done()
	return false
}

type envelope[T any] struct {
	Data     T      `json:"data"`
	Error    string `json:"error"`
	Metadata struct {
		Timestamp string `json:"timestamp"`
	} `json:"metadata"`
}

type testServer struct {
	srv     *Server
	results *analysis.Repository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testingpkg.NewTestDB(t, "monitor")
	agg := testingpkg.NewStaticAggregator(testingpkg.NewAggregateFixture())
	composer := testingpkg.StaticComposer()

	registry := tasks.NewRegistry(agg, composer, zerolog.Nop())

	loc := session.ChinaLocation()
	cal, err := session.NewCalendar(session.XSHG(loc), nil)
	require.NoError(t, err)

	repo := monitor.NewRepository(db.Conn())
	sched := monitor.NewScheduler(repo, repo, agg, composer, cal, monitor.Options{
		Now:     func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, loc) },
		Sleeper: parkedSleeper{},
	}, zerolog.Nop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
		_ = registry.Close(ctx)
	})

	results := analysis.NewRepository(db.Conn())
	srv := New(Config{
		Log:       zerolog.Nop(),
		DevMode:   true,
		DataDir:   t.TempDir(),
		Tasks:     registry,
		Monitor:   sched,
		Results:   results,
		MonitorDB: db,
		Pool:      work.NewPool(2, zerolog.Nop()),
		Caches:    map[string]CacheStatter{"documents": cache.New[domain.Document]()},
		Session:   cal,
	})
	return &testServer{srv: srv, results: results}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRequestAnalysis_CompletesWithPartialData(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/analysis", `{"security_id":"000001"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	submitted := decodeBody[struct {
		TaskID string `json:"task_id"`
	}](t, rec)
	require.NotEmpty(t, submitted.Data.TaskID)
	assert.NotEmpty(t, submitted.Metadata.Timestamp)

	var snap domain.TaskSnapshot
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/analysis/tasks/"+submitted.Data.TaskID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = decodeBody[domain.TaskSnapshot](t, rec).Data
		return snap.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.TaskCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "000001", snap.Result.SecurityID)
	assert.Equal(t, []string{"fund_flow", "news"}, snap.Result.FailedSources)
	assert.NotEmpty(t, snap.Result.Sections)

	rec = ts.do(t, http.MethodGet, "/api/analysis/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.TaskSnapshot](t, rec).Data, 1)
}

func TestRequestAnalysis_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing id", `{}`},
		{"malformed json", `{"security_id":`},
		{"invalid characters", `{"security_id":"60 05"}`},
		{"too long", `{"security_id":"` + strings.Repeat("1", 17) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/analysis", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[any](t, rec).Error)
		})
	}
}

func TestGetTask_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/analysis/tasks/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeBody[domain.TaskSnapshot](t, rec)
	assert.Equal(t, domain.TaskNotFound, env.Data.Status)
	assert.Equal(t, "does-not-exist", env.Data.TaskID)
	assert.Equal(t, "task not found", env.Error)
}

func TestLatestAnalysis(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/analysis/latest/600519", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	doc := testingpkg.NewAggregateFixture()
	require.NoError(t, ts.results.Save(context.Background(), domain.AnalysisResult{
		SecurityID:    "600519",
		FullText:      testingpkg.EngineAnswer,
		Sections:      map[string]string{"综合评级": "中性偏多。"},
		Sources:       doc.Succeeded(),
		FailedSources: doc.Failures(),
	}, doc))

	rec = ts.do(t, http.MethodGet, "/api/analysis/latest/600519", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[domain.AnalysisResult](t, rec).Data
	assert.Equal(t, "中性偏多。", result.Sections["综合评级"])

	rec = ts.do(t, http.MethodGet, "/api/analysis/latest/600519/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[map[string]domain.Document](t, rec).Data
	assert.Len(t, docs, 3)
	assert.Contains(t, docs["quote"].Text, "现价")
	assert.NotContains(t, docs, "news")

	rec = ts.do(t, http.MethodGet, "/api/analysis/latest/000001/sources", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/analysis/latest/bad%20id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitoringLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/monitoring", `{"security_id":"600519","interval_minutes":30}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decodeBody[domain.MonitoringJob](t, rec).Data
	assert.Equal(t, domain.JobRunning, job.Status)
	assert.Equal(t, 30, job.IntervalMinutes)

	rec = ts.do(t, http.MethodPost, "/api/monitoring", `{"security_id":"600519","interval_minutes":5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/security/600519", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, job.JobID, decodeBody[domain.MonitoringJob](t, rec).Data.JobID)

	// wait for the first iteration so later status writes are not raced by it
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/monitoring/"+job.JobID, "")
		return rec.Code == http.StatusOK && decodeBody[domain.MonitoringJob](t, rec).Data.LastRunAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/api/monitoring/"+job.JobID+"/records?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeBody[[]domain.MonitoringRecord](t, rec).Data
	require.Len(t, records, 1)
	assert.False(t, records[0].IsError)

	rec = ts.do(t, http.MethodGet, "/api/monitoring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.MonitoringJob](t, rec).Data, 1)

	rec = ts.do(t, http.MethodPost, "/api/monitoring/pause-all", `{"reason":"maintenance"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[map[string]int](t, rec).Data["paused"])

	rec = ts.do(t, http.MethodGet, "/api/monitoring/"+job.JobID, "")
	paused := decodeBody[domain.MonitoringJob](t, rec).Data
	assert.Equal(t, domain.JobPaused, paused.Status)
	assert.Equal(t, "maintenance", paused.LastMessage)

	rec = ts.do(t, http.MethodPost, "/api/monitoring/resume-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[map[string]int](t, rec).Data["resumed"])

	rec = ts.do(t, http.MethodDelete, "/api/monitoring/"+job.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.JobStopped, decodeBody[domain.MonitoringJob](t, rec).Data.Status)

	rec = ts.do(t, http.MethodGet, "/api/monitoring", "")
	assert.Empty(t, decodeBody[[]domain.MonitoringJob](t, rec).Data)
}

func TestMonitoring_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid interval", http.MethodPost, "/api/monitoring", `{"security_id":"600519","interval_minutes":7}`, http.StatusBadRequest},
		{"missing interval", http.MethodPost, "/api/monitoring", `{"security_id":"600519"}`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/monitoring/nope", "", http.StatusNotFound},
		{"stop unknown job", http.MethodDelete, "/api/monitoring/nope", "", http.StatusNotFound},
		{"records of unknown job", http.MethodGet, "/api/monitoring/nope/records", "", http.StatusNotFound},
		{"bad record limit", http.MethodGet, "/api/monitoring/nope/records?limit=abc", "", http.StatusBadRequest},
		{"record limit too large", http.MethodGet, "/api/monitoring/nope/records?limit=501", "", http.StatusBadRequest},
		{"unknown security", http.MethodGet, "/api/monitoring/security/000002", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestTaskWebSocket(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	taskID, err := ts.srv.tasks.Submit("000001")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/analysis/tasks/" + taskID + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snaps []domain.TaskSnapshot
	for {
		var snap domain.TaskSnapshot
		err := wsjson.Read(ctx, conn, &snap)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err), err)
			break
		}
		snaps = append(snaps, snap)
	}

	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, domain.TaskCompleted, last.Status)
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].Progress, snaps[i-1].Progress)
	}
}

func TestTaskWebSocket_UnknownTask(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/analysis/tasks/unknown/ws", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.TaskNotFound, decodeBody[domain.TaskSnapshot](t, rec).Data.Status)
}

func TestTaskEvents(t *testing.T) {
	ts := newTestServer(t)
	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	taskID, err := ts.srv.tasks.Submit("000001")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/analysis/tasks/"+taskID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := string(body)
	assert.Contains(t, events, "event: progress")
	assert.Contains(t, events, "event: done")
	doneAt := strings.Index(events, "event: done")
	assert.Contains(t, events[doneAt:], `"status":"COMPLETED"`)
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeBody[SystemStatusResponse](t, rec).Data
	assert.Equal(t, "healthy", status.Status)
	assert.Contains(t, status.Caches, "documents")
	require.NotNil(t, status.Pool)
	assert.Equal(t, 2, status.Pool.Size)
	require.NotNil(t, status.Tasks)
	assert.Zero(t, status.Tasks.Total)
	require.NotNil(t, status.Market)
	assert.Equal(t, "XSHG", status.Market.Exchange)
	assert.Zero(t, status.ActiveJobs)

	rec = ts.do(t, http.MethodGet, "/api/system/database", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("start: %w", domain.ErrConflict), http.StatusConflict},
		{fmt.Errorf("job x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInvalidInterval, http.StatusBadRequest},
		{domain.ErrInvalidSecurityID, http.StatusBadRequest},
		{tasks.ErrClosed, http.StatusServiceUnavailable},
		{monitor.ErrSchedulerClosed, http.StatusServiceUnavailable},
		{errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestDecode_EmptyBodyWithoutRequiredFields(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	var body pauseAllRequest
	assert.NoError(t, ts.srv.decode(req, &body))
}
