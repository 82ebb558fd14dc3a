package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":     data,
		"metadata": map[string]any{"timestamp": time.Now().Format(time.RFC3339)},
	})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fakeAPI serves analysis tasks that report RUNNING once and then finish with finalStatus.
type fakeAPI struct {
	finalStatus domain.TaskStatus

	mu    sync.Mutex
	polls map[string]int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analysis", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SecurityID string `json:"security_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SecurityID == "bad id" {
			writeErr(w, http.StatusBadRequest, "invalid security id")
			return
		}
		writeEnvelope(w, http.StatusAccepted, map[string]string{"task_id": "t-" + req.SecurityID, "status": "PENDING"})
	})
	mux.HandleFunc("GET /api/analysis/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.polls[id]++
		n := f.polls[id]
		f.mu.Unlock()

		if n == 1 {
			writeEnvelope(w, http.StatusOK, domain.TaskSnapshot{TaskID: id, Status: domain.TaskRunning, Progress: 40})
			return
		}
		snap := domain.TaskSnapshot{TaskID: id, Status: f.finalStatus, Progress: 100}
		if f.finalStatus == domain.TaskCompleted {
			snap.Result = &domain.AnalysisResult{
				SecurityID:    id[2:],
				Sections:      map[string]string{"综合评级": "中性", "风险提示": domain.SectionNotFound},
				Sources:       []string{"quote"},
				FailedSources: []string{"news"},
			}
		} else {
			snap.Error = "analysis panicked"
		}
		writeEnvelope(w, http.StatusOK, snap)
	})
	mux.HandleFunc("GET /api/analysis/latest/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "000001" {
			writeErr(w, http.StatusNotFound, "not found")
			return
		}
		writeEnvelope(w, http.StatusOK, domain.AnalysisResult{
			SecurityID: "000001",
			Sections:   map[string]string{"操作建议": "观望", "补充说明": "无"},
			Synthetic:  true,
		})
	})
	mux.HandleFunc("POST /api/monitoring", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusConflict, "active monitoring job already exists")
	})
	mux.HandleFunc("GET /api/monitoring", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []domain.MonitoringJob{{
			JobID:           "job-1",
			SecurityID:      "000001",
			IntervalMinutes: 30,
			Status:          domain.JobRunning,
			LastMessage:     "monitoring started",
		}})
	})
	mux.HandleFunc("POST /api/monitoring/pause-all", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]int{"paused": 2})
	})
	return mux
}

func runWatch(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", serverURL, "--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func newFakeServer(t *testing.T, final domain.TaskStatus) *httptest.Server {
	t.Helper()
	api := &fakeAPI{finalStatus: final, polls: make(map[string]int)}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze_PrintsSections(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "analyze", "000001", "--poll-interval", "5ms")
	require.NoError(t, err)

	assert.Contains(t, out, "submitted as task t-000001")
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "【综合评级】\n中性")
	assert.Contains(t, out, "【风险提示】\n"+domain.SectionNotFound)
	assert.Contains(t, out, "partial data, missing: news")
}

func TestAnalyze_MultipleSecurities(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "analyze", "000001", "600519", "--poll-interval", "5ms")
	require.NoError(t, err)

	assert.Contains(t, out, "═══ 000001 ═══")
	assert.Contains(t, out, "═══ 600519 ═══")
}

func TestAnalyze_FailedTask(t *testing.T) {
	srv := newFakeServer(t, domain.TaskFailed)

	out, err := runWatch(t, srv.URL, "analyze", "000001", "--poll-interval", "5ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1")
	assert.Contains(t, out, "analysis panicked")
}

func TestAnalyze_RejectedSubmission(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "analyze", "bad id", "--poll-interval", "5ms")
	require.Error(t, err)
	assert.Contains(t, out, "REJECTED")
}

func TestAnalyze_RequiresArgs(t *testing.T) {
	_, err := runWatch(t, "http://127.0.0.1:1", "analyze")
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "latest", "000001")
	require.NoError(t, err)
	assert.Contains(t, out, "inference engine unavailable")
	assert.Less(t, strings.Index(out, "【操作建议】"), strings.Index(out, "【补充说明】"))

	_, err = runWatch(t, srv.URL, "latest", "600519")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMonitorStart_Conflict(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	_, err := runWatch(t, srv.URL, "monitor", "start", "000001", "-i", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestMonitorStart_InvalidInterval(t *testing.T) {
	_, err := runWatch(t, "http://127.0.0.1:1", "monitor", "start", "000001", "-i", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be one of")
}

func TestMonitorList(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "monitor", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "last run never")
}

func TestMonitorList_JSON(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "--json", "monitor", "list")
	require.NoError(t, err)

	var jobs []domain.MonitoringJob
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)
}

func TestMonitorPauseAll(t *testing.T) {
	srv := newFakeServer(t, domain.TaskCompleted)

	out, err := runWatch(t, srv.URL, "monitor", "pause-all", "--reason", "maintenance")
	require.NoError(t, err)
	assert.Equal(t, "paused 2 job(s)\n", out)
}

func TestMonitorStatus_RequiresTarget(t *testing.T) {
	_, err := runWatch(t, "http://127.0.0.1:1", "monitor", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--security")
}
