package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
)

// envelope mirrors the server response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// HTTPClient talks to the stockwatch HTTP API. It implements TaskSource.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the API at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetTask returns the snapshot of an analysis task.
func (c *HTTPClient) GetTask(ctx context.Context, taskID string) (domain.TaskSnapshot, error) {
	var snap domain.TaskSnapshot
	err := c.do(ctx, http.MethodGet, "/api/analysis/tasks/"+url.PathEscape(taskID), nil, &snap)
	return snap, err
}

// SubmitAnalysis requests an analysis and returns its task id.
func (c *HTTPClient) SubmitAnalysis(ctx context.Context, securityID string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/analysis", map[string]string{"security_id": securityID}, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// LatestAnalysis returns the stored analysis for securityID.
func (c *HTTPClient) LatestAnalysis(ctx context.Context, securityID string) (*domain.AnalysisResult, error) {
	var out domain.AnalysisResult
	if err := c.do(ctx, http.MethodGet, "/api/analysis/latest/"+url.PathEscape(securityID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartMonitoring starts a monitoring job.
func (c *HTTPClient) StartMonitoring(ctx context.Context, securityID string, intervalMinutes int) (*domain.MonitoringJob, error) {
	body := map[string]any{"security_id": securityID, "interval_minutes": intervalMinutes}
	var job domain.MonitoringJob
	if err := c.do(ctx, http.MethodPost, "/api/monitoring", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StopMonitoring stops a monitoring job.
func (c *HTTPClient) StopMonitoring(ctx context.Context, jobID string) (*domain.MonitoringJob, error) {
	var job domain.MonitoringJob
	if err := c.do(ctx, http.MethodDelete, "/api/monitoring/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// MonitoringStatus returns a job by id.
func (c *HTTPClient) MonitoringStatus(ctx context.Context, jobID string) (*domain.MonitoringJob, error) {
	var job domain.MonitoringJob
	if err := c.do(ctx, http.MethodGet, "/api/monitoring/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// MonitoringBySecurity returns the latest job of a security.
func (c *HTTPClient) MonitoringBySecurity(ctx context.Context, securityID string) (*domain.MonitoringJob, error) {
	var job domain.MonitoringJob
	if err := c.do(ctx, http.MethodGet, "/api/monitoring/security/"+url.PathEscape(securityID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListMonitoring returns the active jobs.
func (c *HTTPClient) ListMonitoring(ctx context.Context) ([]domain.MonitoringJob, error) {
	var jobs []domain.MonitoringJob
	if err := c.do(ctx, http.MethodGet, "/api/monitoring", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Records returns the newest records of a job.
func (c *HTTPClient) Records(ctx context.Context, jobID string, limit int) ([]domain.MonitoringRecord, error) {
	path := "/api/monitoring/" + url.PathEscape(jobID) + "/records?limit=" + strconv.Itoa(limit)
	var recs []domain.MonitoringRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// PauseAll pauses every running job and returns how many changed.
func (c *HTTPClient) PauseAll(ctx context.Context, reason string) (int, error) {
	var out struct {
		Paused int `json:"paused"`
	}
	err := c.do(ctx, http.MethodPost, "/api/monitoring/pause-all", map[string]string{"reason": reason}, &out)
	return out.Paused, err
}

// ResumeAll resumes every paused job and returns how many changed.
func (c *HTTPClient) ResumeAll(ctx context.Context) (int, error) {
	var out struct {
		Resumed int `json:"resumed"`
	}
	err := c.do(ctx, http.MethodPost, "/api/monitoring/resume-all", nil, &out)
	return out.Resumed, err
}

// do sends a request and decodes the data field of the response into out.
// 429 maps to domain.ErrRateLimited, 404 to domain.ErrNotFound and 409 to domain.ErrConflict.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MarkTransient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return statusError(resp.StatusCode, fmt.Errorf("%s %s: %s", method, path, msg))
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

func statusError(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errors.Join(domain.ErrRateLimited, err)
	case code == http.StatusNotFound:
		return errors.Join(domain.ErrNotFound, err)
	case code == http.StatusConflict:
		return errors.Join(domain.ErrConflict, err)
	case code >= 500:
		return domain.MarkTransient(err)
	default:
		return err
	}
}
