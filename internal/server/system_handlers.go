package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/stockwatch/internal/cache"
	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/monitor"
	"github.com/aristath/stockwatch/internal/session"
	"github.com/aristath/stockwatch/internal/tasks"
	"github.com/aristath/stockwatch/internal/work"
)

// SystemDeps are the components reported on by the system endpoints. Nil members are skipped.
type SystemDeps struct {
	DataDir   string
	Tasks     *tasks.Registry
	Monitor   *monitor.Scheduler
	MonitorDB *database.DB
	Pool      *work.Pool
	Caches    map[string]CacheStatter
	Session   SessionStatus
}

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	deps        SystemDeps
	startupTime time.Time
}

// SystemStatusResponse is the body of GET /api/system/status.
type SystemStatusResponse struct {
	Status        string                 `json:"status"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	CPUPercent    float64                `json:"cpu_percent"`
	RAMPercent    float64                `json:"ram_percent"`
	DiskFreeGB    float64                `json:"disk_free_gb"`
	Market        *session.Status        `json:"market,omitempty"`
	Caches        map[string]cache.Stats `json:"caches"`
	Pool          *work.PoolStats        `json:"pool,omitempty"`
	Tasks         *tasks.Stats           `json:"tasks,omitempty"`
	MonitorLoops  int                    `json:"monitor_loops"`
	ActiveJobs    int                    `json:"active_jobs"`
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, deps SystemDeps) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		deps:        deps,
		startupTime: time.Now(),
	}
}

// Snapshot collects the current system status.
func (h *SystemHandlers) Snapshot(ctx context.Context) SystemStatusResponse {
	now := time.Now()
	resp := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: now.Sub(h.startupTime).Seconds(),
		Caches:        make(map[string]cache.Stats, len(h.deps.Caches)),
	}

	resp.CPUPercent, resp.RAMPercent = h.getSystemStats()
	if h.deps.DataDir != "" {
		if usage, err := disk.UsageWithContext(ctx, h.deps.DataDir); err == nil {
			resp.DiskFreeGB = float64(usage.Free) / 1e9
		} else {
			h.log.Warn().Err(err).Msg("Failed to get disk usage")
		}
	}

	if h.deps.Session != nil {
		st := h.deps.Session.Status(now)
		resp.Market = &st
	}
	for name, c := range h.deps.Caches {
		resp.Caches[name] = c.Stats()
	}
	if h.deps.Pool != nil {
		ps := h.deps.Pool.Stats()
		resp.Pool = &ps
	}
	if h.deps.Tasks != nil {
		ts := h.deps.Tasks.Stats()
		resp.Tasks = &ts
	}
	if h.deps.Monitor != nil {
		resp.MonitorLoops = h.deps.Monitor.ActiveLoops()
		jobs, err := h.deps.Monitor.ListActive(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to list active jobs")
			resp.Status = "degraded"
		}
		resp.ActiveJobs = len(jobs)
	}
	return resp
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.Snapshot(r.Context()),
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDatabaseStats handles GET /api/system/database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.MonitorDB == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not configured"})
		return
	}

	stats, err := h.deps.MonitorDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	healthy := h.deps.MonitorDB.HealthCheck(r.Context()) == nil
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"name":    h.deps.MonitorDB.Name(),
			"healthy": healthy,
			"stats":   stats,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// getSystemStats returns CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
