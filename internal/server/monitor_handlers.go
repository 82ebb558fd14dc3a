package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/monitor"
)

const (
	maxRecordLimit     = 500
	defaultPauseReason = "paused by request"
)

type startMonitoringRequest struct {
	SecurityID      string `json:"security_id" validate:"required,max=16"`
	IntervalMinutes int    `json:"interval_minutes" validate:"required,oneof=5 10 30 60"`
}

type pauseAllRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

// handleStartMonitoring handles POST /api/monitoring
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startMonitoringRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	job, err := s.monitor.Start(r.Context(), req.SecurityID, req.IntervalMinutes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, job)
}

// handleStopMonitoring handles DELETE /api/monitoring/{jobID}
func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	job, err := s.monitor.Stop(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, job)
}

// handleMonitoringStatus handles GET /api/monitoring/{jobID}
func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.monitor.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, job)
}

// handleMonitoringBySecurity handles GET /api/monitoring/security/{securityID}
func (s *Server) handleMonitoringBySecurity(w http.ResponseWriter, r *http.Request) {
	securityID, err := domain.NormalizeSecurityID(chi.URLParam(r, "securityID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	job, err := s.monitor.StatusBySecurity(r.Context(), securityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, job)
}

// handleListMonitoring handles GET /api/monitoring
func (s *Server) handleListMonitoring(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.monitor.ListActive(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.MonitoringJob{}
	}
	s.writeData(w, http.StatusOK, jobs)
}

// handleMonitoringRecords handles GET /api/monitoring/{jobID}/records?limit=
func (s *Server) handleMonitoringRecords(w http.ResponseWriter, r *http.Request) {
	limit := monitor.DefaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecordLimit {
			s.writeError(w, fmt.Errorf("%w: limit must be between 1 and %d", errBadRequest, maxRecordLimit))
			return
		}
		limit = n
	}

	records, err := s.monitor.Records(r.Context(), chi.URLParam(r, "jobID"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.MonitoringRecord{}
	}
	s.writeData(w, http.StatusOK, records)
}

// handlePauseAll handles POST /api/monitoring/pause-all
func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	var req pauseAllRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = defaultPauseReason
	}

	paused, err := s.monitor.PauseAll(r.Context(), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]int{"paused": paused})
}

// handleResumeAll handles POST /api/monitoring/resume-all
func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	resumed, err := s.monitor.ResumeAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]int{"resumed": resumed})
}
