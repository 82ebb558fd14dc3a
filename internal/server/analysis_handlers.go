package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/stockwatch/internal/domain"
)

type analysisRequest struct {
	SecurityID string `json:"security_id" validate:"required,max=16"`
}

// handleRequestAnalysis handles POST /api/analysis
func (s *Server) handleRequestAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	taskID, err := s.tasks.Submit(req.SecurityID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeData(w, http.StatusAccepted, map[string]interface{}{
		"task_id": taskID,
		"status":  domain.TaskPending,
	})
}

// handleGetTask handles GET /api/analysis/tasks/{taskID}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap := s.tasks.Query(chi.URLParam(r, "taskID"))
	if snap.Status == domain.TaskNotFound {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": "task not found",
			"data":  snap,
		})
		return
	}
	s.writeData(w, http.StatusOK, snap)
}

// handleListTasks handles GET /api/analysis/tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.tasks.List())
}

// handleLatestAnalysis handles GET /api/analysis/latest/{securityID}
func (s *Server) handleLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	securityID, err := domain.NormalizeSecurityID(chi.URLParam(r, "securityID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.results.FindLatestBySecurity(r.Context(), securityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, result)
}

// handleLatestSources handles GET /api/analysis/latest/{securityID}/sources.
// It returns the source documents the latest analysis was composed from.
func (s *Server) handleLatestSources(w http.ResponseWriter, r *http.Request) {
	securityID, err := domain.NormalizeSecurityID(chi.URLParam(r, "securityID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	docs, err := s.results.LoadSources(r.Context(), securityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, docs)
}

// handleTaskWebSocket handles GET /api/analysis/tasks/{taskID}/ws.
// Every progress change is sent as a JSON snapshot; the socket closes after the terminal one.
func (s *Server) handleTaskWebSocket(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	updates, cancel, err := s.tasks.Subscribe(taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"error": "task not found",
				"data":  domain.TaskSnapshot{TaskID: taskID, Status: domain.TaskNotFound},
			})
			return
		}
		s.writeError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// The client never sends; CloseRead cancels ctx when it disconnects
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "task finished")
				return
			}
			writeCtx, done := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, snap)
			done()
			if err != nil {
				s.log.Debug().Err(err).Str("task_id", taskID).Msg("WebSocket write failed")
				return
			}
		}
	}
}

const wsWriteTimeout = 10 * time.Second
