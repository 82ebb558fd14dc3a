package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/stockwatch/internal/domain"
)

// sseHeartbeat keeps idle proxies from closing the stream.
const sseHeartbeat = 30 * time.Second

// handleTaskEvents handles GET /api/analysis/tasks/{taskID}/events as Server-Sent Events.
// It emits a "progress" event per snapshot and a final "done" event.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	var last domain.TaskSnapshot
	for {
		select {
		case <-r.Context().Done():
			s.log.Debug().Str("task_id", taskID).Msg("Client disconnected from task stream")
			return

		case snap, ok := <-updates:
			if !ok {
				s.writeEvent(w, "done", last)
				flusher.Flush()
				return
			}
			last = snap
			s.writeEvent(w, "progress", snap)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE event with a JSON payload.
func (s *Server) writeEvent(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
