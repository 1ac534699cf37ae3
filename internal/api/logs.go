package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/mapbridge/internal/model"
	"github.com/seantiz/mapbridge/internal/store"
)

// handleStreamLogs streams live log records of the served cache as SSE.
func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	if s.logTopic == "" {
		s.writeError(w, http.StatusNotFound, "no cache loaded")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(s.logTopic)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode log event", "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// jobLogsResponse is the JSON response for GET /v1/jobs/:id/logs.
type jobLogsResponse struct {
	JobID   string            `json:"job_id"`
	Records []model.LogRecord `json:"records"`
}

func (s *Server) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for logs", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	records, err := s.store.GetLogRecords(r.Context(), id)
	if err != nil {
		s.logger.Error("get log records", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log records")
		return
	}

	s.writeJSON(w, http.StatusOK, jobLogsResponse{
		JobID:   id,
		Records: records,
	})
}

// writeSSEData writes a data event. Multi-line strings are split so that
// each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
