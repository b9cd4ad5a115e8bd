package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/voxhub/internal/model"
)

// DefaultStreamInterval is how often a job's state is re-read and pushed.
const DefaultStreamInterval = 500 * time.Millisecond

// StreamOptions tunes the progress stream. A zero UnknownJobTimeout waits
// forever for a job the worker does not know.
type StreamOptions struct {
	Interval          time.Duration
	UnknownJobTimeout time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultStreamInterval
	}
	return o
}

// handleStream pushes a job's progress as server-sent events. Every interval
// the job is looked up: a finished job gets one done event and the stream
// closes, a running job gets its current progress, anything else stays
// silent until it shows up or the unknown-job timeout passes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flush := func() {
		if err := rc.Flush(); err != nil {
			s.logger.Debug("flush SSE", "job_id", id, "error", err)
		}
	}
	flush()

	ticker := time.NewTicker(s.stream.Interval)
	defer ticker.Stop()

	var unknownSince time.Time
	for {
		state, progress, result, err := s.engine.Lookup(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("lookup job for stream", "job_id", id, "error", err)
		}

		switch {
		case err != nil:
		case state == model.StateDone:
			_ = writeSSEJSON(w, model.StreamDone, model.StreamMessage{
				Status: model.StreamDone,
				JobID:  id,
				Result: &result,
			})
			flush()
			return
		case state == model.StateRunning:
			unknownSince = time.Time{}
			if err := writeSSEJSON(w, model.StreamRunning, model.StreamMessage{
				Status:   model.StreamRunning,
				JobID:    id,
				Progress: &progress,
			}); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
		case state == model.StatePending:
			unknownSince = time.Time{}
		default:
			if unknownSince.IsZero() {
				unknownSince = time.Now()
			}
			if s.stream.UnknownJobTimeout > 0 && time.Since(unknownSince) >= s.stream.UnknownJobTimeout {
				_ = writeSSEJSON(w, model.StreamUnknown, model.StreamMessage{
					Status: model.StreamUnknown,
					JobID:  id,
				})
				flush()
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return // Client disconnected.
		}
	}
}

// writeSSEJSON writes v as the data of a named SSE event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEEvent writes a named SSE event. Multi-line data is split so that
// each segment gets its own "data:" prefix.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}
