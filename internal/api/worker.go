package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/voxhub/internal/engine"
	"github.com/seantiz/voxhub/internal/model"
	"github.com/seantiz/voxhub/internal/store"
)

const statusCancelled = "cancelled"

func (s *Server) handleEnqueueTTS(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.engine.Enqueue(r.Context(), model.JobTypeTTS, payload)
	switch {
	case errors.Is(err, engine.ErrDuplicateJob):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, engine.ErrInvalidPayload), errors.Is(err, engine.ErrUnsupportedType):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("enqueue job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.logger.Info("job enqueued", "job_id", id)
	s.writeJSON(w, http.StatusAccepted, jobIDResponse{JobID: id})
}

func (s *Server) handleWorkerQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleCancel always reports success: cancelling a running, finished or
// unknown job is a no-op.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.engine.Cancel(chi.URLParam(r, "id"))
	s.writeJSON(w, http.StatusOK, statusResponse{Status: statusCancelled})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.History(r.Context())
	if err != nil {
		s.logger.Error("list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.engine.Result(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found in history")
		return
	}
	if err != nil {
		s.logger.Error("get history item", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get result")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
