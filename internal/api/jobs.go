package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/seantiz/voxhub/internal/dispatch"
	"github.com/seantiz/voxhub/internal/model"
)

// submitRequest is the JSON body for POST /tts and POST /jobs on the
// orchestrator. The job id may be given at the top level or as
// payload.job_id; the top level wins.
type submitRequest struct {
	JobID            string         `json:"job_id"`
	Type             string         `json:"type"`
	Payload          map[string]any `json:"payload"`
	PreferredBackend string         `json:"preferred_backend"`
}

type jobIDResponse struct {
	JobID string `json:"job_id"`
}

type masterQueueResponse struct {
	Pending []string `json:"pending"`
}

func (s *Server) handleSubmitTTS(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, model.JobTypeTTS)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "")
}

// submit appends the job to the master queue and answers immediately; the
// scheduler picks it up on a later tick.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, defaultType string) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Type == "" {
		req.Type = defaultType
	}
	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.Payload == nil {
		s.writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	id := req.JobID
	if id == "" {
		raw, ok := req.Payload[model.PayloadJobID]
		if ok && raw != nil {
			pid, isString := raw.(string)
			if !isString {
				s.writeError(w, http.StatusBadRequest, "payload.job_id must be a string")
				return
			}
			id = pid
		}
	}

	if req.Type == model.JobTypeTTS {
		if text, _ := req.Payload["text"].(string); strings.TrimSpace(text) == "" {
			s.writeError(w, http.StatusBadRequest, "payload.text is required")
			return
		}
	}

	id, err := s.queue.Submit(model.Job{
		ID:               id,
		Type:             req.Type,
		Payload:          req.Payload,
		PreferredBackend: req.PreferredBackend,
	})
	if errors.Is(err, dispatch.ErrDuplicateJob) {
		s.logger.Warn("duplicate job id rejected", "job_id", id)
		s.writeError(w, http.StatusConflict, "job "+id+" already submitted")
		return
	}
	if err != nil {
		s.logger.Error("submit failed", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	s.logger.Info("job submitted", "job_id", id, "type", req.Type, "preferred_backend", req.PreferredBackend)
	s.writeJSON(w, http.StatusAccepted, jobIDResponse{JobID: id})
}

func (s *Server) handleMasterQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, masterQueueResponse{Pending: s.queue.Snapshot()})
}
