package api

import (
	"net/http"

	"github.com/seantiz/voxhub/internal/model"
)

// registerBackendRequest is the JSON body for POST /backends. MaxQueue is a
// pointer so an omitted value can take the default while an explicit zero
// is still rejected.
type registerBackendRequest struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	Capabilities []string `json:"capabilities"`
	MaxQueue     *int     `json:"max_queue"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleRegisterBackend(w http.ResponseWriter, r *http.Request) {
	var req registerBackendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d := model.BackendDescriptor{
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		Capabilities: req.Capabilities,
		MaxQueue:     model.DefaultMaxQueue,
	}
	if req.MaxQueue != nil {
		d.MaxQueue = *req.MaxQueue
	}

	if err := s.registry.Register(d); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("backend registered", "backend", d.Name, "base_url", d.BaseURL, "max_queue", d.MaxQueue)
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}
