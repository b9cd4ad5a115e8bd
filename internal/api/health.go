package api

import "net/http"

// healthResponse reports liveness plus the state of the process's
// background loop. Count fields are set only for the role that owns them.
type healthResponse struct {
	Status      string `json:"status"`
	Role        string `json:"role"`
	LoopRunning bool   `json:"loop_running"`

	Backends *int `json:"backends,omitempty"`
	Queued   *int `json:"queued,omitempty"`

	Pending *int `json:"pending,omitempty"`
	Running *int `json:"running,omitempty"`
}

// handleHealthz always answers 200 while the process serves HTTP; a stopped
// loop shows up as loop_running=false rather than as a failed check.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Role: s.role}

	switch s.role {
	case RoleOrchestrator:
		backends, queued := len(s.registry.List()), s.queue.Len()
		resp.Backends, resp.Queued = &backends, &queued
		resp.LoopRunning = s.scheduler != nil && s.scheduler.Running()
	case RoleWorker:
		status := s.engine.Status()
		pending, running := len(status.Pending), len(status.Running)
		resp.Pending, resp.Running = &pending, &running
		resp.LoopRunning = s.engine.Running()
	}

	s.writeJSON(w, http.StatusOK, resp)
}
