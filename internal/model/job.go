package model

import (
	"errors"
	"fmt"
	"time"
)

// JobTypeTTS is the text-to-speech job type. A job's type selects the
// worker route it is dispatched to.
const JobTypeTTS = "tts"

// Result status constants.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stream message status constants.
const (
	StreamRunning = "running"
	StreamDone    = "done"
	StreamUnknown = "unknown"
)

// PayloadJobID is the payload key carrying the job id between orchestrator
// and worker.
const PayloadJobID = "job_id"

// DefaultMaxQueue is applied to backend registrations that omit max_queue.
const DefaultMaxQueue = 5

// ErrInvalidBackend is returned when a backend descriptor fails validation.
var ErrInvalidBackend = errors.New("invalid backend descriptor")

// JobState is where a job currently sits inside a worker.
type JobState int

const (
	StateUnknown JobState = iota
	StatePending
	StateRunning
	StateDone
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// BackendDescriptor describes a worker registered with the orchestrator.
type BackendDescriptor struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	Capabilities []string `json:"capabilities"`
	MaxQueue     int      `json:"max_queue"`
}

// Validate reports whether the descriptor can be registered.
func (d BackendDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBackend)
	}
	if d.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrInvalidBackend)
	}
	if d.MaxQueue <= 0 {
		return fmt.Errorf("%w: max_queue must be positive, got %d", ErrInvalidBackend, d.MaxQueue)
	}
	return nil
}

// Supports reports whether the backend accepts jobs of the given type.
// An empty capability set accepts everything.
func (d BackendDescriptor) Supports(jobType string) bool {
	if len(d.Capabilities) == 0 {
		return true
	}
	for _, c := range d.Capabilities {
		if c == jobType {
			return true
		}
	}
	return false
}

// Job is one unit of work held in the orchestrator's master queue.
type Job struct {
	ID               string         `json:"job_id"`
	Type             string         `json:"type"`
	Payload          map[string]any `json:"payload"`
	PreferredBackend string         `json:"preferred_backend,omitempty"`
}

// EligibleFor reports whether the job may be dispatched to the backend.
// Jobs pinned to a backend only go to that backend.
func (j Job) EligibleFor(d BackendDescriptor) bool {
	if j.PreferredBackend != "" && j.PreferredBackend != d.Name {
		return false
	}
	return d.Supports(j.Type)
}

// QueueStatus is a worker's self-reported queue snapshot.
type QueueStatus struct {
	Running []string `json:"running"`
	Pending []string `json:"pending"`
}

// Depth returns the number of jobs the worker is holding.
func (s QueueStatus) Depth() int {
	return len(s.Running) + len(s.Pending)
}

// Result is the terminal record of a job executed by a worker.
type Result struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	URL        string    `json:"url,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	DurationMS int       `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// StreamMessage is one event on a job's progress stream.
type StreamMessage struct {
	Status   string   `json:"status"`
	JobID    string   `json:"job_id"`
	Progress *float64 `json:"progress,omitempty"`
	Result   *Result  `json:"result,omitempty"`
}
