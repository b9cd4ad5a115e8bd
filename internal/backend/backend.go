package backend

import (
	"context"
	"errors"

	"github.com/seantiz/voxhub/internal/model"
)

// ErrRejected is returned when a worker answered a call with a non-success
// status. The request was delivered and refused, so nothing was accepted.
var ErrRejected = errors.New("backend rejected request")

// ErrRefused marks a rejection the worker will repeat for the same request:
// a 4xx answer other than 409 Conflict or 429 Too Many Requests. It is
// always wrapped together with ErrRejected.
var ErrRefused = errors.New("backend refused request")

// ErrNotDelivered is returned when the request never reached the worker,
// for example because the connection was refused.
var ErrNotDelivered = errors.New("request not delivered")

// Client is the orchestrator's view of a worker backend. The scheduler only
// depends on this interface so tests can substitute an in-memory fake.
type Client interface {
	// Status returns the worker's current pending and running job ids.
	Status(ctx context.Context, baseURL string) (model.QueueStatus, error)

	// Dispatch forwards a job to the worker. A nil error means the worker
	// accepted the job or already held a job with the same id.
	Dispatch(ctx context.Context, baseURL string, job model.Job) error

	// Register announces a worker to an orchestrator.
	Register(ctx context.Context, orchestratorURL string, d model.BackendDescriptor) error
}

// Definite reports whether a dispatch error is known to have left the job
// unaccepted by the worker. Any other error is ambiguous: the worker may or
// may not have enqueued the job.
func Definite(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrNotDelivered)
}

// Permanent reports whether retrying the same request cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrRefused)
}

// Retryable reports whether a failed dispatch left the job unaccepted and a
// later attempt may succeed.
func Retryable(err error) bool {
	return Definite(err) && !Permanent(err)
}
