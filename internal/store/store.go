// Package store persists the worker's job history: the terminal Result of
// every job the worker has executed, bounded to the newest entries.
package store

import (
	"context"
	"errors"

	"github.com/seantiz/voxhub/internal/model"
)

// DefaultHistoryLimit is the number of results retained when no limit is
// configured.
const DefaultHistoryLimit = 1000

// ErrNotFound is returned when no result is recorded for a job id.
var ErrNotFound = errors.New("result not found")

// HistoryStore records job results. A result is written once and never
// overwritten; the oldest results are evicted once the limit is exceeded.
type HistoryStore interface {
	// Put records r and reports whether it was inserted. A second Put for
	// the same job id is ignored and returns false.
	Put(ctx context.Context, r model.Result) (bool, error)
	Get(ctx context.Context, jobID string) (model.Result, error)
	All(ctx context.Context) (map[string]model.Result, error)
	Close() error
}
