package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string. The orchestrator uses it for jobs
// submitted without an id.
func NewID() string {
	return ulid.Make().String()
}

// NewLocalID generates a random UUID for jobs submitted directly to a worker.
func NewLocalID() string {
	return uuid.NewString()
}
