// Package synth defines the contract with the external speech engine and
// ships the implementations a worker can be configured with.
package synth

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyText is returned when a synthesis request has no text.
var ErrEmptyText = errors.New("text cannot be empty")

// Request is one synthesis call.
type Request struct {
	Text   string
	Params map[string]any

	// Progress is an optional callback an implementation may invoke with a
	// completion estimate in [0, 1] while it works.
	Progress func(fraction float64)
}

// Report forwards a progress estimate when a callback is set.
func (r Request) Report(fraction float64) {
	if r.Progress != nil {
		r.Progress(fraction)
	}
}

// Audio is mono PCM audio normalized to [-1, 1].
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.Samples)) * time.Second / time.Duration(a.SampleRate)
}

// Synthesizer turns text into audio. Calls may block for several seconds and
// are not expected to stop early once started.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
	Name() string
}

// stringParam returns params[key] when it is a non-empty string.
func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// floatParam returns params[key] when it is a number.
func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return fallback
	}
}
