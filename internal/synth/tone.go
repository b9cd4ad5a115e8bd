package synth

import (
	"context"
	"math"
	"time"
)

// Tone synthesizer defaults.
const (
	DefaultToneSteps     = 10
	DefaultToneStepDelay = 200 * time.Millisecond
	DefaultToneRate      = 24000

	toneFrequency = 440.0
	toneAmplitude = 0.3
	tonePerChar   = 60 * time.Millisecond
	toneMinLength = 250 * time.Millisecond
)

// ToneSynthesizer produces a sine tone whose length follows the text length.
// It reports staged progress and stands in for a real model in local runs
// and end-to-end tests.
type ToneSynthesizer struct {
	Steps      int
	StepDelay  time.Duration
	SampleRate int
}

// NewToneSynthesizer creates a ToneSynthesizer with the default staging.
func NewToneSynthesizer() *ToneSynthesizer {
	return &ToneSynthesizer{
		Steps:      DefaultToneSteps,
		StepDelay:  DefaultToneStepDelay,
		SampleRate: DefaultToneRate,
	}
}

func (t *ToneSynthesizer) Name() string { return "tone" }

// Synthesize walks through the configured steps, reporting progress after
// each, then renders the tone.
func (t *ToneSynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}

	for step := range t.Steps {
		req.Report(float64(step) / float64(t.Steps))
		if t.StepDelay > 0 {
			select {
			case <-time.After(t.StepDelay):
			case <-ctx.Done():
				return Audio{}, ctx.Err()
			}
		}
	}

	rate := t.SampleRate
	if rate <= 0 {
		rate = DefaultToneRate
	}
	length := max(time.Duration(len([]rune(req.Text)))*tonePerChar, toneMinLength)
	if speed := floatParam(req.Params, "speed", 1.0); speed > 0 {
		length = time.Duration(float64(length) / speed)
	}

	n := int(length.Seconds() * float64(rate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(toneAmplitude * math.Sin(2*math.Pi*toneFrequency*float64(i)/float64(rate)))
	}

	req.Report(1)
	return Audio{Samples: samples, SampleRate: rate}, nil
}
