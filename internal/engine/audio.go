package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/seantiz/voxhub/internal/synth"
)

const (
	wavBitDepth     = 16
	wavChannels     = 1
	wavFormatPCM    = 1
	wavMaxAmplitude = 1<<(wavBitDepth-1) - 1

	filePermissions = 0o644
	dirPermissions  = 0o750
)

// writeWAV encodes a as 16-bit mono PCM into dir/<jobID>.wav and returns the
// file path.
func writeWAV(dir, jobID string, a synth.Audio) (string, error) {
	if a.SampleRate <= 0 {
		return "", fmt.Errorf("invalid sample rate %d", a.SampleRate)
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, jobID+".wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, a.SampleRate, wavBitDepth, wavChannels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: wavChannels, SampleRate: a.SampleRate},
		SourceBitDepth: wavBitDepth,
		Data:           toPCM16(a.Samples),
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func toPCM16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		s = min(max(s, -1), 1)
		out[i] = int(s * wavMaxAmplitude)
	}
	return out
}
