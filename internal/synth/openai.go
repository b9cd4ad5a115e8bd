package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// openAIPCMRate is the fixed sample rate of OpenAI's "pcm" speech format
// (16-bit signed little-endian, mono).
const openAIPCMRate = 24000

// OpenAIConfig holds configuration for the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: "https://api.openai.com/v1"
	Model   string // default: "tts-1"
	Voice   string // default: "alloy"
}

// OpenAISynthesizer synthesizes speech with the OpenAI audio API.
type OpenAISynthesizer struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAISynthesizer creates an OpenAISynthesizer with defaults applied.
func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

func (o *OpenAISynthesizer) Name() string { return "openai" }

// Synthesize requests raw PCM from the speech endpoint. Params may override
// "voice", "model" and "speed".
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(stringParam(req.Params, "model", o.cfg.Model)),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(stringParam(req.Params, "voice", o.cfg.Voice)),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          floatParam(req.Params, "speed", 1.0),
	})
	if err != nil {
		return Audio{}, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("read audio: %w", err)
	}

	req.Report(1)
	return Audio{Samples: decodePCM16(raw), SampleRate: openAIPCMRate}, nil
}

// decodePCM16 converts 16-bit little-endian PCM to normalized samples. A
// trailing odd byte is ignored.
func decodePCM16(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}
