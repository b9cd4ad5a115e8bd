package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds one call to the model server.
const DefaultHTTPTimeout = 120 * time.Second

const synthesizePath = "/synthesize"

// HTTPSynthesizer calls a standalone model server that exposes
// POST /synthesize {text, params} -> {samples, sample_rate}.
type HTTPSynthesizer struct {
	baseURL    string
	httpClient *http.Client
}

type httpSynthRequest struct {
	Text   string         `json:"text"`
	Params map[string]any `json:"params,omitempty"`
}

type httpSynthResponse struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// NewHTTPSynthesizer creates a client for the model server at baseURL.
func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSynthesizer) Name() string { return "http" }

// Synthesize sends the text to the model server and decodes the samples.
func (h *HTTPSynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if req.Text == "" {
		return Audio{}, ErrEmptyText
	}

	data, err := json.Marshal(httpSynthRequest{Text: req.Text, Params: req.Params})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+synthesizePath, bytes.NewReader(data))
	if err != nil {
		return Audio{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Audio{}, fmt.Errorf("synthesis failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out httpSynthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Audio{}, fmt.Errorf("decode response: %w", err)
	}
	if out.SampleRate <= 0 {
		return Audio{}, fmt.Errorf("invalid sample rate %d", out.SampleRate)
	}

	req.Report(1)
	return Audio{Samples: out.Samples, SampleRate: out.SampleRate}, nil
}
