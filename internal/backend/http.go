package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/voxhub/internal/model"
)

// DefaultCallTimeout bounds every status, dispatch and register call.
const DefaultCallTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response body is kept in errors.
const maxErrorBody = 512

// Compile-time interface satisfaction check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient implements Client over the worker's JSON HTTP API.
type HTTPClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a client whose calls are each bounded by timeout.
// A non-positive timeout falls back to DefaultCallTimeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Status queries GET {base}/queue.
func (c *HTTPClient) Status(ctx context.Context, baseURL string) (model.QueueStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(baseURL, "queue"), nil)
	if err != nil {
		return model.QueueStatus{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.QueueStatus{}, fmt.Errorf("query status: %w", classify(err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return model.QueueStatus{}, err
	}

	var status model.QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return model.QueueStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// Dispatch posts the job payload to {base}/{type}. The job id travels in
// the payload so the worker keeps the orchestrator's id.
func (c *HTTPClient) Dispatch(ctx context.Context, baseURL string, job model.Job) error {
	payload := make(map[string]any, len(job.Payload)+1)
	maps.Copy(payload, job.Payload)
	payload[model.PayloadJobID] = job.ID

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	err = c.postJSON(ctx, joinURL(baseURL, job.Type), body)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		// The worker already holds this job id.
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}
	return nil
}

// Register posts the descriptor to {orchestrator}/backends.
func (c *HTTPClient) Register(ctx context.Context, orchestratorURL string, d model.BackendDescriptor) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := c.postJSON(ctx, joinURL(orchestratorURL, "backends"), body); err != nil {
		return fmt.Errorf("register backend %s: %w", d.Name, err)
	}
	return nil
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// statusError carries a non-success HTTP status. It wraps ErrRejected, and
// also ErrRefused for client errors the worker would answer the same way
// again.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", ErrRejected, e.code, e.body)
}

func (e *statusError) Unwrap() []error {
	if e.permanent() {
		return []error{ErrRejected, ErrRefused}
	}
	return []error{ErrRejected}
}

func (e *statusError) permanent() bool {
	switch e.code {
	case http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return e.code >= 400 && e.code < 500
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
}

// classify marks connection failures that happened before any bytes were
// sent as ErrNotDelivered.
func classify(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrNotDelivered, err)
	}
	return err
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
