package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/dispatch"
	"github.com/seantiz/voxhub/internal/model"
)

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

func TestSubmitTTS(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"payload": map[string]any{"text": "hello"},
	})
	var body jobIDResponse
	decodeBody(t, resp, &body)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if len(body.JobID) != 26 {
		t.Errorf("job_id = %q, want a ULID", body.JobID)
	}

	qresp, err := http.Get(ts.URL + "/queue")
	if err != nil {
		t.Fatalf("GET /queue: %v", err)
	}
	var queue masterQueueResponse
	decodeBody(t, qresp, &queue)
	if !slices.Equal(queue.Pending, []string{body.JobID}) {
		t.Errorf("pending = %v, want [%s]", queue.Pending, body.JobID)
	}
}

func TestSubmitKeepsSuppliedJobID(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"job_id":  "client-chosen",
		"payload": map[string]any{"text": "hello"},
	})
	var body jobIDResponse
	decodeBody(t, resp, &body)

	if body.JobID != "client-chosen" {
		t.Errorf("job_id = %q, want client-chosen", body.JobID)
	}
}

func TestSubmitTakesPayloadJobID(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"payload": map[string]any{"text": "hi", "job_id": "abc"},
	})
	var body jobIDResponse
	decodeBody(t, resp, &body)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if body.JobID != "abc" {
		t.Errorf("job_id = %q, want abc", body.JobID)
	}
	if got := srv.queue.Snapshot(); !slices.Equal(got, []string{"abc"}) {
		t.Errorf("pending = %v, want [abc]", got)
	}
}

func TestSubmitTopLevelJobIDWins(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{
		"job_id":  "outer",
		"payload": map[string]any{"text": "hi", "job_id": "inner"},
	})
	var body jobIDResponse
	decodeBody(t, resp, &body)

	if body.JobID != "outer" {
		t.Errorf("job_id = %q, want outer", body.JobID)
	}
}

func TestSubmitRejectsDuplicateJobID(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i, want := range []int{http.StatusAccepted, http.StatusConflict} {
		resp := postJSON(t, ts.URL+"/tts", map[string]any{
			"payload": map[string]any{"text": "hi", "job_id": "twice"},
		})
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("submission %d status = %d, want %d", i+1, resp.StatusCode, want)
		}
	}
	if n := srv.queue.Len(); n != 1 {
		t.Errorf("queue len = %d, want 1", n)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		path string
		body map[string]any
	}{
		{"tts missing payload", "/tts", map[string]any{}},
		{"jobs missing type", "/jobs", map[string]any{"payload": map[string]any{"text": "x"}}},
		{"jobs missing payload", "/jobs", map[string]any{"type": "tts"}},
		{"tts missing text", "/tts", map[string]any{"payload": map[string]any{"voice": "x"}}},
		{"tts blank text", "/jobs", map[string]any{"type": "tts", "payload": map[string]any{"text": "  "}}},
		{"payload job_id not string", "/tts", map[string]any{"payload": map[string]any{"text": "x", "job_id": 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+tt.path, tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if n := srv.queue.Len(); n != 0 {
		t.Errorf("queue len = %d, want 0", n)
	}
}

func TestSubmitGenericJob(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/jobs", map[string]any{
		"type":              "tts",
		"payload":           map[string]any{"text": "pinned"},
		"preferred_backend": "gpu-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	// Pinned to gpu-1, so another backend must not receive it.
	other := model.BackendDescriptor{Name: "gpu-2", BaseURL: "http://x", MaxQueue: 1}
	if _, ok := srv.queue.PopFor(other); ok {
		t.Error("job pinned to gpu-1 was eligible for gpu-2")
	}
	pinned := model.BackendDescriptor{Name: "gpu-1", BaseURL: "http://x", MaxQueue: 1}
	job, ok := srv.queue.PopFor(pinned)
	if !ok {
		t.Fatal("job not eligible for its preferred backend")
	}
	if job.Payload["text"] != "pinned" {
		t.Errorf("payload text = %v, want pinned", job.Payload["text"])
	}
}

// TestOrchestratorDropsRefusedJob checks that a job the worker refuses does
// not hold up the jobs queued behind it.
func TestOrchestratorDropsRefusedJob(t *testing.T) {
	worker, eng := newWorkerTestServer(t, fastTone(), StreamOptions{})
	wts := httptest.NewServer(worker.Router())
	defer wts.Close()

	orch := newTestServer(t)
	if err := orch.registry.Register(model.BackendDescriptor{Name: "w1", BaseURL: wts.URL, MaxQueue: 5}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Queued directly, past request validation, so the worker answers 400.
	if _, err := orch.queue.Submit(model.Job{ID: "bad", Type: model.JobTypeTTS, Payload: map[string]any{"voice": "x"}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := orch.queue.Submit(model.Job{ID: "good", Type: model.JobTypeTTS, Payload: map[string]any{"text": "good"}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sched := dispatch.NewScheduler(orch.registry, orch.queue, backend.NewHTTPClient(2*time.Second), discardLogger(), dispatch.Options{RequeueOnFailure: true})
	for range 3 {
		sched.Tick(t.Context())
	}

	if got := orch.queue.Snapshot(); len(got) != 0 {
		t.Errorf("master queue = %v, want empty", got)
	}
	if got := eng.Status().Pending; !slices.Equal(got, []string{"good"}) {
		t.Errorf("worker pending = %v, want [good]", got)
	}
}

// TestOrchestratorDispatchesToWorker wires an orchestrator and a worker
// together over HTTP and drives one scheduler tick by hand.
func TestOrchestratorDispatchesToWorker(t *testing.T) {
	worker, eng := newWorkerTestServer(t, fastTone(), StreamOptions{})
	wts := httptest.NewServer(worker.Router())
	defer wts.Close()

	orch := newTestServer(t)
	ots := httptest.NewServer(orch.Router())
	defer ots.Close()

	client := backend.NewHTTPClient(2 * time.Second)
	if err := client.Register(t.Context(), ots.URL, model.BackendDescriptor{
		Name:         "w1",
		BaseURL:      wts.URL,
		Capabilities: []string{model.JobTypeTTS},
		MaxQueue:     2,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		resp := postJSON(t, ots.URL+"/tts", map[string]any{"payload": map[string]any{"text": text}})
		var body jobIDResponse
		decodeBody(t, resp, &body)
		ids = append(ids, body.JobID)
	}

	sched := dispatch.NewScheduler(orch.registry, orch.queue, client, discardLogger(), dispatch.Options{RequeueOnFailure: true})
	dispatched := sched.Tick(t.Context())

	if dispatched["w1"] != 2 {
		t.Fatalf("dispatched = %d, want 2", dispatched["w1"])
	}
	if got := eng.Status().Pending; !slices.Equal(got, ids[:2]) {
		t.Errorf("worker pending = %v, want %v", got, ids[:2])
	}
	if got := orch.queue.Snapshot(); !slices.Equal(got, ids[2:]) {
		t.Errorf("master queue = %v, want %v", got, ids[2:])
	}

	// The worker is still full, so a second tick dispatches nothing.
	if n := sched.Tick(t.Context())["w1"]; n != 0 {
		t.Errorf("second tick dispatched %d, want 0", n)
	}

	eng.Cancel(ids[0])
	if n := sched.Tick(t.Context())["w1"]; n != 1 {
		t.Errorf("tick after cancel dispatched %d, want 1", n)
	}
	if orch.queue.Len() != 0 {
		t.Errorf("master queue len = %d, want 0", orch.queue.Len())
	}
}
