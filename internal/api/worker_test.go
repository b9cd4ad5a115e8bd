package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/seantiz/voxhub/internal/model"
)

func deleteRequest(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", url, err)
	}
	return resp
}

func getQueue(t *testing.T, base string) model.QueueStatus {
	t.Helper()
	resp, err := http.Get(base + "/queue")
	if err != nil {
		t.Fatalf("GET /queue: %v", err)
	}
	var status model.QueueStatus
	decodeBody(t, resp, &status)
	return status
}

func TestWorkerEnqueue(t *testing.T) {
	srv, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{"text": "hello"})
	var body jobIDResponse
	decodeBody(t, resp, &body)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if body.JobID == "" {
		t.Fatal("empty job_id")
	}

	status := getQueue(t, ts.URL)
	if !slices.Equal(status.Pending, []string{body.JobID}) {
		t.Errorf("pending = %v, want [%s]", status.Pending, body.JobID)
	}
	if len(status.Running) != 0 {
		t.Errorf("running = %v, want empty", status.Running)
	}
}

func TestWorkerEnqueueKeepsOrchestratorID(t *testing.T) {
	srv, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	payload := map[string]any{"text": "hello", "job_id": "01ORCHESTRATOR"}
	resp := postJSON(t, ts.URL+"/tts", payload)
	var body jobIDResponse
	decodeBody(t, resp, &body)
	if body.JobID != "01ORCHESTRATOR" {
		t.Errorf("job_id = %q, want 01ORCHESTRATOR", body.JobID)
	}

	dup := postJSON(t, ts.URL+"/tts", payload)
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", dup.StatusCode)
	}
}

func TestWorkerEnqueueValidation(t *testing.T) {
	srv, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing text", map[string]any{}},
		{"blank text", map[string]any{"text": "  "}},
		{"params not an object", map[string]any{"text": "x", "params": "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/tts", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestWorkerCancel(t *testing.T) {
	srv, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var ids []string
	for _, text := range []string{"a", "b"} {
		resp := postJSON(t, ts.URL+"/tts", map[string]any{"text": text})
		var body jobIDResponse
		decodeBody(t, resp, &body)
		ids = append(ids, body.JobID)
	}

	resp := deleteRequest(t, ts.URL+"/queue/"+ids[0])
	var body statusResponse
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "cancelled" {
		t.Fatalf("cancel = %d %q, want 200 cancelled", resp.StatusCode, body.Status)
	}

	if got := getQueue(t, ts.URL).Pending; !slices.Equal(got, ids[1:]) {
		t.Errorf("pending = %v, want %v", got, ids[1:])
	}
}

func TestWorkerCancelUnknownIsNoop(t *testing.T) {
	srv, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/tts", map[string]any{"text": "keep"})
	var queued jobIDResponse
	decodeBody(t, resp, &queued)

	cancel := deleteRequest(t, ts.URL+"/queue/never-seen")
	var body statusResponse
	decodeBody(t, cancel, &body)
	if cancel.StatusCode != http.StatusOK || body.Status != "cancelled" {
		t.Errorf("cancel unknown = %d %q, want 200 cancelled", cancel.StatusCode, body.Status)
	}

	if got := getQueue(t, ts.URL).Pending; !slices.Equal(got, []string{queued.JobID}) {
		t.Errorf("pending = %v, want unchanged [%s]", got, queued.JobID)
	}
}

func TestWorkerHistory(t *testing.T) {
	srv, eng := newWorkerTestServer(t, fastTone(), StreamOptions{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var empty map[string]model.Result
	decodeBody(t, resp, &empty)
	if len(empty) != 0 {
		t.Fatalf("history = %v, want empty", empty)
	}

	missing, err := http.Get(ts.URL + "/history/nope")
	if err != nil {
		t.Fatalf("GET /history/nope: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing item status = %d, want 404", missing.StatusCode)
	}

	startEngine(t, eng)
	post := postJSON(t, ts.URL+"/tts", map[string]any{"text": "done soon"})
	var queued jobIDResponse
	decodeBody(t, post, &queued)

	deadline := time.Now().Add(5 * time.Second)
	var history map[string]model.Result
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/history")
		if err != nil {
			t.Fatalf("GET /history: %v", err)
		}
		history = nil
		decodeBody(t, resp, &history)
		if _, ok := history[queued.JobID]; ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	r, ok := history[queued.JobID]
	if !ok {
		t.Fatalf("job %s never reached history", queued.JobID)
	}
	if r.Status != model.StatusCompleted {
		t.Errorf("status = %q, want completed (error %q)", r.Status, r.Error)
	}

	item, err := http.Get(ts.URL + "/history/" + queued.JobID)
	if err != nil {
		t.Fatalf("GET history item: %v", err)
	}
	var got model.Result
	decodeBody(t, item, &got)
	if got.JobID != queued.JobID || got.URL == "" {
		t.Errorf("history item = %+v, want job %s with url", got, queued.JobID)
	}

	status := getQueue(t, ts.URL)
	if len(status.Pending)+len(status.Running) != 0 {
		t.Errorf("queue = %+v, want empty once finished", status)
	}
}
