package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/dispatch"
	"github.com/seantiz/voxhub/internal/model"
)

func getHealth(t *testing.T, srv *Server) healthResponse {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body healthResponse
	decodeBody(t, resp, &body)
	return body
}

func TestHealthzOrchestrator(t *testing.T) {
	reg := backend.NewRegistry()
	q := dispatch.NewQueue()
	sched := dispatch.NewScheduler(reg, q, backend.NewHTTPClient(time.Second), discardLogger(), dispatch.Options{Interval: time.Hour})
	srv := NewOrchestratorServer(":0", reg, q, sched, discardLogger())

	if err := reg.Register(model.BackendDescriptor{Name: "w1", BaseURL: "http://w1", MaxQueue: 1}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := q.Submit(model.Job{Type: model.JobTypeTTS}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	body := getHealth(t, srv)
	if body.Status != "ok" || body.Role != RoleOrchestrator {
		t.Errorf("health = %+v, want ok orchestrator", body)
	}
	if body.LoopRunning {
		t.Error("loop_running = true before the scheduler started")
	}
	if body.Backends == nil || *body.Backends != 1 || body.Queued == nil || *body.Queued != 1 {
		t.Errorf("counts = backends %v queued %v, want 1 and 1", body.Backends, body.Queued)
	}
	if body.Pending != nil || body.Running != nil {
		t.Error("orchestrator reported worker counts")
	}

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()
	if body := getHealth(t, srv); !body.LoopRunning {
		t.Error("loop_running = false after the scheduler started")
	}
}

func TestHealthzWorker(t *testing.T) {
	srv, eng := newWorkerTestServer(t, fastTone(), StreamOptions{})
	if _, err := eng.Enqueue(t.Context(), model.JobTypeTTS, map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	body := getHealth(t, srv)
	if body.Role != RoleWorker || body.LoopRunning {
		t.Errorf("health = %+v, want idle worker", body)
	}
	if body.Pending == nil || *body.Pending != 1 || body.Running == nil || *body.Running != 0 {
		t.Errorf("counts = pending %v running %v, want 1 and 0", body.Pending, body.Running)
	}
	if body.Backends != nil || body.Queued != nil {
		t.Error("worker reported orchestrator counts")
	}

	startEngine(t, eng)
	if body := getHealth(t, srv); !body.LoopRunning {
		t.Error("loop_running = false after the engine started")
	}
}

func TestHealthzWithoutScheduler(t *testing.T) {
	if body := getHealth(t, newTestServer(t)); body.LoopRunning || body.Role != RoleOrchestrator {
		t.Errorf("health = %+v", body)
	}
}

func TestMetricsCarryRole(t *testing.T) {
	orch := newTestServer(t)
	worker, _ := newWorkerTestServer(t, fastTone(), StreamOptions{})

	ots := httptest.NewServer(orch.Router())
	defer ots.Close()
	wts := httptest.NewServer(worker.Router())
	defer wts.Close()

	for _, url := range []string{ots.URL, wts.URL} {
		resp, err := http.Get(url + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(ots.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	data, _ := io.ReadAll(resp.Body)
	body := string(data)
	for _, want := range []string{
		`voxhub_http_requests_total{method="GET",path="/healthz",role="orchestrator",status="200"}`,
		`voxhub_http_requests_total{method="GET",path="/healthz",role="worker",status="200"}`,
		`voxhub_http_request_duration_seconds_count{method="GET",path="/healthz",role="worker"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
