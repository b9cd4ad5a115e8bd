// testserver starts an orchestrator plus in-process tone workers for E2E
// testing. Usage: go run ./cmd/testserver
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/seantiz/voxhub/internal/api"
	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/config"
	"github.com/seantiz/voxhub/internal/dispatch"
	"github.com/seantiz/voxhub/internal/engine"
	"github.com/seantiz/voxhub/internal/model"
	"github.com/seantiz/voxhub/internal/store"
	"github.com/seantiz/voxhub/internal/synth"
)

const (
	envWorkers     = "VOXHUB_TESTSERVER_WORKERS"
	defaultWorkers = 2
	toneStepDelay  = 50 * time.Millisecond
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	workers := defaultWorkers
	if v := os.Getenv(envWorkers); v != "" {
		if workers, err = strconv.Atoi(v); err != nil || workers < 1 {
			log.Fatalf("invalid %s: %q", envWorkers, v)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := backend.NewRegistry()
	queue := dispatch.NewQueue()
	sched := dispatch.NewScheduler(reg, queue, backend.NewHTTPClient(cfg.Orchestrator.CallTimeout.Duration), logger, dispatch.Options{
		Interval:         cfg.Orchestrator.TickInterval.Duration,
		RequeueOnFailure: cfg.Orchestrator.RequeueOnFailure,
	})
	servers := []*api.Server{api.NewOrchestratorServer(cfg.Orchestrator.ListenAddr, reg, queue, sched, logger)}

	for i := range workers {
		name := fmt.Sprintf("tone-%d", i+1)
		addr, err := freeAddr()
		if err != nil {
			log.Fatalf("find free port: %v", err)
		}

		history, err := store.NewSQLiteStore(":memory:", cfg.Worker.HistoryLimit)
		if err != nil {
			log.Fatalf("failed to open history store: %v", err)
		}
		defer history.Close()

		tone := synth.NewToneSynthesizer()
		tone.StepDelay = toneStepDelay

		wlog := logger.With("backend", name)
		eng := engine.New(tone, history, wlog, engine.Options{
			PollInterval: cfg.Worker.PollInterval.Duration,
			OutputDir:    cfg.Worker.OutputDir,
		})
		if err := eng.Start(ctx); err != nil {
			log.Fatalf("failed to start %s: %v", name, err)
		}

		srv := api.NewWorkerServer(addr, eng, api.StreamOptions{
			Interval:          cfg.Worker.StreamInterval.Duration,
			UnknownJobTimeout: cfg.Worker.UnknownJobTimeout.Duration,
		}, wlog)
		srv.OnShutdown(eng.Stop)
		servers = append(servers, srv)

		if err := reg.Register(model.BackendDescriptor{
			Name:         name,
			BaseURL:      "http://" + addr,
			Capabilities: cfg.Worker.Capabilities,
			MaxQueue:     cfg.Worker.MaxQueue,
		}); err != nil {
			log.Fatalf("failed to register %s: %v", name, err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	logger.Info("testserver: starting", "addr", cfg.Orchestrator.ListenAddr, "workers", workers)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() { errCh <- srv.Run(ctx) }()
	}

	var firstErr error
	for range servers {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	if firstErr != nil {
		log.Fatalf("server error: %v", firstErr)
	}
}

// freeAddr reserves a loopback port and releases it for a server to bind.
func freeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}
