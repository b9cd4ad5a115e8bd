package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/voxhub/internal/api"
	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/config"
	"github.com/seantiz/voxhub/internal/dispatch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())
	oc := cfg.Orchestrator

	logger.Info("voxhub orchestrator: starting",
		"listen_addr", oc.ListenAddr,
		"tick_interval", oc.TickInterval.String(),
		"requeue_on_failure", oc.RequeueOnFailure,
	)

	reg := backend.NewRegistry()
	queue := dispatch.NewQueue()
	client := backend.NewHTTPClient(oc.CallTimeout.Duration)

	sched := dispatch.NewScheduler(reg, queue, client, logger, dispatch.Options{
		Interval:         oc.TickInterval.Duration,
		RequeueOnFailure: oc.RequeueOnFailure,
	})

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	srv := api.NewOrchestratorServer(oc.ListenAddr, reg, queue, sched, logger)
	srv.OnShutdown(sched.Stop)

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
