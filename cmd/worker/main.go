package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seantiz/voxhub/internal/api"
	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/config"
	"github.com/seantiz/voxhub/internal/engine"
	"github.com/seantiz/voxhub/internal/model"
	"github.com/seantiz/voxhub/internal/store"
	"github.com/seantiz/voxhub/internal/synth"
)

const (
	registerAttempts = 10
	registerBackoff  = time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())
	wc := cfg.Worker

	logger.Info("voxhub worker: starting",
		"name", wc.Name,
		"listen_addr", wc.ListenAddr,
		"synthesizer", wc.Synthesizer,
		"max_queue", wc.MaxQueue,
	)

	ctx := context.Background()

	history, err := openHistory(ctx, wc)
	if err != nil {
		log.Fatalf("failed to open history store: %v", err)
	}
	defer history.Close()

	s, err := newSynthesizer(wc)
	if err != nil {
		log.Fatalf("failed to create synthesizer: %v", err)
	}

	if err := os.MkdirAll(wc.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	eng := engine.New(s, history, logger, engine.Options{
		PollInterval: wc.PollInterval.Duration,
		OutputDir:    wc.OutputDir,
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("failed to start worker loop: %v", err)
	}

	srv := api.NewWorkerServer(wc.ListenAddr, eng, api.StreamOptions{
		Interval:          wc.StreamInterval.Duration,
		UnknownJobTimeout: wc.UnknownJobTimeout.Duration,
	}, logger)
	srv.OnShutdown(eng.Stop)

	if wc.OrchestratorURL != "" {
		go register(ctx, wc, cfg.Orchestrator.CallTimeout.Duration, logger)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openHistory returns the Redis store when an address is configured and the
// SQLite store otherwise.
func openHistory(ctx context.Context, wc config.WorkerConfig) (store.HistoryStore, error) {
	if wc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: wc.RedisAddr})
		st, err := store.NewRedisStore(ctx, rdb, wc.RedisPrefix, wc.HistoryLimit)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		return st, nil
	}
	st, err := store.NewSQLiteStore(wc.HistoryDB, wc.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newSynthesizer(wc config.WorkerConfig) (synth.Synthesizer, error) {
	switch wc.Synthesizer {
	case config.SynthesizerHTTP:
		return synth.NewHTTPSynthesizer(wc.SynthURL, wc.SynthTimeout.Duration), nil
	case config.SynthesizerOpenAI:
		return synth.NewOpenAISynthesizer(synth.OpenAIConfig{
			APIKey:  wc.OpenAIKey,
			BaseURL: wc.OpenAIBaseURL,
			Model:   wc.OpenAIModel,
			Voice:   wc.OpenAIVoice,
		}), nil
	case config.SynthesizerTone:
		return synth.NewToneSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unknown synthesizer %q", wc.Synthesizer)
	}
}

// register announces this worker to the orchestrator, retrying while the
// orchestrator is still coming up.
func register(ctx context.Context, wc config.WorkerConfig, timeout time.Duration, logger *slog.Logger) {
	client := backend.NewHTTPClient(timeout)
	desc := model.BackendDescriptor{
		Name:         wc.Name,
		BaseURL:      wc.AdvertiseURL,
		Capabilities: wc.Capabilities,
		MaxQueue:     wc.MaxQueue,
	}

	for attempt := 1; attempt <= registerAttempts; attempt++ {
		err := client.Register(ctx, wc.OrchestratorURL, desc)
		if err == nil {
			logger.Info("registered with orchestrator", "orchestrator", wc.OrchestratorURL, "backend", wc.Name)
			return
		}
		logger.Warn("registration failed", "attempt", attempt, "orchestrator", wc.OrchestratorURL, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(registerBackoff):
		}
	}
	logger.Error("giving up on registration", "orchestrator", wc.OrchestratorURL, "backend", wc.Name)
}
