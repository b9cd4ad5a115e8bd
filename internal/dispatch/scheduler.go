package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/voxhub/internal/backend"
	"github.com/seantiz/voxhub/internal/model"
)

// DefaultInterval is the scheduler period when none is configured.
const DefaultInterval = time.Second

// ErrAlreadyStarted is returned by Start when the loop is already running.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Options tunes the scheduler loop.
type Options struct {
	// Interval is the period between passes over the registry.
	Interval time.Duration

	// RequeueOnFailure puts a job back at the head of the master queue when
	// its dispatch definitely did not reach the backend or was turned away
	// with a 5xx or 429. Ambiguous failures are never requeued so a job
	// cannot land on two backends, and 4xx refusals are dropped.
	RequeueOnFailure bool
}

// Scheduler periodically polls every registered backend for its load and
// dispatches queued jobs up to the backend's spare capacity. It is the only
// consumer of the master queue.
type Scheduler struct {
	registry *backend.Registry
	queue    *Queue
	client   backend.Client
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. It does nothing until Start is called.
func NewScheduler(reg *backend.Registry, q *Queue, c backend.Client, logger *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Scheduler{
		registry: reg,
		queue:    q,
		client:   c,
		logger:   logger,
		opts:     opts,
	}
}

// Start launches the background loop. The loop runs until Stop is called or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info("scheduler started", "interval", s.opts.Interval.String())
	return nil
}

// Stop cancels the loop and waits for the in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one pass over the registry in registration order and
// returns how many jobs were dispatched to each backend.
func (s *Scheduler) Tick(ctx context.Context) map[string]int {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	dispatched := make(map[string]int)
	for _, d := range s.registry.List() {
		if ctx.Err() != nil {
			break
		}
		if s.queue.Len() == 0 {
			break
		}
		if n := s.fill(ctx, d); n > 0 {
			dispatched[d.Name] = n
		}
	}
	return dispatched
}

// fill dispatches jobs to one backend until its reported capacity is used
// up or no eligible job remains.
func (s *Scheduler) fill(ctx context.Context, d model.BackendDescriptor) int {
	status, err := s.client.Status(ctx, d.BaseURL)
	if err != nil {
		statusFailuresTotal.WithLabelValues(d.Name).Inc()
		s.logger.Warn("backend status unavailable, skipping", "backend", d.Name, "error", err)
		return 0
	}

	capacity := d.MaxQueue - status.Depth()
	if capacity <= 0 {
		s.logger.Debug("backend at capacity", "backend", d.Name, "depth", status.Depth(), "max_queue", d.MaxQueue)
		return 0
	}

	dispatched := 0
	for capacity > 0 {
		job, ok := s.queue.PopFor(d)
		if !ok {
			break
		}

		if err := s.client.Dispatch(ctx, d.BaseURL, job); err != nil {
			s.handleDispatchFailure(ctx, d, job, err)
			break
		}

		dispatchTotal.WithLabelValues(d.Name, outcomeDispatched).Inc()
		s.logger.Info("job dispatched", "job_id", job.ID, "backend", d.Name, "type", job.Type)
		dispatched++
		capacity--
	}
	return dispatched
}

func (s *Scheduler) handleDispatchFailure(ctx context.Context, d model.BackendDescriptor, job model.Job, err error) {
	// A worker refusal repeats on every retry, so the job leaves the queue
	// instead of blocking the head.
	if backend.Permanent(err) {
		s.queue.Forget(job.ID)
		dispatchTotal.WithLabelValues(d.Name, outcomeRefused).Inc()
		s.logger.Error("dispatch refused, job dropped", "job_id", job.ID, "backend", d.Name, "error", err)
		return
	}

	// Only a job the backend never accepted may go back, including one cut
	// short by shutdown.
	if backend.Retryable(err) && (s.opts.RequeueOnFailure || ctx.Err() != nil) {
		s.queue.Requeue(job)
		dispatchTotal.WithLabelValues(d.Name, outcomeRequeued).Inc()
		s.logger.Warn("dispatch failed, job requeued", "job_id", job.ID, "backend", d.Name, "error", err)
		return
	}

	dispatchTotal.WithLabelValues(d.Name, outcomeLost).Inc()
	s.logger.Error("dispatch failed, job lost", "job_id", job.ID, "backend", d.Name, "error", err)
}
