package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/voxhub/internal/model"
	"github.com/seantiz/voxhub/internal/store"
	"github.com/seantiz/voxhub/internal/synth"
)

// DefaultPollInterval is how long the loop idles when the queue is empty.
const DefaultPollInterval = 50 * time.Millisecond

const (
	recordAttempts = 3
	recordBackoff  = 50 * time.Millisecond
)

var (
	// ErrDuplicateJob is returned when a job id is already pending, running
	// or recorded in history.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrUnsupportedType is returned for job types the worker cannot run.
	ErrUnsupportedType = errors.New("unsupported job type")
	// ErrInvalidPayload is returned when a payload is missing required fields.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrAlreadyStarted is returned by Start when the loop is already running.
	ErrAlreadyStarted = errors.New("engine already started")
)

// Options tunes the worker loop.
type Options struct {
	PollInterval time.Duration
	// OutputDir receives one WAV file per completed job.
	OutputDir string
}

type pendingJob struct {
	id  string
	req synth.Request
}

// Engine owns a worker's queue state. Request handlers enqueue, cancel and
// read; the loop started by Start is the only goroutine that pops jobs and
// writes progress and history.
type Engine struct {
	synth   synth.Synthesizer
	history store.HistoryStore
	logger  *slog.Logger
	opts    Options

	mu      sync.Mutex
	pending []pendingJob
	running map[string]float64
	// unsaved holds results the history store refused; the loop keeps
	// retrying them and readers consult them alongside the store.
	unsaved map[string]model.Result

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine. Nothing runs until Start is called.
func New(s synth.Synthesizer, h store.HistoryStore, logger *slog.Logger, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	return &Engine{
		synth:   s,
		history: h,
		logger:  logger,
		opts:    opts,
		running: make(map[string]float64),
		unsaved: make(map[string]model.Result),
	}
}

// Enqueue validates the payload and appends a job to the pending queue. The
// payload's job_id is kept when present so ids assigned by the orchestrator
// survive dispatch; otherwise a fresh id is generated.
func (e *Engine) Enqueue(ctx context.Context, jobType string, payload map[string]any) (string, error) {
	if jobType != model.JobTypeTTS {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, jobType)
	}

	req, err := parseTTSPayload(payload)
	if err != nil {
		return "", err
	}

	id, _ := payload[model.PayloadJobID].(string)
	if id == "" {
		id = model.NewLocalID()
	}

	e.mu.Lock()
	known := e.knownLocked(id)
	e.mu.Unlock()
	if known {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}

	// A job only reaches history through the pending queue, so an id absent
	// from memory cannot appear there while the store is read unlocked.
	_, err = e.history.Get(ctx, id)
	switch {
	case err == nil:
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("check history: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.knownLocked(id) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	e.pending = append(e.pending, pendingJob{id: id, req: req})
	pendingJobs.Set(float64(len(e.pending)))
	return id, nil
}

func parseTTSPayload(payload map[string]any) (synth.Request, error) {
	text, _ := payload["text"].(string)
	if strings.TrimSpace(text) == "" {
		return synth.Request{}, fmt.Errorf("%w: text is required", ErrInvalidPayload)
	}

	var params map[string]any
	if raw, ok := payload["params"]; ok && raw != nil {
		p, ok := raw.(map[string]any)
		if !ok {
			return synth.Request{}, fmt.Errorf("%w: params must be an object", ErrInvalidPayload)
		}
		params = p
	}
	return synth.Request{Text: text, Params: params}, nil
}

// knownLocked reports whether the id is held in memory. The caller holds
// e.mu.
func (e *Engine) knownLocked(id string) bool {
	if _, ok := e.running[id]; ok {
		return true
	}
	if _, ok := e.unsaved[id]; ok {
		return true
	}
	return slices.ContainsFunc(e.pending, func(j pendingJob) bool { return j.id == id })
}

// Cancel removes the first pending job with the given id and reports
// whether one was removed. Running, finished and unknown jobs are left
// alone.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := slices.IndexFunc(e.pending, func(j pendingJob) bool { return j.id == id })
	if i < 0 {
		return false
	}
	e.pending = slices.Delete(e.pending, i, i+1)
	pendingJobs.Set(float64(len(e.pending)))
	e.logger.Info("job cancelled", "job_id", id)
	return true
}

// Status returns the ids of running and pending jobs, pending in queue order.
func (e *Engine) Status() model.QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := model.QueueStatus{
		Running: make([]string, 0, len(e.running)),
		Pending: make([]string, 0, len(e.pending)),
	}
	for id := range e.running {
		status.Running = append(status.Running, id)
	}
	slices.Sort(status.Running)
	for _, j := range e.pending {
		status.Pending = append(status.Pending, j.id)
	}
	return status
}

// History returns every retained result keyed by job id, including results
// still waiting to be written to the store.
func (e *Engine) History(ctx context.Context) (map[string]model.Result, error) {
	all, err := e.history.All(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.unsaved {
		all[id] = r
	}
	return all, nil
}

// Result returns the recorded result for one job.
func (e *Engine) Result(ctx context.Context, id string) (model.Result, error) {
	e.mu.Lock()
	r, ok := e.unsaved[id]
	e.mu.Unlock()
	if ok {
		return r, nil
	}
	return e.history.Get(ctx, id)
}

// Lookup reports where a job is. A result is written before the running
// entry is cleared, so history is read first and read again after a miss in
// memory; a job is never reported unknown while it moves between the two.
func (e *Engine) Lookup(ctx context.Context, id string) (model.JobState, float64, model.Result, error) {
	r, err := e.history.Get(ctx, id)
	switch {
	case err == nil:
		return model.StateDone, 1, r, nil
	case !errors.Is(err, store.ErrNotFound):
		// Memory may still answer while the store is down.
		err = fmt.Errorf("lookup history: %w", err)
	default:
		err = nil
	}

	if state, p, r, ok := e.lookupMemory(id); ok {
		return state, p, r, nil
	}
	if err != nil {
		return model.StateUnknown, 0, model.Result{}, err
	}

	r, err = e.history.Get(ctx, id)
	switch {
	case err == nil:
		return model.StateDone, 1, r, nil
	case errors.Is(err, store.ErrNotFound):
		return model.StateUnknown, 0, model.Result{}, nil
	default:
		return model.StateUnknown, 0, model.Result{}, fmt.Errorf("lookup history: %w", err)
	}
}

func (e *Engine) lookupMemory(id string) (model.JobState, float64, model.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.unsaved[id]; ok {
		return model.StateDone, 1, r, true
	}
	if p, ok := e.running[id]; ok {
		return model.StateRunning, p, model.Result{}, true
	}
	if slices.ContainsFunc(e.pending, func(j pendingJob) bool { return j.id == id }) {
		return model.StatePending, 0, model.Result{}, true
	}
	return model.StateUnknown, 0, model.Result{}, false
}

// Running reports whether the worker loop is active.
func (e *Engine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.cancel != nil
}

// Start launches the worker loop. The loop runs until Stop is called or ctx
// is cancelled; a job already executing is allowed to finish.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.run(ctx, e.done)

	e.logger.Info("worker loop started", "synthesizer", e.synth.Name(), "poll_interval", e.opts.PollInterval.String())
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("worker loop stopped")
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		job, ok := e.next()
		if !ok {
			e.flushUnsaved(context.WithoutCancel(ctx))
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.PollInterval):
			}
			continue
		}

		// The synthesis call is not cancellable once started.
		e.execute(context.WithoutCancel(ctx), job)
	}
}

// next pops the head of the pending queue and marks it running at 0.
func (e *Engine) next() (pendingJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return pendingJob{}, false
	}
	job := e.pending[0]
	e.pending = slices.Delete(e.pending, 0, 1)
	e.running[job.id] = 0

	pendingJobs.Set(float64(len(e.pending)))
	runningJobs.Set(float64(len(e.running)))
	return job, true
}

func (e *Engine) execute(ctx context.Context, job pendingJob) {
	start := time.Now()
	e.logger.Info("job started", "job_id", job.id)

	result := model.Result{JobID: job.id}

	audio, err := e.synthesize(ctx, job)
	synthesisDuration.Observe(time.Since(start).Seconds())

	var path string
	if err == nil {
		path, err = writeWAV(e.opts.OutputDir, job.id, audio)
	}

	if err != nil {
		result.Status = model.StatusFailed
		result.Error = err.Error()
		e.logger.Error("job failed", "job_id", job.id, "error", err)
	} else {
		result.Status = model.StatusCompleted
		result.URL = path
		result.SampleRate = audio.SampleRate
		result.DurationMS = int(audio.Duration().Milliseconds())
		e.logger.Info("job completed", "job_id", job.id, "url", path, "elapsed_ms", time.Since(start).Milliseconds())
	}
	result.FinishedAt = time.Now().UTC()

	e.finish(ctx, result)
}

// synthesize calls the synthesizer, converting a panic into an error so one
// bad job cannot take the loop down.
func (e *Engine) synthesize(ctx context.Context, job pendingJob) (audio synth.Audio, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panic: %v", r)
		}
	}()

	req := job.req
	req.Progress = func(p float64) { e.setProgress(job.id, p) }
	return e.synth.Synthesize(ctx, req)
}

// setProgress records a progress estimate. Values are clamped to [0, 1] and
// never move backwards.
func (e *Engine) setProgress(id string, p float64) {
	p = min(max(p, 0), 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.running[id]; ok && p > cur {
		e.running[id] = p
	}
}

// finish records the result and then clears the running entry, so readers
// find the job in one place or the other throughout. A result the store
// will not take stays in memory until a later flush succeeds.
func (e *Engine) finish(ctx context.Context, r model.Result) {
	err := e.record(ctx, r)

	e.mu.Lock()
	if err != nil {
		e.unsaved[r.JobID] = r
		unsavedResults.Set(float64(len(e.unsaved)))
	}
	delete(e.running, r.JobID)
	runningJobs.Set(float64(len(e.running)))
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("failed to record result, keeping it in memory", "job_id", r.JobID, "error", err)
	}
	jobsTotal.WithLabelValues(r.Status).Inc()
}

func (e *Engine) record(ctx context.Context, r model.Result) error {
	var err error
	for attempt := range recordAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(recordBackoff * time.Duration(attempt)):
			}
		}
		if _, err = e.history.Put(ctx, r); err == nil {
			return nil
		}
	}
	return err
}

// flushUnsaved retries results held in memory. Each is dropped from memory
// only after the store accepts it.
func (e *Engine) flushUnsaved(ctx context.Context) {
	e.mu.Lock()
	if len(e.unsaved) == 0 {
		e.mu.Unlock()
		return
	}
	batch := make([]model.Result, 0, len(e.unsaved))
	for _, r := range e.unsaved {
		batch = append(batch, r)
	}
	e.mu.Unlock()

	for _, r := range batch {
		if _, err := e.history.Put(ctx, r); err != nil {
			e.logger.Debug("result still unsaved", "job_id", r.JobID, "error", err)
			continue
		}
		e.mu.Lock()
		delete(e.unsaved, r.JobID)
		unsavedResults.Set(float64(len(e.unsaved)))
		e.mu.Unlock()
		e.logger.Info("unsaved result recorded", "job_id", r.JobID)
	}
}
