package dispatch

import (
	"errors"
	"slices"
	"sync"

	"github.com/seantiz/voxhub/internal/model"
)

// DefaultRecentIDs bounds how many dispatched job ids the queue remembers
// for duplicate detection.
const DefaultRecentIDs = 10000

// ErrDuplicateJob is returned by Submit when a job with the same id is
// queued or was recently dispatched.
var ErrDuplicateJob = errors.New("duplicate job id")

// Queue is the orchestrator's FIFO of jobs awaiting dispatch. It is safe for
// concurrent use: request handlers append while the scheduler pops.
type Queue struct {
	mu     sync.Mutex
	jobs   []model.Job
	queued map[string]struct{}

	// recent holds ids handed to a backend, evicted oldest first once the
	// ring is full.
	recent map[string]struct{}
	ring   []string
	next   int
}

// NewQueue creates an empty master queue.
func NewQueue() *Queue {
	return newQueue(DefaultRecentIDs)
}

func newQueue(recentIDs int) *Queue {
	if recentIDs <= 0 {
		recentIDs = DefaultRecentIDs
	}
	return &Queue{
		queued: make(map[string]struct{}),
		recent: make(map[string]struct{}),
		ring:   make([]string, 0, recentIDs),
	}
}

// Submit appends the job to the tail and returns its id, assigning a new one
// when the job has none. A client-supplied id that is already queued or was
// recently dispatched is refused with ErrDuplicateJob.
func (q *Queue) Submit(job model.Job) (string, error) {
	if job.ID == "" {
		job.ID = model.NewID()
	}

	q.mu.Lock()
	if _, ok := q.queued[job.ID]; ok {
		q.mu.Unlock()
		return job.ID, ErrDuplicateJob
	}
	if _, ok := q.recent[job.ID]; ok {
		q.mu.Unlock()
		return job.ID, ErrDuplicateJob
	}
	q.jobs = append(q.jobs, job)
	q.queued[job.ID] = struct{}{}
	depth := len(q.jobs)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
	return job.ID, nil
}

// PopFor removes and returns the oldest job eligible for the backend.
func (q *Queue) PopFor(d model.BackendDescriptor) (model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.jobs, func(j model.Job) bool { return j.EligibleFor(d) })
	if i < 0 {
		return model.Job{}, false
	}
	job := q.jobs[i]
	q.jobs = slices.Delete(q.jobs, i, i+1)
	delete(q.queued, job.ID)
	q.rememberLocked(job.ID)
	queueDepth.Set(float64(len(q.jobs)))
	return job, true
}

// Requeue puts a job back at the head of the queue.
func (q *Queue) Requeue(job model.Job) {
	q.mu.Lock()
	q.jobs = slices.Insert(q.jobs, 0, job)
	q.queued[job.ID] = struct{}{}
	delete(q.recent, job.ID)
	depth := len(q.jobs)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
}

// Forget drops a popped job id from duplicate tracking so the client may
// submit it again.
func (q *Queue) Forget(id string) {
	q.mu.Lock()
	delete(q.recent, id)
	q.mu.Unlock()
}

func (q *Queue) rememberLocked(id string) {
	if len(q.ring) < cap(q.ring) {
		q.ring = append(q.ring, id)
	} else {
		delete(q.recent, q.ring[q.next])
		q.ring[q.next] = id
		q.next = (q.next + 1) % len(q.ring)
	}
	q.recent[id] = struct{}{}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot returns the ids of queued jobs, head first.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.jobs))
	for i, j := range q.jobs {
		ids[i] = j.ID
	}
	return ids
}
