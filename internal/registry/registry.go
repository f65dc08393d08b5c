// Package registry implements the in-memory job registry: the single shared
// mutable structure of the orchestrator. It maps backend job ids to job
// records, enforces the forward-only lifecycle state machine, serializes all
// mutation of a single job, and evicts terminal jobs after a retention
// window so memory stays bounded.
//
// The registry is explicitly constructed and passed by reference; there is
// no package-level singleton. Unrelated jobs never contend on a common lock
// beyond the map access itself.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

var (
	// ErrNotFound indicates the job id is unknown (never created, or already
	// evicted after its retention window).
	ErrNotFound = errors.New("registry: job not found")

	// ErrDuplicateID indicates a Create with a backend id that is already
	// tracked. Backend ids are unique for the registry's lifetime.
	ErrDuplicateID = errors.New("registry: duplicate job id")

	// ErrInvalidTransition indicates an attempt to move a job against the
	// lifecycle graph, almost always out of a terminal state. This is a
	// programming-error class: callers log it as a defect, it is never
	// surfaced to users.
	ErrInvalidTransition = errors.New("registry: invalid state transition")

	// ErrTooManyActive indicates the configured cap on concurrently tracked
	// jobs has been reached.
	ErrTooManyActive = errors.New("registry: too many active jobs")
)

// Payload carries the data recorded alongside a terminal transition.
type Payload struct {
	Result    []byte
	ResultURL string
	Err       string
	Progress  float64
}

// entry pairs a job record with its own mutex. The per-job mutex serializes
// transitions so no two pollers race on the same job.
type entry struct {
	mu  sync.Mutex
	job domain.Job
}

// Registry is a concurrency-safe job table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	// actMu guards active and is always the innermost lock.
	actMu  sync.Mutex
	active int
	max    int // 0 = unlimited

	retain  time.Duration
	nowFunc func() time.Time
	log     zerolog.Logger
}

// Options configures a Registry.
type Options struct {
	// Retention is how long terminal jobs remain queryable before eviction.
	Retention time.Duration
	// MaxActive caps concurrently tracked non-terminal jobs; 0 is unlimited.
	MaxActive int
	Logger    zerolog.Logger
}

// New constructs an empty Registry.
func New(opts Options) *Registry {
	retain := opts.Retention
	if retain <= 0 {
		retain = 15 * time.Minute
	}
	return &Registry{
		jobs:    make(map[string]*entry),
		max:     opts.MaxActive,
		retain:  retain,
		nowFunc: time.Now,
		log:     opts.Logger.With().Str("component", "registry").Logger(),
	}
}

// Create registers a new job in StateQueued and returns a copy of it.
func (r *Registry) Create(backendID, owner string, origin domain.Origin, kind domain.JobKind, prompt string, deadline time.Time) (domain.Job, error) {
	now := r.nowFunc()
	job := domain.Job{
		ID:          backendID,
		Owner:       owner,
		Origin:      origin,
		Kind:        kind,
		Prompt:      prompt,
		State:       domain.StateQueued,
		SubmittedAt: now,
		Deadline:    deadline,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[backendID]; exists {
		return domain.Job{}, ErrDuplicateID
	}

	r.actMu.Lock()
	if r.max > 0 && r.active >= r.max {
		r.actMu.Unlock()
		return domain.Job{}, ErrTooManyActive
	}
	r.active++
	r.actMu.Unlock()

	r.jobs[backendID] = &entry{job: job}
	return job, nil
}

// Get returns a copy of the job, or ErrNotFound.
func (r *Registry) Get(id string) (domain.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, nil
}

// Transition moves a job to state, recording the payload on terminal
// transitions. It returns the updated job copy and whether this call was the
// first to reach a terminal state — the caller's cue to notify exactly once.
//
// A Failed or TimedOut job never carries a result: the payload result fields
// are only stored on StateSucceeded.
func (r *Registry) Transition(id string, state domain.JobState, p Payload) (domain.Job, bool, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Job{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.job.State.CanTransition(state) {
		return e.job, false, ErrInvalidTransition
	}

	wasTerminal := e.job.State.Terminal()
	e.job.State = state
	if p.Progress > e.job.Progress {
		e.job.Progress = p.Progress
	}

	first := false
	if state.Terminal() && !wasTerminal {
		first = true
		e.job.FinishedAt = r.nowFunc()
		switch state {
		case domain.StateSucceeded:
			e.job.Result = p.Result
			e.job.ResultURL = p.ResultURL
			e.job.Progress = 1
		case domain.StateFailed:
			e.job.Error = p.Err
		case domain.StateTimedOut, domain.StateCancelled:
			// no payload; late backend results are discarded
		}
		r.actMu.Lock()
		r.active--
		r.actMu.Unlock()
	}
	return e.job, first, nil
}

// MarkRunning moves a Queued job to Running. It is idempotent: a job already
// Running is left untouched, but a terminal job yields ErrInvalidTransition.
func (r *Registry) MarkRunning(id string) (domain.Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.job.State == domain.StateRunning:
		return e.job, nil
	case e.job.State.CanTransition(domain.StateRunning):
		e.job.State = domain.StateRunning
		return e.job, nil
	default:
		return e.job, ErrInvalidTransition
	}
}

// RecordPoll updates a job's polling bookkeeping and, when the backend
// reported progress, its progress estimate.
func (r *Registry) RecordPoll(id string, progress float64) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.LastPolledAt = r.nowFunc()
	e.job.PollAttempts++
	if progress > e.job.Progress && !e.job.State.Terminal() {
		e.job.Progress = progress
	}
	return nil
}

// ListActive returns copies of all non-terminal jobs, oldest first.
func (r *Registry) ListActive() []domain.Job {
	return r.list(func(j domain.Job) bool { return !j.State.Terminal() })
}

// ListOwned returns copies of all jobs owned by owner (any state still
// retained), oldest first. Used to scope /status style queries.
func (r *Registry) ListOwned(owner string) []domain.Job {
	return r.list(func(j domain.Job) bool { return j.Owner == owner })
}

// Evict removes a job record. Terminal jobs are normally removed by the
// retention sweeper; explicit eviction exists for cancelled-before-accept
// cleanup and tests.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		e.mu.Lock()
		if !e.job.State.Terminal() {
			r.actMu.Lock()
			r.active--
			r.actMu.Unlock()
		}
		e.mu.Unlock()
		delete(r.jobs, id)
	}
}

// Sweep evicts terminal jobs whose retention window has elapsed and returns
// the number removed. Eviction only drops the registry's reference: an
// in-flight notification holding its own job copy is unaffected.
func (r *Registry) Sweep() int {
	now := r.nowFunc()
	cutoff := now.Add(-r.retain)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		expired := e.job.State.Terminal() && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug().Int("evicted", n).Msg("retention sweep")
			}
		}
	}
}

// lookup fetches the entry for id under the read lock.
func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// list returns copies of jobs matching keep, sorted by submission time.
func (r *Registry) list(keep func(domain.Job) bool) []domain.Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		j := e.job
		e.mu.Unlock()
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.Before(out[k].SubmittedAt) })
	return out
}
