package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

func newTestRegistry(opts Options) *Registry {
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func mustCreate(t *testing.T, r *Registry, id, owner string) domain.Job {
	t.Helper()
	job, err := r.Create(id, owner, domain.Origin{ChannelID: "chan-1"}, domain.KindGenerate, "a prompt", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return job
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	if _, err := r.Create("j1", "bob", domain.Origin{}, domain.KindEdit, "other", time.Now()); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestCreate_MaxActiveCap(t *testing.T) {
	r := newTestRegistry(Options{MaxActive: 2})
	mustCreate(t, r, "j1", "alice")
	mustCreate(t, r, "j2", "alice")

	if _, err := r.Create("j3", "alice", domain.Origin{}, domain.KindGenerate, "p", time.Now()); !errors.Is(err, ErrTooManyActive) {
		t.Fatalf("err = %v, want ErrTooManyActive", err)
	}

	// Finishing a job frees a slot.
	if _, _, err := r.Transition("j1", domain.StateSucceeded, Payload{Result: []byte{1}}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := r.Create("j3", "alice", domain.Origin{}, domain.KindGenerate, "p", time.Now()); err != nil {
		t.Fatalf("create after slot freed: %v", err)
	}
}

func TestGet_UnknownIsNotFound(t *testing.T) {
	r := newTestRegistry(Options{})
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTransition_ForwardOnlyLifecycle(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	if _, err := r.MarkRunning("j1"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	job, first, err := r.Transition("j1", domain.StateSucceeded, Payload{Result: []byte("png"), ResultURL: "/results/j1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !first {
		t.Fatalf("first terminal transition not reported as first")
	}
	if job.State != domain.StateSucceeded || job.Progress != 1 || job.ResultURL != "/results/j1" {
		t.Fatalf("terminal job = %+v", job)
	}
	if job.FinishedAt.IsZero() {
		t.Fatalf("FinishedAt not stamped")
	}

	// Terminal is immutable; any further transition is a defect.
	if _, _, err := r.Transition("j1", domain.StateFailed, Payload{Err: "late failure"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	got, _ := r.Get("j1")
	if got.State != domain.StateSucceeded || got.Error != "" {
		t.Fatalf("terminal job mutated: %+v", got)
	}
}

func TestTransition_FailedCarriesNoResult(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	job, first, err := r.Transition("j1", domain.StateFailed, Payload{Result: []byte("late"), Err: "backend exploded"})
	if err != nil || !first {
		t.Fatalf("transition: err=%v first=%v", err, first)
	}
	if len(job.Result) != 0 || job.ResultURL != "" {
		t.Fatalf("failed job carries a result: %+v", job)
	}
	if job.Error != "backend exploded" {
		t.Fatalf("error = %q", job.Error)
	}
}

func TestTransition_ExactlyOnceUnderConcurrency(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	const goroutines = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, first, err := r.Transition("j1", domain.StateSucceeded, Payload{Result: []byte{1}}); err == nil && first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsts != 1 {
		t.Fatalf("first=true reported %d times, want exactly 1", firsts)
	}
}

func TestMarkRunning_Idempotent(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	for i := 0; i < 3; i++ {
		job, err := r.MarkRunning("j1")
		if err != nil {
			t.Fatalf("mark running #%d: %v", i, err)
		}
		if job.State != domain.StateRunning {
			t.Fatalf("state = %s", job.State)
		}
	}

	r.Transition("j1", domain.StateCancelled, Payload{})
	if _, err := r.MarkRunning("j1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition on terminal job", err)
	}
}

func TestRecordPoll_TracksAttemptsAndProgress(t *testing.T) {
	r := newTestRegistry(Options{})
	mustCreate(t, r, "j1", "alice")

	if err := r.RecordPoll("j1", 0.4); err != nil {
		t.Fatalf("record poll: %v", err)
	}
	if err := r.RecordPoll("j1", 0.2); err != nil { // progress never regresses
		t.Fatalf("record poll: %v", err)
	}
	job, _ := r.Get("j1")
	if job.PollAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", job.PollAttempts)
	}
	if job.Progress != 0.4 {
		t.Fatalf("progress = %v, want 0.4 (no regression)", job.Progress)
	}
	if job.LastPolledAt.IsZero() {
		t.Fatalf("LastPolledAt not stamped")
	}
}

func TestListActiveAndOwned(t *testing.T) {
	r := newTestRegistry(Options{})
	base := time.Now()
	seq := 0
	r.nowFunc = func() time.Time { seq++; return base.Add(time.Duration(seq) * time.Second) }

	mustCreate(t, r, "j1", "alice")
	mustCreate(t, r, "j2", "bob")
	mustCreate(t, r, "j3", "alice")
	r.Transition("j3", domain.StateSucceeded, Payload{})

	active := r.ListActive()
	if len(active) != 2 || active[0].ID != "j1" || active[1].ID != "j2" {
		t.Fatalf("active = %+v", active)
	}

	owned := r.ListOwned("alice")
	if len(owned) != 2 || owned[0].ID != "j1" || owned[1].ID != "j3" {
		t.Fatalf("owned = %+v", owned)
	}
	if len(r.ListOwned("nobody")) != 0 {
		t.Fatalf("ListOwned leaked foreign jobs")
	}
}

func TestSweep_EvictsOnlyExpiredTerminalJobs(t *testing.T) {
	r := newTestRegistry(Options{Retention: 10 * time.Minute})
	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	mustCreate(t, r, "old", "alice")
	mustCreate(t, r, "fresh", "alice")
	mustCreate(t, r, "live", "alice")

	r.Transition("old", domain.StateSucceeded, Payload{})
	now = now.Add(11 * time.Minute)
	r.Transition("fresh", domain.StateFailed, Payload{Err: "boom"})

	if n := r.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, err := r.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired terminal job still present: %v", err)
	}
	if _, err := r.Get("fresh"); err != nil {
		t.Fatalf("fresh terminal job evicted early: %v", err)
	}
	if _, err := r.Get("live"); err != nil {
		t.Fatalf("live job evicted: %v", err)
	}
}

func TestEvict_FreesActiveSlot(t *testing.T) {
	r := newTestRegistry(Options{MaxActive: 1})
	mustCreate(t, r, "j1", "alice")
	r.Evict("j1")
	if _, err := r.Create("j2", "alice", domain.Origin{}, domain.KindGenerate, "p", time.Now()); err != nil {
		t.Fatalf("create after evict: %v", err)
	}
}
