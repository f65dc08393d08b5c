package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
	"github.com/pixelrelay/go-imagebot-backend/internal/config"
	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/registry"
)

//
// fakes
//

// fakeBackend serves a scripted sequence of poll statuses. Once the script is
// exhausted the last status repeats.
type fakeBackend struct {
	mu sync.Mutex

	submitErr error
	nextID    string
	submits   int

	lastEditImage []byte

	script []pollStep
	polls  int

	result   []byte
	fetchErr error
}

type pollStep struct {
	status backend.Status
	err    error
}

func (f *fakeBackend) SubmitGenerate(_ context.Context, _ backend.GenerateParams) (string, error) {
	return f.accept(nil)
}

func (f *fakeBackend) SubmitEdit(_ context.Context, image []byte, _ string, _ backend.EditParams) (string, error) {
	return f.accept(image)
}

func (f *fakeBackend) accept(image []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	f.lastEditImage = image
	if f.nextID == "" {
		return "backend-job", nil
	}
	return f.nextID, nil
}

func (f *fakeBackend) PollStatus(_ context.Context, _ string) (backend.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.script[len(f.script)-1]
	if f.polls < len(f.script) {
		step = f.script[f.polls]
	}
	f.polls++
	return step.status, step.err
}

func (f *fakeBackend) FetchResult(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.result, nil
}

// captureNotifier records every terminal notification and signals arrivals.
type captureNotifier struct {
	mu   sync.Mutex
	jobs []domain.Job
	ch   chan domain.Job
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan domain.Job, 8)}
}

func (n *captureNotifier) NotifyTerminal(_ context.Context, job domain.Job) {
	n.mu.Lock()
	n.jobs = append(n.jobs, job)
	n.mu.Unlock()
	n.ch <- job
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

func (n *captureNotifier) waitOne(t *testing.T) domain.Job {
	t.Helper()
	select {
	case job := <-n.ch:
		return job
	case <-time.After(3 * time.Second):
		t.Fatalf("no terminal notification within 3s")
		return domain.Job{}
	}
}

type captureArchiver struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (a *captureArchiver) ArchiveTerminal(_ context.Context, job domain.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.jobs = append(a.jobs, job)
	return nil
}

//
// harness
//

type orcEnv struct {
	orc      *Orchestrator
	be       *fakeBackend
	reg      *registry.Registry
	notifier *captureNotifier
	archiver *captureArchiver
	cancel   context.CancelFunc
}

func newOrcEnv(t *testing.T, be *fakeBackend, mutate func(*Options)) orcEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	env := orcEnv{
		be:       be,
		reg:      registry.New(registry.Options{Retention: time.Minute, Logger: zerolog.Nop()}),
		notifier: newCaptureNotifier(),
		archiver: &captureArchiver{},
		cancel:   cancel,
	}
	opts := Options{
		Backend:  be,
		Registry: env.reg,
		Notifier: env.notifier,
		Archiver: env.archiver,
		Jobs: config.JobsConfig{
			GenerateTimeout: 2 * time.Second,
			EditTimeout:     2 * time.Second,
			PollInterval:    2 * time.Millisecond,
			PollMaxInterval: 10 * time.Millisecond,
			PollFailBudget:  3,
		},
		MaxImageDim: 1024,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.orc = New(ctx, opts)
	t.Cleanup(func() {
		cancel()
		env.orc.Wait()
	})
	return env
}

func validRequest() domain.Request {
	return domain.Request{
		Kind:     domain.KindGenerate,
		Owner:    "alice",
		Origin:   domain.Origin{ChannelID: "chan-1"},
		Prompt:   "a lighthouse at dusk",
		Width:    512,
		Height:   512,
		Steps:    20,
		CFGScale: 7,
	}
}

// tinyPNG returns a decodable 2x2 PNG, used wherever result bytes must pass
// the image pipeline again.
func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func running(progress float64) pollStep {
	return pollStep{status: backend.Status{State: backend.StatusRunning, Progress: progress}}
}

//
// submission
//

func TestSubmit_ValidationRejectsBeforeBackend(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0)}}
	env := newOrcEnv(t, be, nil)

	cases := []struct {
		name   string
		mutate func(*domain.Request)
	}{
		{"empty prompt", func(r *domain.Request) { r.Prompt = "" }},
		{"missing origin", func(r *domain.Request) { r.Origin.ChannelID = "" }},
		{"width not multiple of 8", func(r *domain.Request) { r.Width = 513 }},
		{"height too large", func(r *domain.Request) { r.Height = 8192 }},
		{"zero steps", func(r *domain.Request) { r.Steps = 0 }},
		{"cfg out of range", func(r *domain.Request) { r.CFGScale = 99 }},
		{"generate referencing a source job", func(r *domain.Request) { r.SourceJobID = "job-9" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := env.orc.Submit(context.Background(), req)
			if !IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
	if be.submits != 0 {
		t.Fatalf("invalid requests reached the backend %d times", be.submits)
	}
}

func TestSubmit_EditWithoutImageRejected(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0)}}
	env := newOrcEnv(t, be, nil)

	req := validRequest()
	req.Kind = domain.KindEdit
	req.Width, req.Height = 0, 0
	if _, err := env.orc.Submit(context.Background(), req); !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSubmit_BackendUnreachable(t *testing.T) {
	be := &fakeBackend{submitErr: backend.ErrUnavailable, script: []pollStep{running(0)}}
	env := newOrcEnv(t, be, nil)

	if _, err := env.orc.Submit(context.Background(), validRequest()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestSubmit_ActiveJobCap(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0.1)}}
	env := newOrcEnv(t, be, func(o *Options) {
		o.Registry = registry.New(registry.Options{MaxActive: 1, Retention: time.Minute, Logger: zerolog.Nop()})
	})

	if _, err := env.orc.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	be.mu.Lock()
	be.nextID = "backend-job-2"
	be.mu.Unlock()
	if _, err := env.orc.Submit(context.Background(), validRequest()); !errors.Is(err, ErrTooManyJobs) {
		t.Fatalf("err = %v, want ErrTooManyJobs", err)
	}
}

//
// lifecycle
//

func TestLifecycle_SuccessNotifiesAndArchivesOnce(t *testing.T) {
	be := &fakeBackend{
		script: []pollStep{
			{status: backend.Status{State: backend.StatusQueued}},
			running(0.5),
			{status: backend.Status{State: backend.StatusCompleted, OutputURL: "/results/backend-job", Progress: 1}},
		},
		result: []byte("png-bytes"),
	}
	env := newOrcEnv(t, be, nil)

	job, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.State != domain.StateQueued {
		t.Fatalf("accepted state = %s, want queued", job.State)
	}

	done := env.notifier.waitOne(t)
	if done.State != domain.StateSucceeded {
		t.Fatalf("terminal state = %s, want succeeded", done.State)
	}
	if string(done.Result) != "png-bytes" || done.ResultURL != "/results/backend-job" {
		t.Fatalf("result not carried: %+v", done)
	}
	if done.Progress != 1 {
		t.Fatalf("progress = %v, want 1", done.Progress)
	}

	// Settle, then check the side effects happened exactly once.
	time.Sleep(50 * time.Millisecond)
	if n := env.notifier.count(); n != 1 {
		t.Fatalf("notified %d times, want 1", n)
	}
	env.archiver.mu.Lock()
	archived := len(env.archiver.jobs)
	env.archiver.mu.Unlock()
	if archived != 1 {
		t.Fatalf("archived %d times, want 1", archived)
	}
}

func TestLifecycle_BackendFailureReasonPropagates(t *testing.T) {
	be := &fakeBackend{
		script: []pollStep{
			running(0.2),
			{status: backend.Status{State: backend.StatusFailed, Error: "CUDA out of memory"}},
		},
	}
	env := newOrcEnv(t, be, nil)

	if _, err := env.orc.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.notifier.waitOne(t)
	if done.State != domain.StateFailed {
		t.Fatalf("terminal state = %s, want failed", done.State)
	}
	if done.Error != "CUDA out of memory" {
		t.Fatalf("error = %q", done.Error)
	}
	if len(done.Result) != 0 {
		t.Fatalf("failed job carries a result")
	}
}

func TestLifecycle_DeadlineIsAuthoritative(t *testing.T) {
	// The backend keeps reporting running forever; the local deadline must
	// win and a late completion must be discarded.
	be := &fakeBackend{script: []pollStep{running(0.3)}}
	env := newOrcEnv(t, be, func(o *Options) {
		o.Jobs.GenerateTimeout = 30 * time.Millisecond
	})

	job, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := env.notifier.waitOne(t)
	if done.State != domain.StateTimedOut {
		t.Fatalf("terminal state = %s, want timed_out", done.State)
	}

	// A late success must not resurrect the job.
	if _, _, err := env.reg.Transition(job.ID, domain.StateSucceeded, registry.Payload{Result: []byte("late")}); !errors.Is(err, registry.ErrInvalidTransition) {
		t.Fatalf("late completion err = %v, want ErrInvalidTransition", err)
	}
	got, _ := env.reg.Get(job.ID)
	if got.State != domain.StateTimedOut || len(got.Result) != 0 {
		t.Fatalf("late result leaked into job: %+v", got)
	}
	time.Sleep(50 * time.Millisecond)
	if n := env.notifier.count(); n != 1 {
		t.Fatalf("notified %d times, want 1", n)
	}
}

func TestLifecycle_PollFailureBudgetExhausted(t *testing.T) {
	be := &fakeBackend{
		script: []pollStep{{err: backend.ErrUnavailable}},
	}
	env := newOrcEnv(t, be, nil)

	if _, err := env.orc.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.notifier.waitOne(t)
	if done.State != domain.StateFailed {
		t.Fatalf("terminal state = %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "lost contact") {
		t.Fatalf("error = %q, want lost-contact reason", done.Error)
	}
}

func TestLifecycle_BackendForgotJob(t *testing.T) {
	be := &fakeBackend{script: []pollStep{{err: backend.ErrJobUnknown}}}
	env := newOrcEnv(t, be, nil)

	if _, err := env.orc.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.notifier.waitOne(t)
	if done.State != domain.StateFailed {
		t.Fatalf("terminal state = %s, want failed", done.State)
	}
	if !strings.Contains(done.Error, "no longer knows") {
		t.Fatalf("error = %q", done.Error)
	}
}

//
// cancel
//

func TestCancel_StopsTrackingAndNotifiesOnce(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0.1)}}
	env := newOrcEnv(t, be, nil)

	job, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := env.orc.Cancel(context.Background(), job.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.State != domain.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
	done := env.notifier.waitOne(t)
	if done.State != domain.StateCancelled {
		t.Fatalf("notified state = %s", done.State)
	}

	// Cancelling an already-terminal job is a no-op, not an error.
	again, err := env.orc.Cancel(context.Background(), job.ID, "alice")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.State != domain.StateCancelled {
		t.Fatalf("second cancel state = %s", again.State)
	}
	time.Sleep(50 * time.Millisecond)
	if n := env.notifier.count(); n != 1 {
		t.Fatalf("notified %d times, want 1", n)
	}
}

func TestCancel_OwnershipAndMisses(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0.1)}}
	env := newOrcEnv(t, be, nil)

	job, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.orc.Cancel(context.Background(), job.ID, "mallory"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if _, err := env.orc.Cancel(context.Background(), "missing", "alice"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

//
// re-edit
//

func TestSubmit_ReEditUsesSourceResult(t *testing.T) {
	source := tinyPNG(t)
	be := &fakeBackend{
		script: []pollStep{
			{status: backend.Status{State: backend.StatusCompleted, OutputURL: "/results/backend-job"}},
		},
		result: source,
	}
	env := newOrcEnv(t, be, nil)

	first, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.notifier.waitOne(t)

	be.mu.Lock()
	be.nextID = "backend-job-2"
	be.script = []pollStep{running(0.1)}
	be.mu.Unlock()

	req := validRequest()
	req.Kind = domain.KindEdit
	req.Width, req.Height = 0, 0
	req.SourceJobID = first.ID
	if _, err := env.orc.Submit(context.Background(), req); err != nil {
		t.Fatalf("re-edit submit: %v", err)
	}

	be.mu.Lock()
	sent := be.lastEditImage
	be.mu.Unlock()
	if !bytes.Equal(sent, source) {
		t.Fatalf("re-edit did not reuse the source job's result (%d vs %d bytes)", len(sent), len(source))
	}
}

func TestSubmit_ReEditSourceMissingOrUnfinished(t *testing.T) {
	be := &fakeBackend{script: []pollStep{running(0.1)}}
	env := newOrcEnv(t, be, nil)

	req := validRequest()
	req.Kind = domain.KindEdit
	req.Width, req.Height = 0, 0
	req.SourceJobID = "never-existed"
	if _, err := env.orc.Submit(context.Background(), req); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}

	// A still-running job is not a valid source either.
	live, err := env.orc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	be.mu.Lock()
	be.nextID = "backend-job-2"
	be.mu.Unlock()
	req.SourceJobID = live.ID
	if _, err := env.orc.Submit(context.Background(), req); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
}
