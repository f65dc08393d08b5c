package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
	"github.com/pixelrelay/go-imagebot-backend/internal/config"
	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/imaging"
	"github.com/pixelrelay/go-imagebot-backend/internal/registry"
)

// Validation bounds for request parameters. The backend requires dimensions
// in multiples of 8; the upper bounds protect it from absurd submissions.
const (
	minDimension = 64
	maxDimension = 4096
	maxSteps     = 150
	maxCFGScale  = 30.0
)

// Backend is the subset of the backend client the orchestrator drives.
type Backend interface {
	SubmitGenerate(ctx context.Context, p backend.GenerateParams) (string, error)
	SubmitEdit(ctx context.Context, image []byte, filename string, p backend.EditParams) (string, error)
	PollStatus(ctx context.Context, jobID string) (backend.Status, error)
	FetchResult(ctx context.Context, outputURL string) ([]byte, error)
}

// TerminalNotifier delivers the one message a terminal job produces.
type TerminalNotifier interface {
	NotifyTerminal(ctx context.Context, job domain.Job)
}

// Archiver records terminal jobs for the history endpoint. Writes are
// best-effort: failures are logged and never affect job state.
type Archiver interface {
	ArchiveTerminal(ctx context.Context, job domain.Job) error
}

// Orchestrator is the central state machine. It owns one goroutine per
// in-flight job and the registry is its single synchronization point.
type Orchestrator struct {
	backend  Backend
	reg      *registry.Registry
	notifier TerminalNotifier
	archiver Archiver // optional

	jobs        config.JobsConfig
	maxImageDim int

	// cancels maps job id → that job's poll-loop cancel func.
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	// baseCtx bounds all poll loops; wg tracks them for shutdown draining.
	baseCtx context.Context
	wg      sync.WaitGroup

	log zerolog.Logger
}

// Options wires an Orchestrator.
type Options struct {
	Backend     Backend
	Registry    *registry.Registry
	Notifier    TerminalNotifier
	Archiver    Archiver // may be nil
	Jobs        config.JobsConfig
	MaxImageDim int
	Logger      zerolog.Logger
}

// New constructs an Orchestrator whose poll loops live until ctx is
// cancelled.
func New(ctx context.Context, opts Options) *Orchestrator {
	return &Orchestrator{
		backend:     opts.Backend,
		reg:         opts.Registry,
		notifier:    opts.Notifier,
		archiver:    opts.Archiver,
		jobs:        opts.Jobs,
		maxImageDim: opts.MaxImageDim,
		cancels:     make(map[string]context.CancelFunc),
		baseCtx:     ctx,
		log:         opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit validates and submits a request, registers the accepted job, and
// starts its poll loop. It returns as soon as the backend accepts: the
// returned job is in StateQueued. Every error from Submit means no job was
// created.
func (o *Orchestrator) Submit(ctx context.Context, req domain.Request) (domain.Job, error) {
	if err := validate(req); err != nil {
		return domain.Job{}, err
	}

	image := req.Image
	filename := req.ImageFilename

	// A re-edit takes its source image from the referenced job's result.
	if req.SourceJobID != "" {
		src, err := o.reg.Get(req.SourceJobID)
		if err != nil || src.State != domain.StateSucceeded || len(src.Result) == 0 {
			return domain.Job{}, ErrSourceNotFound
		}
		image = src.Result
		filename = "source.png"
	}

	if req.Kind == domain.KindEdit && len(image) == 0 {
		return domain.Job{}, &ValidationError{Reason: "edit requests require an image"}
	}

	if len(image) > 0 {
		resized, err := imaging.Resize(image, o.maxImageDim)
		if err != nil {
			if errors.Is(err, imaging.ErrUnsupportedFormat) {
				return domain.Job{}, &ValidationError{Reason: "attachment is not a decodable image"}
			}
			return domain.Job{}, err
		}
		image = resized
	}

	backendID, err := o.submit(ctx, req, image, filename)
	if err != nil {
		if errors.Is(err, backend.ErrUnavailable) {
			return domain.Job{}, ErrBackendUnavailable
		}
		return domain.Job{}, err // *backend.Error carries the backend's reason
	}

	deadline := time.Now().Add(o.timeoutFor(req.Kind))
	job, err := o.reg.Create(backendID, req.Owner, req.Origin, req.Kind, req.Prompt, deadline)
	if err != nil {
		if errors.Is(err, registry.ErrTooManyActive) {
			return domain.Job{}, ErrTooManyJobs
		}
		// Duplicate backend id: the registry invariant was violated by the
		// backend reusing an id within the retention window. Defect-class.
		o.log.Error().Err(err).Str("job_id", backendID).Msg("job registration failed after acceptance")
		return domain.Job{}, err
	}

	pollCtx, cancel := context.WithCancel(o.baseCtx)
	o.cancelMu.Lock()
	o.cancels[job.ID] = cancel
	o.cancelMu.Unlock()

	o.wg.Add(1)
	go o.pollLoop(pollCtx, job)

	o.log.Info().
		Str("job_id", job.ID).
		Str("owner", job.Owner).
		Str("kind", string(job.Kind)).
		Time("deadline", deadline).
		Msg("job accepted")
	return job, nil
}

// Cancel stops tracking a job for its owner. Jobs already accepted by the
// backend are cancelled best-effort: polling stops and the job is marked
// Cancelled locally; a later backend completion is ignored.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, requester string) (domain.Job, error) {
	job, err := o.reg.Get(jobID)
	if err != nil {
		return domain.Job{}, ErrJobNotFound
	}
	if job.Owner != requester {
		return domain.Job{}, ErrNotOwner
	}

	updated, first, err := o.reg.Transition(jobID, domain.StateCancelled, registry.Payload{})
	if err != nil {
		if errors.Is(err, registry.ErrInvalidTransition) {
			// Already terminal; nothing to cancel.
			return updated, nil
		}
		return domain.Job{}, err
	}

	o.stopPolling(jobID)
	if first {
		o.finishJob(ctx, updated)
	}
	return updated, nil
}

// Wait blocks until every poll loop has exited. Call after cancelling the
// base context during shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// submit dispatches to the right backend call for the request kind.
func (o *Orchestrator) submit(ctx context.Context, req domain.Request, image []byte, filename string) (string, error) {
	if req.Kind == domain.KindEdit {
		return o.backend.SubmitEdit(ctx, image, filename, backend.EditParams{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Steps:          req.Steps,
			CFGScale:       req.CFGScale,
			Seed:           req.Seed,
		})
	}
	return o.backend.SubmitGenerate(ctx, backend.GenerateParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Seed:           req.Seed,
	})
}

// pollLoop drives one job from Queued to a terminal state. The local
// deadline is authoritative: a job that finishes on the backend after the
// deadline is still reported as timed out and its late result discarded.
func (o *Orchestrator) pollLoop(ctx context.Context, job domain.Job) {
	defer o.wg.Done()
	defer o.stopPolling(job.ID)

	log := o.log.With().Str("job_id", job.ID).Logger()
	interval := o.jobs.PollInterval
	failures := 0

	for {
		wait := interval
		if until := time.Until(job.Deadline); until < wait {
			wait = until
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			// Shutdown or explicit cancel; Cancel already transitioned the job.
			return
		case <-time.After(wait):
		}

		if !time.Now().Before(job.Deadline) {
			o.terminate(job.ID, domain.StateTimedOut, registry.Payload{})
			log.Warn().Msg("job deadline reached, reporting timeout")
			return
		}

		status, err := o.backend.PollStatus(ctx, job.ID)
		o.recordPoll(job.ID, status.Progress)

		if err != nil {
			failures++
			if failures >= o.jobs.PollFailBudget {
				reason := "lost contact with the image backend"
				if errors.Is(err, backend.ErrJobUnknown) {
					reason = "the image backend no longer knows this job"
				}
				o.terminate(job.ID, domain.StateFailed, registry.Payload{Err: reason})
				log.Error().Err(err).Int("failures", failures).Msg("poll failure budget exhausted")
				return
			}
			log.Debug().Err(err).Int("failures", failures).Msg("transient poll failure")
			interval = o.grow(interval)
			continue
		}
		failures = 0

		switch {
		case status.Running():
			if _, err := o.reg.MarkRunning(job.ID); errors.Is(err, registry.ErrInvalidTransition) {
				return // job was cancelled or timed out concurrently
			}

		case status.State == backend.StatusCompleted:
			result, ferr := o.backend.FetchResult(ctx, status.OutputURL)
			if ferr != nil {
				if errors.Is(ferr, backend.ErrUnavailable) {
					failures++
					if failures < o.jobs.PollFailBudget {
						interval = o.grow(interval)
						continue
					}
				}
				o.terminate(job.ID, domain.StateFailed, registry.Payload{Err: "failed to download the result image"})
				log.Error().Err(ferr).Msg("result download failed")
				return
			}
			o.terminate(job.ID, domain.StateSucceeded, registry.Payload{
				Result:    result,
				ResultURL: status.OutputURL,
			})
			log.Info().Int("result_bytes", len(result)).Msg("job succeeded")
			return

		case status.State == backend.StatusFailed:
			reason := status.Error
			if reason == "" {
				reason = "the backend reported a failure without a reason"
			}
			o.terminate(job.ID, domain.StateFailed, registry.Payload{Err: reason})
			log.Warn().Str("reason", reason).Msg("job failed on the backend")
			return
		}

		interval = o.grow(interval)
	}
}

// terminate applies a terminal transition and, when this was the first one,
// notifies and archives. ErrInvalidTransition here means another path
// (cancel, timeout) won the race, which is the expected resolution; any
// other registry error is a defect and is logged as such.
func (o *Orchestrator) terminate(jobID string, state domain.JobState, p registry.Payload) {
	job, first, err := o.reg.Transition(jobID, state, p)
	if err != nil {
		if !errors.Is(err, registry.ErrInvalidTransition) && !errors.Is(err, registry.ErrNotFound) {
			o.log.Error().Err(err).Str("job_id", jobID).Msg("terminal transition failed")
		}
		return
	}
	if first {
		o.finishJob(o.baseCtx, job)
	}
}

// finishJob performs the exactly-once terminal side effects.
func (o *Orchestrator) finishJob(ctx context.Context, job domain.Job) {
	o.notifier.NotifyTerminal(ctx, job)
	if o.archiver == nil {
		return
	}
	if err := o.archiver.ArchiveTerminal(ctx, job); err != nil {
		o.log.Warn().Err(err).Str("job_id", job.ID).Msg("job archive write failed")
	}
}

func (o *Orchestrator) recordPoll(jobID string, progress float64) {
	if err := o.reg.RecordPoll(jobID, progress); err != nil && !errors.Is(err, registry.ErrNotFound) {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("poll bookkeeping failed")
	}
}

// stopPolling releases the job's cancel func, cancelling the loop when it is
// still running.
func (o *Orchestrator) stopPolling(jobID string) {
	o.cancelMu.Lock()
	cancel, ok := o.cancels[jobID]
	delete(o.cancels, jobID)
	o.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// grow applies the bounded backoff growth (×1.5, capped).
func (o *Orchestrator) grow(interval time.Duration) time.Duration {
	next := interval + interval/2
	if next > o.jobs.PollMaxInterval {
		next = o.jobs.PollMaxInterval
	}
	return next
}

// timeoutFor returns the wall-clock budget for a job kind.
func (o *Orchestrator) timeoutFor(kind domain.JobKind) time.Duration {
	if kind == domain.KindEdit {
		return o.jobs.EditTimeout
	}
	return o.jobs.GenerateTimeout
}

// validate enforces request parameter bounds. It runs before any backend
// interaction, so a failure here never creates a job.
func validate(req domain.Request) error {
	if req.Prompt == "" {
		return &ValidationError{Reason: "prompt must not be empty"}
	}
	if req.Owner == "" || req.Origin.ChannelID == "" {
		return &ValidationError{Reason: "request is missing its requester or origin"}
	}
	if req.Kind == domain.KindGenerate {
		// Generation takes no source image; a job reference only makes sense
		// for an edit, and SubmitGenerate would silently drop it.
		if req.SourceJobID != "" {
			return &ValidationError{Reason: "generate requests cannot reference a source job; use an edit"}
		}
		for name, v := range map[string]int{"width": req.Width, "height": req.Height} {
			if v < minDimension || v > maxDimension {
				return &ValidationError{Reason: fmt.Sprintf("%s must be between %d and %d", name, minDimension, maxDimension)}
			}
			if v%8 != 0 {
				return &ValidationError{Reason: name + " must be a multiple of 8"}
			}
		}
	}
	if req.Steps < 1 || req.Steps > maxSteps {
		return &ValidationError{Reason: fmt.Sprintf("steps must be between 1 and %d", maxSteps)}
	}
	if req.CFGScale <= 0 || req.CFGScale > maxCFGScale {
		return &ValidationError{Reason: fmt.Sprintf("cfg scale must be between 0 and %v", maxCFGScale)}
	}
	return nil
}
