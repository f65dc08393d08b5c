// Package orchestrator coordinates the backend client, the job registry,
// and the notifier: it turns a normalized Request into a tracked Job,
// drives a background poll loop per job until a terminal state, and
// triggers exactly one notification per job.
//
// This file centralizes the orchestrator's error values. Pre-submission
// errors surface synchronously to the requester and never create a job;
// everything after backend acceptance surfaces asynchronously through the
// notifier.
package orchestrator

import "errors"

var (
	// ErrBackendUnavailable is returned when the backend cannot be reached
	// at submission time. No job is created; the caller should retry later.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSourceNotFound is returned when a re-edit references a job that is
	// unknown, not succeeded, or already evicted.
	ErrSourceNotFound = errors.New("source job not found")

	// ErrTooManyJobs is returned when the active-job cap is reached.
	ErrTooManyJobs = errors.New("too many active jobs")

	// ErrNotOwner is returned when a caller operates on a job they do not own.
	ErrNotOwner = errors.New("job belongs to another user")

	// ErrJobNotFound mirrors registry misses for callers outside the package.
	ErrJobNotFound = errors.New("job not found")
)

// ValidationError rejects a malformed request before any job exists. Reason
// is safe to show to the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
