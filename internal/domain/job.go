// Package domain defines the core types of the image-bot backend: tracked
// jobs, their lifecycle state machine, normalized user requests, and the
// persistence models for the terminal-job archive and user preferences.
package domain

import "time"

// JobState is the lifecycle state of a tracked backend job.
//
// The transition graph is strictly forward:
//
//	Queued → Running → Succeeded | Failed
//	any non-terminal → TimedOut (local deadline)
//	Queued → Cancelled (cancel before the backend was observed running)
//
// The four right-hand states are terminal; no transition leaves them.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job in state s may move to next.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateRunning:
		return s == StateQueued
	case StateSucceeded, StateFailed:
		return s == StateQueued || s == StateRunning
	case StateTimedOut:
		return true // any non-terminal state may time out
	case StateCancelled:
		return s == StateQueued || s == StateRunning
	}
	return false
}

// JobKind distinguishes generation from editing jobs.
type JobKind string

const (
	KindGenerate JobKind = "generate"
	KindEdit     JobKind = "edit"
)

// Origin identifies where a job's terminal notification must be delivered:
// the chat-platform location the request came from.
type Origin struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"` // source message, for reply threading
}

// Job is the tracked unit of work for one backend image request.
//
// The ID is the opaque identifier assigned by the backend at submission.
// Result is present only in StateSucceeded; Error only in StateFailed.
// LastPolledAt and PollAttempts are poller bookkeeping.
type Job struct {
	ID       string   `json:"id"`
	Owner    string   `json:"owner"`
	Origin   Origin   `json:"origin"`
	Kind     JobKind  `json:"kind"`
	Prompt   string   `json:"prompt"`
	State    JobState `json:"state"`
	Progress float64  `json:"progress"`

	SubmittedAt  time.Time `json:"submitted_at"`
	Deadline     time.Time `json:"deadline"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	LastPolledAt time.Time `json:"last_polled_at,omitempty"`
	PollAttempts int       `json:"poll_attempts"`

	Result    []byte `json:"-"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}
