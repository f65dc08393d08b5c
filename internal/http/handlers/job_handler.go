// Job HTTP handlers.
//
// This file exposes REST endpoints over the live job registry:
//   - GET    /jobs        (list the requester's tracked jobs)
//   - GET    /jobs/{id}   (status of one job)
//   - DELETE /jobs/{id}   (cancel a queued or running job)
//
// The registry only holds live jobs and recently finished ones awaiting
// retention eviction; older jobs are served by the history endpoint.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/orchestrator"
)

// JobView is the wire representation of a tracked job. Result bytes are
// never serialized; gateways receive them in the terminal notification.
type JobView struct {
	JobID        string    `json:"job_id"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	Prompt       string    `json:"prompt"`
	Progress     float64   `json:"progress"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Deadline     time.Time `json:"deadline"`
	FinishedAt   string    `json:"finished_at,omitempty"`
	PollAttempts int       `json:"poll_attempts"`
	ResultURL    string    `json:"result_url,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ListJobsResponse wraps the requester's tracked jobs.
type ListJobsResponse struct {
	Jobs  []JobView `json:"jobs"`
	Total int       `json:"total"`
}

func toJobView(j domain.Job) JobView {
	v := JobView{
		JobID:        j.ID,
		Kind:         string(j.Kind),
		State:        string(j.State),
		Prompt:       j.Prompt,
		Progress:     j.Progress,
		SubmittedAt:  j.SubmittedAt,
		Deadline:     j.Deadline,
		PollAttempts: j.PollAttempts,
		ResultURL:    j.ResultURL,
		Error:        j.Error,
	}
	if !j.FinishedAt.IsZero() {
		v.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// GetJob returns the current state of one tracked job. Jobs are visible only
// to their owner.
//
// GET /jobs/{id}
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.dir.Get(c.Param("id"))
	if err != nil || job.Owner != userID(c) {
		// Not distinguishing "exists but foreign" keeps job ids unguessable.
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	}
	ok(c, http.StatusOK, toJobView(job))
}

// ListJobs returns every job the registry tracks for the requester, in
// submission order (oldest first).
//
// GET /jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	jobs := h.dir.ListOwned(userID(c))
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: views, Total: len(views)})
}

// CancelJob cancels a queued or running job owned by the requester. The
// backend keeps processing; only local tracking and notification stop.
//
// DELETE /jobs/{id}
func (h *Handlers) CancelJob(c *gin.Context) {
	job, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"), userID(c))
	switch {
	case err == nil:
		ok(c, http.StatusOK, toJobView(job))
	case errors.Is(err, orchestrator.ErrNotOwner):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "job belongs to another user")
	case errors.Is(err, orchestrator.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
