// Backend introspection HTTP handlers.
//
// This file proxies the backend's queue and system endpoints so gateways can
// render "/queue" and "/system" chat commands without talking to the backend
// directly:
//   - GET /queue    (queue depth and throughput counters)
//   - GET /system   (device, pipelines, GPU memory)
//
// The queue response is enriched with the count of jobs this service is
// itself tracking, which the backend cannot know.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
)

// QueueResponse wraps the backend queue snapshot with local tracking info.
type QueueResponse struct {
	backend.QueueInfo
	// TrackedJobs is the number of live jobs this service is polling.
	TrackedJobs int `json:"tracked_jobs"`
}

// GetQueue returns the backend's queue counters.
//
// GET /queue
func (h *Handlers) GetQueue(c *gin.Context) {
	info, err := h.info.QueueInfo(c.Request.Context())
	if err != nil {
		failInfo(c, err)
		return
	}
	ok(c, http.StatusOK, QueueResponse{
		QueueInfo:   info,
		TrackedJobs: len(h.dir.ListActive()),
	})
}

// GetSystem returns the backend's device and pipeline capabilities.
//
// GET /system
func (h *Handlers) GetSystem(c *gin.Context) {
	info, err := h.info.SystemInfo(c.Request.Context())
	if err != nil {
		failInfo(c, err)
		return
	}
	ok(c, http.StatusOK, info)
}

func failInfo(c *gin.Context, err error) {
	if errors.Is(err, backend.ErrUnavailable) {
		fail(c, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, "image backend is not reachable")
		return
	}
	fail(c, http.StatusBadGateway, ErrCodeBackendUnavailable, err.Error())
}
