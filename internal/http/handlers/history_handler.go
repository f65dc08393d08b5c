// Job history HTTP handlers.
//
// This file serves the persisted terminal-job archive:
//   - GET /history          (requester's finished jobs, paginated)
//   - GET /history/stats    (per-state archive counters)
//
// The archive is written best-effort when jobs finish; it never feeds job
// tracking, so these endpoints are read-only reporting.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/repo"
)

// HistoryResponse wraps a page of archived jobs and pagination information.
type HistoryResponse struct {
	Jobs       []domain.JobArchive `json:"jobs"`
	Pagination Pagination          `json:"pagination"`
}

// GetHistory returns a page of the requester's archived jobs, newest first.
//
// GET /history
func (h *Handlers) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	owner := userID(c)
	page, pageSize := clampPagination(c)

	total, err := repo.CountArchivedJobs(ctx, h.db, owner)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListArchivedJobsPage(ctx, h.db, owner, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, HistoryResponse{
		Jobs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetHistoryStats returns aggregate terminal-state counters across the whole
// archive.
//
// GET /history/stats
func (h *Handlers) GetHistoryStats(c *gin.Context) {
	stats, err := repo.GetArchiveStats(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}
