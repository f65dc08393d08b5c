// Package repo implements the data persistence layer, backed by GORM.
// This file provides repository functions for the JobArchive model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ArchiveJob inserts a terminal-job snapshot. The archive row gets its own
// UUID primary key; backend job ids may be reused across backend restarts
// and so are not unique.
func ArchiveJob(ctx context.Context, db *gorm.DB, job domain.Job) (*domain.JobArchive, error) {
	a := &domain.JobArchive{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Owner:       job.Owner,
		Kind:        string(job.Kind),
		State:       string(job.State),
		Prompt:      job.Prompt,
		Error:       job.Error,
		ResultURL:   job.ResultURL,
		SubmittedAt: job.SubmittedAt,
		FinishedAt:  job.FinishedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// CountArchivedJobs returns the total number of archived jobs for an owner.
func CountArchivedJobs(ctx context.Context, db *gorm.DB, owner string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.JobArchive{}).
		Where("owner = ?", owner).
		Count(&total).Error
	return total, err
}

// ListArchivedJobsPage returns a paginated slice of an owner's archived jobs,
// newest submission first.
func ListArchivedJobsPage(ctx context.Context, db *gorm.DB, owner string, offset, limit int) ([]domain.JobArchive, error) {
	var out []domain.JobArchive
	err := db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("submitted_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ArchiveStats aggregates archived-job counts per terminal state.
type ArchiveStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Cancelled int64 `json:"cancelled"`
}

// GetArchiveStats returns per-state counts across the whole archive.
func GetArchiveStats(ctx context.Context, db *gorm.DB) (*ArchiveStats, error) {
	type row struct {
		State string
		N     int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.JobArchive{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	s := &ArchiveStats{}
	for _, r := range rows {
		s.Total += r.N
		switch domain.JobState(r.State) {
		case domain.StateSucceeded:
			s.Succeeded = r.N
		case domain.StateFailed:
			s.Failed = r.N
		case domain.StateTimedOut:
			s.TimedOut = r.N
		case domain.StateCancelled:
			s.Cancelled = r.N
		}
	}
	return s, nil
}
