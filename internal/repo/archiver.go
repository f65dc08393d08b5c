package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// JobArchiver adapts the archive repository to the orchestrator's terminal
// hook.
type JobArchiver struct {
	DB *gorm.DB
}

// ArchiveTerminal persists the terminal snapshot of a finished job.
func (a JobArchiver) ArchiveTerminal(ctx context.Context, job domain.Job) error {
	_, err := ArchiveJob(ctx, a.DB, job)
	return err
}
