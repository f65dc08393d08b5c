package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func terminalJob(id, owner string, state domain.JobState, finished time.Time) domain.Job {
	return domain.Job{
		ID:          id,
		Owner:       owner,
		Kind:        domain.KindGenerate,
		Prompt:      "a lighthouse at dusk",
		State:       state,
		SubmittedAt: finished.Add(-time.Minute),
		FinishedAt:  finished,
	}
}

func TestArchiveJob_Error_NoTable(t *testing.T) {
	db := newRepoDB(t /* no migrations */)
	a, err := ArchiveJob(context.Background(), db, terminalJob("j1", "u1", domain.StateSucceeded, time.Now().UTC()))
	if err == nil || a != nil {
		t.Fatalf("expected error archiving without table, got a=%v err=%v", a, err)
	}
}

func TestArchiveJob_Success_PersistsSnapshot(t *testing.T) {
	db := newRepoDB(t, &domain.JobArchive{})

	job := terminalJob("j1", "u1", domain.StateFailed, time.Now().UTC())
	job.Error = "backend exploded"

	a, err := ArchiveJob(context.Background(), db, job)
	if err != nil {
		t.Fatalf("ArchiveJob: %v", err)
	}
	if a.ID == "" || a.ID == job.ID {
		t.Fatalf("archive row must get its own UUID key, got %q", a.ID)
	}
	if a.JobID != "j1" || a.Owner != "u1" || a.State != "failed" || a.Error != "backend exploded" {
		t.Fatalf("unexpected archive fields: %+v", a)
	}

	var got domain.JobArchive
	if err := db.First(&got, "job_id = ?", "j1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Kind != "generate" || got.Prompt != "a lighthouse at dusk" {
		t.Fatalf("unexpected persisted fields: %+v", got)
	}
}

func TestListArchivedJobsPage_OrdersAndScopes(t *testing.T) {
	db := newRepoDB(t, &domain.JobArchive{})
	ctx := context.Background()
	base := time.Now().UTC()

	// Three jobs for u1 at increasing submission times, one foreign job.
	for i := 0; i < 3; i++ {
		job := terminalJob(fmt.Sprintf("j%d", i), "u1", domain.StateSucceeded, base.Add(time.Duration(i)*time.Minute))
		if _, err := ArchiveJob(ctx, db, job); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if _, err := ArchiveJob(ctx, db, terminalJob("jx", "u2", domain.StateSucceeded, base)); err != nil {
		t.Fatalf("seed foreign: %v", err)
	}

	total, err := CountArchivedJobs(ctx, db, "u1")
	if err != nil || total != 3 {
		t.Fatalf("CountArchivedJobs: total=%d err=%v", total, err)
	}

	page, err := ListArchivedJobsPage(ctx, db, "u1", 0, 2)
	if err != nil {
		t.Fatalf("ListArchivedJobsPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	// Newest submission first.
	if page[0].JobID != "j2" || page[1].JobID != "j1" {
		t.Fatalf("unexpected order: %s, %s", page[0].JobID, page[1].JobID)
	}
	for _, row := range page {
		if row.Owner != "u1" {
			t.Fatalf("foreign row leaked into page: %+v", row)
		}
	}

	rest, err := ListArchivedJobsPage(ctx, db, "u1", 2, 2)
	if err != nil || len(rest) != 1 || rest[0].JobID != "j0" {
		t.Fatalf("second page unexpected: %v err=%v", rest, err)
	}
}

func TestGetArchiveStats_CountsPerState(t *testing.T) {
	db := newRepoDB(t, &domain.JobArchive{})
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []domain.JobState{
		domain.StateSucceeded, domain.StateSucceeded,
		domain.StateFailed,
		domain.StateTimedOut,
		domain.StateCancelled,
	}
	for i, st := range seed {
		if _, err := ArchiveJob(ctx, db, terminalJob(fmt.Sprintf("j%d", i), "u1", st, now)); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	stats, err := GetArchiveStats(ctx, db)
	if err != nil {
		t.Fatalf("GetArchiveStats: %v", err)
	}
	if stats.Total != 5 || stats.Succeeded != 2 || stats.Failed != 1 || stats.TimedOut != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestJobArchiver_ArchiveTerminal(t *testing.T) {
	db := newRepoDB(t, &domain.JobArchive{})
	a := JobArchiver{DB: db}

	if err := a.ArchiveTerminal(context.Background(), terminalJob("j9", "u9", domain.StateTimedOut, time.Now().UTC())); err != nil {
		t.Fatalf("ArchiveTerminal: %v", err)
	}
	var n int64
	if err := db.Model(&domain.JobArchive{}).Where("job_id = ?", "j9").Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected 1 archived row, got n=%d err=%v", n, err)
	}
}
