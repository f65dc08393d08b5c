package domain

import (
	"time"

	"gorm.io/gorm"
)

// JobArchive is the persisted record of a job that reached a terminal state.
// It is written best-effort when a job finishes and serves the /history
// endpoint; the live registry never reads from it, so losing rows (or the
// whole file) only affects history, never job tracking.
//
// Fields:
//   - ID: UUID primary key (char(36)); not the backend job id, which may be
//     reused across backend restarts.
//   - JobID: the backend-assigned job identifier.
//   - Owner: requester identity; indexed for per-user history queries.
//   - Kind / State / Prompt / Error / ResultURL: terminal snapshot.
//   - SubmittedAt / FinishedAt: lifecycle timestamps from the registry.
type JobArchive struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	JobID       string         `json:"job_id"       gorm:"type:varchar(64);not null;index"`
	Owner       string         `json:"owner"        gorm:"type:varchar(64);not null;index:idx_owner_history"`
	Kind        string         `json:"kind"         gorm:"type:varchar(16);not null;check:kind IN ('generate','edit')"`
	State       string         `json:"state"        gorm:"type:varchar(16);not null"`
	Prompt      string         `json:"prompt"       gorm:"type:text;not null"`
	Error       string         `json:"error,omitempty"      gorm:"type:text"`
	ResultURL   string         `json:"result_url,omitempty" gorm:"type:text"`
	SubmittedAt time.Time      `json:"submitted_at" gorm:"index:idx_owner_history,priority:2"`
	FinishedAt  time.Time      `json:"finished_at"`
	CreatedAt   time.Time      `json:"created_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for JobArchive.
func (JobArchive) TableName() string { return "job_archive" }

// UserPref stores per-user settings, currently the reply language.
type UserPref struct {
	UserID    string    `json:"user_id"  gorm:"type:varchar(64);primaryKey"`
	Language  string    `json:"language" gorm:"type:varchar(8);not null;default:'en'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserPref.
func (UserPref) TableName() string { return "user_prefs" }

// EventDedup records chat-platform event ids that already produced a job, so
// gateway redeliveries of the same message cannot enqueue duplicates. Rows
// expire after a TTL and are purged opportunistically.
type EventDedup struct {
	EventID   string    `json:"event_id" gorm:"type:varchar(128);primaryKey"`
	Owner     string    `json:"owner"    gorm:"type:varchar(64);not null;index"`
	JobID     string    `json:"job_id"   gorm:"type:varchar(64);not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for EventDedup.
func (EventDedup) TableName() string { return "event_dedup" }
