// Package repo implements the data persistence layer, backed by GORM.
// This file provides repository functions for the EventDedup model, which
// records chat-platform event ids that already produced a job so gateway
// redeliveries cannot enqueue duplicates.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// LookupEvent returns the job id previously recorded for eventID, or
// ErrNotFound when the event has not been seen (or its record expired).
func LookupEvent(ctx context.Context, db *gorm.DB, eventID string) (string, error) {
	var rec domain.EventDedup
	err := db.WithContext(ctx).First(&rec, "event_id = ?", eventID).Error
	if err != nil {
		return "", err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().UTC().After(rec.ExpiresAt) {
		return "", ErrNotFound
	}
	return rec.JobID, nil
}

// RecordEvent stores the job produced by a chat event. Recording the same
// event id again is a no-op so the first job wins on redelivery races.
func RecordEvent(ctx context.Context, db *gorm.DB, eventID, owner, jobID string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.EventDedup{
		EventID:   eventID,
		Owner:     owner,
		JobID:     jobID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

// PurgeExpiredEvents deletes dedup rows whose TTL has elapsed and returns the
// number removed. Called opportunistically by the registry sweeper loop.
func PurgeExpiredEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&domain.EventDedup{})
	return res.RowsAffected, res.Error
}

// EventStore bundles the dedup operations behind the handle the HTTP layer
// consumes, so handlers need not hold a *gorm.DB directly.
type EventStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Seen returns the job id already recorded for eventID, and whether one was.
func (s EventStore) Seen(ctx context.Context, eventID string) (string, bool, error) {
	jobID, err := LookupEvent(ctx, s.DB, eventID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return jobID, true, nil
}

// Record associates eventID with the job it produced.
func (s EventStore) Record(ctx context.Context, eventID, owner, jobID string) error {
	return RecordEvent(ctx, s.DB, eventID, owner, jobID, s.TTL)
}
