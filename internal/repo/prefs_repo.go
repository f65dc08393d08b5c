// Package repo implements the data persistence layer, backed by GORM.
// This file provides repository functions for the UserPref model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// UpsertUserLanguage stores (or replaces) a user's reply language.
func UpsertUserLanguage(ctx context.Context, db *gorm.DB, userID, language string) error {
	now := time.Now().UTC()
	p := &domain.UserPref{
		UserID:    userID,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"language", "updated_at"}),
		}).
		Create(p).Error
}

// GetUserLanguage returns the stored language for a user, or ErrNotFound.
func GetUserLanguage(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var p domain.UserPref
	if err := db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return "", err
	}
	return p.Language, nil
}

// ListUserLanguages returns every stored user→language mapping. Used to warm
// the in-memory preference cache at startup.
func ListUserLanguages(ctx context.Context, db *gorm.DB) (map[string]string, error) {
	var prefs []domain.UserPref
	if err := db.WithContext(ctx).Find(&prefs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(prefs))
	for _, p := range prefs {
		out[p.UserID] = p.Language
	}
	return out, nil
}

// PrefStore adapts the repository to the i18n preference-store contract,
// which is context-free; operations run against the background context.
type PrefStore struct {
	DB *gorm.DB
}

// SaveLanguage persists one user's language choice.
func (s PrefStore) SaveLanguage(userID, language string) error {
	return UpsertUserLanguage(context.Background(), s.DB, userID, language)
}

// LoadLanguages loads all stored language choices.
func (s PrefStore) LoadLanguages() (map[string]string, error) {
	m, err := ListUserLanguages(context.Background(), s.DB)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]string{}, nil
	}
	return m, err
}
