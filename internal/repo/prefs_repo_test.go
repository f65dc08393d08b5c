package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

func TestUpsertUserLanguage_InsertThenReplace(t *testing.T) {
	db := newRepoDB(t, &domain.UserPref{})
	ctx := context.Background()

	if err := UpsertUserLanguage(ctx, db, "u1", "en"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := UpsertUserLanguage(ctx, db, "u1", "zh"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	lang, err := GetUserLanguage(ctx, db, "u1")
	if err != nil || lang != "zh" {
		t.Fatalf("GetUserLanguage: lang=%q err=%v", lang, err)
	}

	var n int64
	if err := db.Model(&domain.UserPref{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("upsert should not duplicate rows: n=%d err=%v", n, err)
	}
}

func TestGetUserLanguage_NotFound(t *testing.T) {
	db := newRepoDB(t, &domain.UserPref{})
	_, err := GetUserLanguage(context.Background(), db, "missing")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListUserLanguages_ReturnsAll(t *testing.T) {
	db := newRepoDB(t, &domain.UserPref{})
	ctx := context.Background()

	_ = UpsertUserLanguage(ctx, db, "u1", "en")
	_ = UpsertUserLanguage(ctx, db, "u2", "zh")

	all, err := ListUserLanguages(ctx, db)
	if err != nil {
		t.Fatalf("ListUserLanguages: %v", err)
	}
	if len(all) != 2 || all["u1"] != "en" || all["u2"] != "zh" {
		t.Fatalf("unexpected map: %v", all)
	}
}

func TestPrefStore_SatisfiesI18nContract(t *testing.T) {
	db := newRepoDB(t, &domain.UserPref{})
	store := PrefStore{DB: db}

	if err := store.SaveLanguage("u1", "zh"); err != nil {
		t.Fatalf("SaveLanguage: %v", err)
	}
	langs, err := store.LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages: %v", err)
	}
	if langs["u1"] != "zh" {
		t.Fatalf("unexpected languages: %v", langs)
	}
}
