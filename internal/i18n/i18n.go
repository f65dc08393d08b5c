// Package i18n localizes user-facing bot messages. It carries English and
// Chinese catalogs, resolves a language from an Accept-Language header via
// golang.org/x/text, and tracks per-user language preferences with an
// optional persistence hook so preferences survive restarts.
package i18n

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// Supported languages. English is the fallback for missing keys.
const (
	LangEnglish = "en"
	LangChinese = "zh"
)

// LanguageName returns the display name for a language code, used by the
// language command's confirmation message.
func LanguageName(lang string) string {
	switch lang {
	case LangChinese:
		return "中文"
	default:
		return "English"
	}
}

// Supported reports whether lang is a language the catalog carries.
func Supported(lang string) bool { return lang == LangEnglish || lang == LangChinese }

var matcher = language.NewMatcher([]language.Tag{
	language.English, // first entry is the matcher fallback
	language.Chinese,
})

// Match resolves an Accept-Language header to a supported language code.
// Unparseable or empty headers resolve to the fallback.
func Match(acceptLanguage, fallback string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	if idx == 1 {
		return LangChinese
	}
	return LangEnglish
}

// T returns the translation for key in lang, formatted with args. Missing
// languages fall back to English; missing keys return the key itself so a
// gap is visible rather than silent.
func T(lang, key string, args ...any) string {
	entry, ok := catalog[key]
	if !ok {
		return key
	}
	text, ok := entry[lang]
	if !ok || text == "" {
		text = entry[LangEnglish]
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// PrefStore persists user language preferences. Implementations must be safe
// for concurrent use; errors are the caller's to log.
type PrefStore interface {
	SaveLanguage(userID, lang string) error
	LoadLanguages() (map[string]string, error)
}

// Prefs tracks per-user language selections in memory, optionally backed by
// a PrefStore.
type Prefs struct {
	mu       sync.RWMutex
	byUser   map[string]string
	fallback string
	store    PrefStore
}

// NewPrefs constructs a preference tracker with the given default language.
// When store is non-nil, previously saved preferences are loaded eagerly.
func NewPrefs(fallback string, store PrefStore) (*Prefs, error) {
	if !Supported(fallback) {
		fallback = LangEnglish
	}
	p := &Prefs{byUser: make(map[string]string), fallback: fallback, store: store}
	if store != nil {
		saved, err := store.LoadLanguages()
		if err != nil {
			return nil, err
		}
		for user, lang := range saved {
			if Supported(lang) {
				p.byUser[user] = lang
			}
		}
	}
	return p, nil
}

// Get returns the user's preferred language, or the default.
func (p *Prefs) Get(userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if lang, ok := p.byUser[userID]; ok {
		return lang
	}
	return p.fallback
}

// Set records the user's preferred language and persists it when a store is
// configured.
func (p *Prefs) Set(userID, lang string) error {
	if !Supported(lang) {
		return fmt.Errorf("i18n: unsupported language %q", lang)
	}
	p.mu.Lock()
	p.byUser[userID] = lang
	p.mu.Unlock()
	if p.store != nil {
		return p.store.SaveLanguage(userID, lang)
	}
	return nil
}
