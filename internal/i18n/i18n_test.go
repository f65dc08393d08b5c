package i18n

import (
	"errors"
	"strings"
	"testing"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"zh-CN,zh;q=0.9", LangChinese},
		{"zh-TW", LangChinese},
		{"en-US,en;q=0.8", LangEnglish},
		{"de-DE,de;q=0.9", LangChinese}, // no supported match keeps the caller's fallback
		{"", LangChinese},               // so does an empty header
		{";;;garbage", LangChinese},
	}
	for _, tc := range cases {
		if got := Match(tc.header, LangChinese); got != tc.want {
			t.Errorf("Match(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestT_FallbackBehavior(t *testing.T) {
	if got := T(LangChinese, "heres_your_image"); !strings.Contains(got, "图片") {
		t.Fatalf("zh translation = %q", got)
	}
	// Unknown language falls back to English.
	if got := T("fr", "heres_your_image"); got != catalog["heres_your_image"][LangEnglish] {
		t.Fatalf("fallback = %q", got)
	}
	// Missing keys surface themselves instead of an empty string.
	if got := T(LangEnglish, "no_such_key"); got != "no_such_key" {
		t.Fatalf("missing key = %q", got)
	}
	// Format args are applied.
	if got := T(LangEnglish, "generating_image", "job-1"); !strings.Contains(got, "job-1") {
		t.Fatalf("formatted = %q", got)
	}
}

func TestSupportedAndLanguageName(t *testing.T) {
	if !Supported("en") || !Supported("zh") || Supported("fr") {
		t.Fatalf("Supported misclassifies languages")
	}
	if LanguageName("zh") != "中文" || LanguageName("en") != "English" {
		t.Fatalf("unexpected display names")
	}
}

// memStore is an in-memory PrefStore for exercising persistence hooks.
type memStore struct {
	saved   map[string]string
	loadErr error
	saveErr error
}

func (s *memStore) SaveLanguage(userID, lang string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[userID] = lang
	return nil
}

func (s *memStore) LoadLanguages() (map[string]string, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.saved, nil
}

func TestPrefs_DefaultAndSet(t *testing.T) {
	p, err := NewPrefs("zh", nil)
	if err != nil {
		t.Fatalf("new prefs: %v", err)
	}
	if got := p.Get("nobody"); got != "zh" {
		t.Fatalf("default = %q, want zh", got)
	}
	if err := p.Set("alice", "en"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := p.Get("alice"); got != "en" {
		t.Fatalf("get = %q, want en", got)
	}
	if err := p.Set("alice", "klingon"); err == nil {
		t.Fatalf("want error for unsupported language")
	}
}

func TestPrefs_UnsupportedFallbackCoerced(t *testing.T) {
	p, err := NewPrefs("fr", nil)
	if err != nil {
		t.Fatalf("new prefs: %v", err)
	}
	if got := p.Get("anyone"); got != LangEnglish {
		t.Fatalf("fallback = %q, want en", got)
	}
}

func TestPrefs_StoreRoundTrip(t *testing.T) {
	store := &memStore{saved: map[string]string{
		"alice": "zh",
		"bob":   "martian", // unsupported entries are skipped on load
	}}
	p, err := NewPrefs("en", store)
	if err != nil {
		t.Fatalf("new prefs: %v", err)
	}
	if got := p.Get("alice"); got != "zh" {
		t.Fatalf("loaded pref = %q, want zh", got)
	}
	if got := p.Get("bob"); got != "en" {
		t.Fatalf("invalid stored pref leaked: %q", got)
	}

	if err := p.Set("carol", "zh"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if store.saved["carol"] != "zh" {
		t.Fatalf("set not persisted: %v", store.saved)
	}
}

func TestPrefs_StoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	if _, err := NewPrefs("en", &memStore{loadErr: boom}); !errors.Is(err, boom) {
		t.Fatalf("load error not surfaced: %v", err)
	}

	p, err := NewPrefs("en", &memStore{saveErr: boom})
	if err != nil {
		t.Fatalf("new prefs: %v", err)
	}
	if err := p.Set("alice", "zh"); !errors.Is(err, boom) {
		t.Fatalf("save error not surfaced: %v", err)
	}
	// The in-memory value still updated; persistence is best-effort upstream.
	if got := p.Get("alice"); got != "zh" {
		t.Fatalf("in-memory pref lost on store error: %q", got)
	}
}

func TestCatalog_EveryKeyHasEnglish(t *testing.T) {
	for key, entry := range catalog {
		if entry[LangEnglish] == "" {
			t.Errorf("catalog key %q has no English text", key)
		}
	}
}
