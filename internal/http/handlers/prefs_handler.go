// User preference HTTP handlers.
//
// This file exposes the reply-language preference behind the "/language"
// chat command:
//   - GET /preferences/language   (current language)
//   - PUT /preferences/language   (switch language)
//
// When the PUT body names no language, the Accept-Language header decides,
// so gateways can forward the platform locale verbatim.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pixelrelay/go-imagebot-backend/internal/i18n"
)

// LanguageRequest is the JSON payload for switching languages.
type LanguageRequest struct {
	// Language is a supported code ("en", "zh"); empty means "resolve from
	// the Accept-Language header".
	Language string `json:"language"`
}

// LanguageResponse reports the active language and the localized
// confirmation the gateway should show.
type LanguageResponse struct {
	Language string `json:"language"`
	Message  string `json:"message"`
}

// GetLanguage returns the requester's current reply language.
//
// GET /preferences/language
func (h *Handlers) GetLanguage(c *gin.Context) {
	lang := h.prefs.Get(userID(c))
	ok(c, http.StatusOK, LanguageResponse{
		Language: lang,
		Message:  i18n.T(lang, "language_current", i18n.LanguageName(lang)),
	})
}

// SetLanguage switches the requester's reply language.
//
// PUT /preferences/language
func (h *Handlers) SetLanguage(c *gin.Context) {
	var req LanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	uid := userID(c)
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = i18n.Match(c.GetHeader("Accept-Language"), h.prefs.Get(uid))
	}
	if !i18n.Supported(lang) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `language must be "en" or "zh"`)
		return
	}

	if err := h.prefs.Set(uid, lang); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, LanguageResponse{
		Language: lang,
		Message:  i18n.T(lang, "language_set", i18n.LanguageName(lang)),
	})
}
