// This file implements RedactingLogger, the access logger used in front of
// the gateway-facing API. Chat gateways forward user identifiers, event IDs,
// and a shared authentication token with every request; the logger scrubs
// those values from request metadata before anything reaches the logs.
//
// It never logs request or response bodies (image uploads would bloat the
// logs, and prompts are user content).
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures extra scrubbing for RedactingLogger.
//
// MaskHeaders names additional headers whose values are replaced with
// "[REDACTED]" wholesale. Matching is case-insensitive; the built-in set
// (Authorization, Cookie, Set-Cookie, X-Gateway-Token) is always masked.
type RedactOptions struct {
	MaskHeaders []string
}

// builtinMaskedHeaders are always masked regardless of options. X-Gateway-Token
// is the shared secret chat gateways present; leaking it in logs would let
// anyone with log access forge notifications.
var builtinMaskedHeaders = []string{"authorization", "cookie", "set-cookie", "x-gateway-token"}

// Scrub patterns, applied in order. UUIDs first: the snowflake pattern is
// digits-only and would otherwise match the numeric runs inside a UUID.
var (
	scrubUUID = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	// Chat-platform user/channel/message IDs (17-20 digit snowflakes).
	scrubSnowflake = regexp.MustCompile(`\b\d{17,20}\b`)
	scrubEmail     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = scrubUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = scrubSnowflake.ReplaceAllString(s, "[REDACTED:id]")
	s = scrubEmail.ReplaceAllString(s, "[REDACTED:email]")
	return s
}

// RedactingLogger returns a Gin middleware that writes one structured access
// log line per request with sensitive values scrubbed.
//
// It logs method, route, scrubbed query string, status, response size,
// latency, and scrubbed request headers. Level follows the outcome: info for
// 2xx/3xx, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{}, len(builtinMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range builtinMaskedHeaders {
		masked[h] = struct{}{}
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
