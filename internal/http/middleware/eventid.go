// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements chat-event deduplication support for unsafe HTTP
// methods (POST /requests, POST /messages). Gateways retry deliveries, so
// the same chat event can arrive more than once; each delivery carries the
// platform's event id. The middleware validates an X-Event-ID request
// header, optionally performs a user-defined lookup to detect events that
// already produced a job, and annotates the request context so downstream
// handlers can:
//   - read the normalized event id (GetEventID)
//   - detect redelivered events (IsReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Design goals:
//   - Keep transport concerns (validation, context stashing) in middleware.
//   - Decouple persistence via a narrow EventLookup function type.
//   - Remain framework-agnostic beyond Gin’s context.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderEventID is the canonical request header gateways use to convey the
// chat-platform event id of the delivery.
//
// The value is stable across redeliveries of the same event so that retries
// (network, gateway, or platform initiated) can be safely deduplicated.
const HeaderEventID = "X-Event-ID"

// Context keys used internally to stash event-dedup state.
// These keys are intentionally unexported and referenced via accessor helpers.
const (
	ctxKeyEventID    = "event.id"
	ctxKeyEventRepl  = "event.replay" // bool: true when the event was seen before
	ctxKeyRateBypass = "rate.bypass"  // bool: true to skip rate limiting
)

// GetEventID returns the validated event id stored in the Gin context by
// EventIDValidator. The second return value indicates presence.
//
// Handlers should prefer this function over reading the header directly.
func GetEventID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyEventID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request
// redelivers a chat event that already produced a job.
//
// When true, upstream components (e.g., handlers, rate limiters) may choose
// to short-circuit computation and return the previously created job.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyEventRepl)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// EventIDOptions configures header validation behavior for EventIDValidator.
// TTL enforcement is intentionally out of scope here and should be
// implemented inside the provided lookup function.
type EventIDOptions struct {
	// MaxLen caps the accepted id length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// EventLookup answers whether eventID already produced a job. Implementations
// typically consult the dedup table, enforcing their own TTL window.
//
// Return seen=true when the prior job can be replayed; return an error only
// for lookup failures (which should not block normal processing).
type EventLookup func(ctx context.Context, eventID string) (seen bool, err error)

// EventIDValidator validates the X-Event-ID header (if present), stashes it
// in the request context, and optionally checks whether the event was
// already handled via the supplied lookup. When a redelivery is detected, it
// marks the context so downstream components can:
//   - detect replay via IsReplay
//   - bypass rate limiting (internal flag checked by the RL middleware)
//
// Behavior:
//   - If header is absent: the middleware is a no-op.
//   - If header fails validation: responds 400 with a compact error body.
//   - If lookup reports the event as seen: sets replay + rate-bypass flags.
//   - Always invokes the next handler unless validation fails.
//
// This middleware does not itself return the original job; handlers remain
// in control of how to serve replays (e.g., by fetching the recorded job id).
func EventIDValidator(opts EventIDOptions, lookup EventLookup) gin.HandlerFunc {
	// Sensible defaults.
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		// RFC-7230-ish token + common safe chars.
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		id := c.GetHeader(HeaderEventID)
		if id == "" {
			// Nothing to validate or stash; proceed.
			c.Next()
			return
		}
		if len(id) > maxLen || !pat.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_event_id",
				"message": "invalid X-Event-ID",
			})
			return
		}

		// Stash the normalized id for downstream use.
		c.Set(ctxKeyEventID, id)

		// If the event was already handled, mark replay + rate bypass.
		if lookup != nil {
			if seen, _ := lookup(c.Request.Context(), id); seen {
				c.Set(ctxKeyEventRepl, true)
				c.Set(ctxKeyRateBypass, true) // let RL middleware skip limiting
			}
		}

		c.Next()
	}
}
