// Package handlers provides HTTP handler implementations for the public API.
//
// The API is the boundary between chat gateways (the processes that own the
// chat-platform session) and the job pipeline: gateways forward slash
// commands and free-text messages here, and this layer normalizes them,
// submits jobs to the orchestrator, and answers status queries from the
// in-memory registry.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/i18n"
	"github.com/pixelrelay/go-imagebot-backend/internal/intake"
)

//
// Service contracts (context-aware)
//

// JobService defines the job lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type JobService interface {
	// Submit validates a normalized request, submits it to the backend, and
	// registers the resulting job for tracking.
	Submit(ctx context.Context, req domain.Request) (domain.Job, error)
	// Cancel stops tracking a job the requester owns.
	Cancel(ctx context.Context, jobID, requester string) (domain.Job, error)
}

// JobDirectory reads tracked jobs from the live registry.
type JobDirectory interface {
	Get(id string) (domain.Job, error)
	ListOwned(owner string) []domain.Job
	ListActive() []domain.Job
}

// BackendInfo proxies backend queue and system introspection.
type BackendInfo interface {
	QueueInfo(ctx context.Context) (backend.QueueInfo, error)
	SystemInfo(ctx context.Context) (backend.SystemInfo, error)
}

// EventRecorder deduplicates chat-platform events across gateway
// redeliveries.
type EventRecorder interface {
	// Seen returns the job id already produced by eventID, if any.
	Seen(ctx context.Context, eventID string) (jobID string, seen bool, err error)
	// Record associates eventID with the job it produced.
	Record(ctx context.Context, eventID, owner, jobID string) error
}

// AckFormatter renders the localized acknowledgement for an accepted
// request.
type AckFormatter interface {
	FormatAck(owner string, kind domain.JobKind, jobID string) string
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for requests, jobs, backend info,
// history, and preferences. It depends on abstract service interfaces to
// keep transport concerns separate from business logic.
type Handlers struct {
	jobs       JobService
	dir        JobDirectory
	info       BackendInfo
	events     EventRecorder
	ack        AckFormatter
	normalizer *intake.Normalizer
	prefs      *i18n.Prefs
	db         *gorm.DB
}

// Deps carries the collaborators a Handlers needs. Events may be nil when
// event dedup is disabled.
type Deps struct {
	Jobs       JobService
	Directory  JobDirectory
	Info       BackendInfo
	Events     EventRecorder
	Ack        AckFormatter
	Normalizer *intake.Normalizer
	Prefs      *i18n.Prefs
	DB         *gorm.DB
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		jobs:       d.Jobs,
		dir:        d.Directory,
		info:       d.Info,
		events:     d.Events,
		ack:        d.Ack,
		normalizer: d.Normalizer,
		prefs:      d.Prefs,
		db:         d.DB,
	}
}

// userID extracts the requesting user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header the
// gateways send, and finally to "demo-user". It never touches c.Request if
// it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// Shared DTOs
//

// OriginPayload is the chat-platform location a request came from and where
// its terminal notification will be delivered.
type OriginPayload struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id,omitempty"`
}

func (o OriginPayload) toDomain() domain.Origin {
	return domain.Origin{
		GuildID:   strings.TrimSpace(o.GuildID),
		ChannelID: strings.TrimSpace(o.ChannelID),
		MessageID: strings.TrimSpace(o.MessageID),
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = atoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = atoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// atoiDefault parses s as an int, falling back to def when s is empty or
// not a valid integer.
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
