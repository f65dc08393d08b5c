// Request intake HTTP handlers.
//
// This file exposes the two endpoints gateways use to turn chat input into
// tracked jobs:
//   - POST /requests   (structured slash-command parameters)
//   - POST /messages   (free-text messages with optional attachments)
//
// Both accept application/json, and multipart/form-data when an image is
// uploaded alongside the fields. Both are idempotent per chat event: when
// the gateway supplies an event_id that already produced a job, the original
// job is returned instead of enqueuing a duplicate.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pixelrelay/go-imagebot-backend/internal/backend"
	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/http/middleware"
	"github.com/pixelrelay/go-imagebot-backend/internal/intake"
	"github.com/pixelrelay/go-imagebot-backend/internal/orchestrator"
)

//
// DTOs
//

// CommandRequest is the payload for a structured image request.
type CommandRequest struct {
	// Kind is "generate" or "edit".
	Kind           string        `json:"kind" binding:"required"`
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Steps          int           `json:"steps"`
	CFGScale       float64       `json:"cfg_scale"`
	Seed           *int64        `json:"seed"`
	SourceJobID    string        `json:"source_job_id"`
	Origin         OriginPayload `json:"origin"`
	// EventID is the chat-platform id of the triggering interaction, used
	// for redelivery dedup. Optional.
	EventID string `json:"event_id"`
}

// MessageRequest is the payload for a relayed free-text chat message.
type MessageRequest struct {
	Content      string        `json:"content"`
	ReplyToJobID string        `json:"reply_to_job_id"`
	Origin       OriginPayload `json:"origin"`
	EventID      string        `json:"event_id"`
}

// JobAccepted is returned when a request was normalized and submitted.
type JobAccepted struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
	Kind  string `json:"kind"`
	// Ack is the localized acknowledgement the gateway should show.
	Ack string `json:"ack,omitempty"`
	// Replayed is true when event dedup matched a previous delivery and no
	// new job was created.
	Replayed bool `json:"replayed,omitempty"`
}

//
// Handlers
//

// SubmitRequest accepts a structured image request and enqueues a job.
//
// POST /requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	owner := userID(c)

	var (
		req      CommandRequest
		image    []byte
		filename string
	)
	if isMultipart(c) {
		var err error
		image, filename, err = bindCommandForm(c, &req)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	kind := domain.JobKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind != domain.KindGenerate && kind != domain.KindEdit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `kind must be "generate" or "edit"`)
		return
	}

	eventID := resolveEventID(c, req.EventID)
	if h.replayed(c, eventID) {
		return
	}

	norm, err := h.normalizer.NormalizeCommand(intake.CommandInput{
		Kind:           kind,
		Owner:          owner,
		Origin:         req.Origin.toDomain(),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFGScale:       req.CFGScale,
		Seed:           req.Seed,
		Image:          image,
		ImageFilename:  filename,
		SourceJobID:    strings.TrimSpace(req.SourceJobID),
	})
	if err != nil {
		failIntake(c, err)
		return
	}

	h.submit(c, norm, eventID)
}

// RelayMessage accepts a free-text chat message. Messages that are not image
// requests ("draw ..." or an attachment with instructions) are ignored with
// 204 so gateways can forward everything they see.
//
// POST /messages
func (h *Handlers) RelayMessage(c *gin.Context) {
	owner := userID(c)

	var (
		req      MessageRequest
		image    []byte
		filename string
	)
	if isMultipart(c) {
		var err error
		image, filename, err = bindMessageForm(c, &req)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	eventID := resolveEventID(c, req.EventID)
	if h.replayed(c, eventID) {
		return
	}

	norm, err := h.normalizer.NormalizeMessage(intake.MessageInput{
		Owner:         owner,
		Origin:        req.Origin.toDomain(),
		Content:       req.Content,
		Image:         image,
		ImageFilename: filename,
		ReplyToJobID:  strings.TrimSpace(req.ReplyToJobID),
	})
	if errors.Is(err, intake.ErrNotARequest) {
		noContent(c)
		return
	}
	if err != nil {
		failIntake(c, err)
		return
	}

	h.submit(c, norm, eventID)
}

// submit hands a normalized request to the orchestrator and writes the
// accepted (or failed) response.
func (h *Handlers) submit(c *gin.Context, req domain.Request, eventID string) {
	ctx := c.Request.Context()
	job, err := h.jobs.Submit(ctx, req)
	if err != nil {
		failSubmit(c, err)
		return
	}

	if eventID != "" && h.events != nil {
		if err := h.events.Record(ctx, eventID, job.Owner, job.ID); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).
				Str("event_id", eventID).Str("job_id", job.ID).
				Msg("event dedup record failed")
		}
	}

	resp := JobAccepted{
		JobID: job.ID,
		State: string(job.State),
		Kind:  string(job.Kind),
	}
	if h.ack != nil {
		resp.Ack = h.ack.FormatAck(job.Owner, job.Kind, job.ID)
	}
	ok(c, http.StatusAccepted, resp)
}

// resolveEventID prefers the event id in the body, falling back to the
// validated X-Event-ID header stashed by the middleware.
func resolveEventID(c *gin.Context, bodyID string) string {
	if id := strings.TrimSpace(bodyID); id != "" {
		return id
	}
	id, _ := middleware.GetEventID(c)
	return id
}

// replayed answers redelivered events with the originally created job and
// reports whether the request was handled.
func (h *Handlers) replayed(c *gin.Context, eventID string) bool {
	if eventID == "" || h.events == nil {
		return false
	}
	jobID, seen, err := h.events.Seen(c.Request.Context(), eventID)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).
			Str("event_id", eventID).
			Msg("event dedup lookup failed")
		return false
	}
	if !seen {
		return false
	}
	resp := JobAccepted{JobID: jobID, Replayed: true}
	if job, err := h.dir.Get(jobID); err == nil {
		resp.State = string(job.State)
		resp.Kind = string(job.Kind)
	}
	ok(c, http.StatusOK, resp)
	return true
}

//
// Error mapping
//

// failIntake maps normalization errors to HTTP responses.
func failIntake(c *gin.Context, err error) {
	switch {
	case errors.Is(err, intake.ErrChannelNotAllowed):
		fail(c, http.StatusForbidden, ErrCodeChannelNotAllowed, "requests are not allowed from this channel")
	case errors.Is(err, intake.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "prompt is empty")
	case errors.Is(err, intake.ErrPromptTooLong):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "prompt is too long")
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	}
}

// failSubmit maps orchestrator submission errors to HTTP responses.
func failSubmit(c *gin.Context, err error) {
	var be *backend.Error
	switch {
	case orchestrator.IsValidation(err):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, orchestrator.ErrBackendUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, "image backend is not reachable")
	case errors.Is(err, orchestrator.ErrSourceNotFound):
		fail(c, http.StatusNotFound, ErrCodeSourceNotFound, "source job result is no longer available")
	case errors.Is(err, orchestrator.ErrTooManyJobs):
		fail(c, http.StatusTooManyRequests, ErrCodeTooManyJobs, "too many jobs in flight, try again later")
	case errors.As(err, &be):
		fail(c, http.StatusBadGateway, ErrCodeBackendUnavailable, be.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Multipart binding
//

// maxImageBytes bounds a single uploaded image read; the request body as a
// whole is already capped by the router's body limiter.
const maxImageBytes = 32 << 20

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// bindCommandForm populates req from multipart form fields and returns the
// optional "image" file.
func bindCommandForm(c *gin.Context, req *CommandRequest) ([]byte, string, error) {
	req.Kind = c.PostForm("kind")
	req.Prompt = c.PostForm("prompt")
	req.NegativePrompt = c.PostForm("negative_prompt")
	req.SourceJobID = c.PostForm("source_job_id")
	req.EventID = c.PostForm("event_id")
	req.Origin = originFromForm(c)

	var err error
	if req.Width, err = formInt(c, "width"); err != nil {
		return nil, "", err
	}
	if req.Height, err = formInt(c, "height"); err != nil {
		return nil, "", err
	}
	if req.Steps, err = formInt(c, "steps"); err != nil {
		return nil, "", err
	}
	if v := c.PostForm("cfg_scale"); v != "" {
		if req.CFGScale, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, "", errors.New("cfg_scale must be a number")
		}
	}
	if v := c.PostForm("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, "", errors.New("seed must be an integer")
		}
		req.Seed = &seed
	}

	return readFormFile(c, "image")
}

// bindMessageForm populates req from multipart form fields and returns the
// optional "attachment" file.
func bindMessageForm(c *gin.Context, req *MessageRequest) ([]byte, string, error) {
	req.Content = c.PostForm("content")
	req.ReplyToJobID = c.PostForm("reply_to_job_id")
	req.EventID = c.PostForm("event_id")
	req.Origin = originFromForm(c)
	return readFormFile(c, "attachment")
}

func originFromForm(c *gin.Context) OriginPayload {
	// JSON origin object is also accepted as a form field for gateways that
	// serialize it wholesale.
	if v := c.PostForm("origin"); v != "" {
		var o OriginPayload
		if err := json.Unmarshal([]byte(v), &o); err == nil {
			return o
		}
	}
	return OriginPayload{
		GuildID:   c.PostForm("guild_id"),
		ChannelID: c.PostForm("channel_id"),
		MessageID: c.PostForm("message_id"),
	}
}

func formInt(c *gin.Context, field string) (int, error) {
	v := c.PostForm(field)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(field + " must be an integer")
	}
	return n, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, "", nil
		}
		return nil, "", errors.New("invalid multipart form")
	}
	return readMultipartFile(fh)
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, string, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", errors.New("unreadable upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, "", errors.New("unreadable upload")
	}
	if len(data) > maxImageBytes {
		return nil, "", errors.New("uploaded image is too large")
	}
	return data, fh.Filename, nil
}
