// Package intake normalizes raw chat input — structured slash-command
// parameters or free-text messages with optional attachments — into
// immutable domain.Request values. Each intake path carries its own
// parameter defaults, resolved exactly once here; downstream code never
// re-interprets user input.
package intake

import (
	"errors"
	"strings"

	"github.com/pixelrelay/go-imagebot-backend/internal/config"
	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// Structured-command defaults.
const (
	DefaultWidth     = 1024
	DefaultHeight    = 1024
	DefaultGenSteps  = 20
	DefaultEditSteps = 8
	DefaultCFGScale  = 4.0

	drawPrefix   = "draw "
	maxPromptLen = 2000
)

var (
	// ErrNotARequest indicates a free-text message that is neither a
	// "draw ..." request nor an edit (attachment with instructions). The
	// gateway should ignore such messages.
	ErrNotARequest = errors.New("intake: message is not an image request")

	// ErrChannelNotAllowed indicates the origin is outside the configured
	// guild/channel allow-lists.
	ErrChannelNotAllowed = errors.New("intake: channel not allowed")

	// ErrEmptyPrompt is returned when a request carries no prompt text.
	ErrEmptyPrompt = errors.New("intake: prompt is empty")

	// ErrPromptTooLong bounds prompt length before submission.
	ErrPromptTooLong = errors.New("intake: prompt too long")
)

// CommandInput is one structured command invocation: explicit typed
// parameters with zero values meaning "use the default".
type CommandInput struct {
	Kind   domain.JobKind
	Owner  string
	Origin domain.Origin

	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           *int64

	Image         []byte
	ImageFilename string
	SourceJobID   string
}

// MessageInput is one free-text chat message, optionally carrying an image
// attachment and/or a reply reference to a prior job.
type MessageInput struct {
	Owner  string
	Origin domain.Origin

	Content       string
	Image         []byte
	ImageFilename string
	ReplyToJobID  string
}

// Normalizer builds domain.Requests under the configured allow-lists and
// natural-language defaults.
type Normalizer struct {
	cfg config.IntakeConfig
}

// New constructs a Normalizer.
func New(cfg config.IntakeConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// NormalizeCommand turns a structured command into a Request, applying the
// command defaults (generate: 1024x1024, 20 steps, cfg 4.0; edit: 8 steps,
// cfg 4.0).
func (n *Normalizer) NormalizeCommand(in CommandInput) (domain.Request, error) {
	if err := n.checkOrigin(in.Origin); err != nil {
		return domain.Request{}, err
	}
	prompt, err := cleanPrompt(in.Prompt)
	if err != nil {
		return domain.Request{}, err
	}

	req := domain.Request{
		Kind:           in.Kind,
		Source:         domain.SourceCommand,
		Owner:          in.Owner,
		Origin:         in.Origin,
		Prompt:         prompt,
		NegativePrompt: strings.TrimSpace(in.NegativePrompt),
		Width:          in.Width,
		Height:         in.Height,
		Steps:          in.Steps,
		CFGScale:       in.CFGScale,
		Seed:           in.Seed,
		Image:          in.Image,
		ImageFilename:  in.ImageFilename,
		SourceJobID:    in.SourceJobID,
	}

	switch in.Kind {
	case domain.KindGenerate:
		if req.Width == 0 {
			req.Width = DefaultWidth
		}
		if req.Height == 0 {
			req.Height = DefaultHeight
		}
		if req.Steps == 0 {
			req.Steps = DefaultGenSteps
		}
	case domain.KindEdit:
		if req.Steps == 0 {
			req.Steps = DefaultEditSteps
		}
	default:
		return domain.Request{}, errors.New("intake: unknown request kind")
	}
	if req.CFGScale == 0 {
		req.CFGScale = DefaultCFGScale
	}
	return req, nil
}

// NormalizeMessage interprets a free-text message. A message with an image
// attachment and non-empty text is an edit of that image; a message starting
// with "draw " is a generation request. Anything else is ErrNotARequest.
// The natural-language step defaults apply, distinct from command defaults.
func (n *Normalizer) NormalizeMessage(in MessageInput) (domain.Request, error) {
	content := strings.TrimSpace(in.Content)

	switch {
	case len(in.Image) > 0 && content != "":
		if err := n.checkOrigin(in.Origin); err != nil {
			return domain.Request{}, err
		}
		prompt, err := cleanPrompt(content)
		if err != nil {
			return domain.Request{}, err
		}
		return domain.Request{
			Kind:          domain.KindEdit,
			Source:        domain.SourceMessage,
			Owner:         in.Owner,
			Origin:        in.Origin,
			Prompt:        prompt,
			Steps:         n.cfg.NLEditSteps,
			CFGScale:      DefaultCFGScale,
			Image:         in.Image,
			ImageFilename: in.ImageFilename,
		}, nil

	case in.ReplyToJobID != "" && content != "":
		// Replying to a prior result with new instructions re-edits it.
		if err := n.checkOrigin(in.Origin); err != nil {
			return domain.Request{}, err
		}
		// Strip an optional "draw " lead-in but keep the prompt's casing.
		raw := content
		if strings.HasPrefix(strings.ToLower(raw), drawPrefix) {
			raw = raw[len(drawPrefix):]
		}
		prompt, err := cleanPrompt(raw)
		if err != nil {
			return domain.Request{}, err
		}
		return domain.Request{
			Kind:        domain.KindEdit,
			Source:      domain.SourceMessage,
			Owner:       in.Owner,
			Origin:      in.Origin,
			Prompt:      prompt,
			Steps:       n.cfg.NLEditSteps,
			CFGScale:    DefaultCFGScale,
			SourceJobID: in.ReplyToJobID,
		}, nil

	case strings.HasPrefix(strings.ToLower(content), drawPrefix):
		if err := n.checkOrigin(in.Origin); err != nil {
			return domain.Request{}, err
		}
		prompt, err := cleanPrompt(content[len(drawPrefix):])
		if err != nil {
			return domain.Request{}, err
		}
		return domain.Request{
			Kind:     domain.KindGenerate,
			Source:   domain.SourceMessage,
			Owner:    in.Owner,
			Origin:   in.Origin,
			Prompt:   prompt,
			Width:    DefaultWidth,
			Height:   DefaultHeight,
			Steps:    n.cfg.NLGenerateSteps,
			CFGScale: DefaultCFGScale,
		}, nil
	}

	return domain.Request{}, ErrNotARequest
}

// checkOrigin enforces the guild/channel allow-lists; empty lists mean
// unrestricted.
func (n *Normalizer) checkOrigin(o domain.Origin) error {
	if len(n.cfg.AllowedGuilds) > 0 && !contains(n.cfg.AllowedGuilds, o.GuildID) {
		return ErrChannelNotAllowed
	}
	if len(n.cfg.AllowedChannels) > 0 && !contains(n.cfg.AllowedChannels, o.ChannelID) {
		return ErrChannelNotAllowed
	}
	return nil
}

func cleanPrompt(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyPrompt
	}
	if len(s) > maxPromptLen {
		return "", ErrPromptTooLong
	}
	return s, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
