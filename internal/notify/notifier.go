// Package notify formats and delivers the single terminal message each job
// produces. Delivery goes through the ChatGateway boundary: the chat
// platform itself (connection handling, message rendering) is an external
// collaborator. Idempotence is not enforced here — the registry guarantees
// a job's first terminal transition happens exactly once, and the
// orchestrator only notifies on that first transition.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
	"github.com/pixelrelay/go-imagebot-backend/internal/i18n"
)

// Message is a terminal notification ready for the chat platform.
type Message struct {
	// MentionUser is the requester to ping in the delivered message.
	MentionUser string
	Text        string
	// Image carries the result bytes on success; empty otherwise.
	Image         []byte
	ImageFilename string
	// ReplyToMessageID threads the notification under the original request
	// when the platform supports it.
	ReplyToMessageID string
}

// ChatGateway delivers messages to a chat-platform location. Implementations
// live outside this service (the gateway process owns the platform session);
// a webhook-backed implementation ships in cmd for single-binary setups.
type ChatGateway interface {
	Send(ctx context.Context, origin domain.Origin, msg Message) error
}

// LanguageSource resolves the reply language for a user.
type LanguageSource interface {
	Get(userID string) string
}

// Notifier formats localized terminal messages and hands them to the
// gateway. Delivery failures are logged, never retried, and never affect
// job state.
type Notifier struct {
	gateway ChatGateway
	langs   LanguageSource
	log     zerolog.Logger
}

// New constructs a Notifier.
func New(gateway ChatGateway, langs LanguageSource, log zerolog.Logger) *Notifier {
	return &Notifier{
		gateway: gateway,
		langs:   langs,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// NotifyTerminal delivers the message for a job that just reached a terminal
// state. It must be called exactly once per job, on the first terminal
// transition.
func (n *Notifier) NotifyTerminal(ctx context.Context, job domain.Job) {
	lang := n.langs.Get(job.Owner)

	msg := Message{
		MentionUser:      job.Owner,
		ReplyToMessageID: job.Origin.MessageID,
	}

	switch job.State {
	case domain.StateSucceeded:
		if job.Kind == domain.KindEdit {
			msg.Text = i18n.T(lang, "heres_your_edited_image")
			msg.ImageFilename = "edited.png"
		} else {
			msg.Text = i18n.T(lang, "heres_your_image")
			msg.ImageFilename = "generated.png"
		}
		msg.Image = job.Result
	case domain.StateFailed:
		msg.Text = i18n.T(lang, "something_went_wrong", job.Error)
	case domain.StateTimedOut:
		msg.Text = i18n.T(lang, "job_timed_out")
	case domain.StateCancelled:
		msg.Text = i18n.T(lang, "job_cancelled")
	default:
		n.log.Error().Str("job_id", job.ID).Str("state", string(job.State)).
			Msg("notify called for non-terminal job")
		return
	}

	if err := n.gateway.Send(ctx, job.Origin, msg); err != nil {
		n.log.Warn().Err(err).
			Str("job_id", job.ID).
			Str("channel_id", job.Origin.ChannelID).
			Msg("terminal notification delivery failed")
		return
	}
	n.log.Info().
		Str("job_id", job.ID).
		Str("state", string(job.State)).
		Str("owner", job.Owner).
		Msg("terminal notification delivered")
}

// FormatAck returns the localized acknowledgement sent synchronously when a
// request is accepted.
func (n *Notifier) FormatAck(owner string, kind domain.JobKind, jobID string) string {
	lang := n.langs.Get(owner)
	if kind == domain.KindEdit {
		return i18n.T(lang, "editing_image", jobID)
	}
	return i18n.T(lang, "generating_image", jobID)
}

// String implements fmt.Stringer for request logging.
func (m Message) String() string {
	return fmt.Sprintf("notify{user=%s, text=%q, image=%dB}", m.MentionUser, m.Text, len(m.Image))
}
