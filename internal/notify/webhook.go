package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelrelay/go-imagebot-backend/internal/domain"
)

// HeaderGatewayToken authenticates webhook deliveries to the gateway.
const HeaderGatewayToken = "X-Gateway-Token"

// WebhookGateway delivers terminal messages by POSTing them to the chat
// gateway's webhook. Text-only messages go as JSON; messages carrying a
// result image go as multipart/form-data with the image as a file part.
type WebhookGateway struct {
	url    string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// WebhookOptions configures a WebhookGateway.
type WebhookOptions struct {
	URL     string
	Token   string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewWebhookGateway constructs a gateway posting to opts.URL.
func NewWebhookGateway(opts WebhookOptions) *WebhookGateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookGateway{
		url:    opts.URL,
		token:  opts.Token,
		client: &http.Client{Timeout: timeout},
		log:    opts.Logger.With().Str("component", "webhook_gateway").Logger(),
	}
}

// webhookPayload is the JSON body (or the "payload" multipart field) the
// gateway receives.
type webhookPayload struct {
	GuildID          string `json:"guild_id,omitempty"`
	ChannelID        string `json:"channel_id"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	MentionUser      string `json:"mention_user,omitempty"`
	Text             string `json:"text"`
}

// Send implements ChatGateway.
func (g *WebhookGateway) Send(ctx context.Context, origin domain.Origin, msg Message) error {
	payload := webhookPayload{
		GuildID:          origin.GuildID,
		ChannelID:        origin.ChannelID,
		ReplyToMessageID: msg.ReplyToMessageID,
		MentionUser:      msg.MentionUser,
		Text:             msg.Text,
	}

	var (
		body        bytes.Buffer
		contentType string
	)
	if len(msg.Image) > 0 {
		w := multipart.NewWriter(&body)
		meta, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("notify: encode payload: %w", err)
		}
		if err := w.WriteField("payload", string(meta)); err != nil {
			return fmt.Errorf("notify: write payload field: %w", err)
		}
		filename := msg.ImageFilename
		if filename == "" {
			filename = "image.png"
		}
		part, err := w.CreateFormFile("image", filename)
		if err != nil {
			return fmt.Errorf("notify: create image part: %w", err)
		}
		if _, err := part.Write(msg.Image); err != nil {
			return fmt.Errorf("notify: write image part: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("notify: finalize form: %w", err)
		}
		contentType = w.FormDataContentType()
	} else {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("notify: encode payload: %w", err)
		}
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, &body)
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if g.token != "" {
		req.Header.Set(HeaderGatewayToken, g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook delivery: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogGateway is a ChatGateway that only logs deliveries. It stands in when
// no webhook is configured.
type LogGateway struct {
	Logger zerolog.Logger
}

// Send implements ChatGateway.
func (g LogGateway) Send(_ context.Context, origin domain.Origin, msg Message) error {
	g.Logger.Info().
		Str("channel_id", origin.ChannelID).
		Str("user", msg.MentionUser).
		Str("text", msg.Text).
		Int("image_bytes", len(msg.Image)).
		Msg("notification (no gateway configured)")
	return nil
}
