// Package backend implements the HTTP client for the external
// image-generation service. The service exposes submit/poll semantics:
// POST /generate and POST /edit return a job id, GET /status/{id} reports
// progress until the job completes, and GET /queue and GET /system/info
// describe the service itself. The client holds no state beyond its
// connection configuration and never retries on its own.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable indicates the backend could not be reached or replied
	// 503 (pipeline not loaded). Callers decide whether to retry.
	ErrUnavailable = errors.New("backend: unavailable")

	// ErrJobUnknown is returned by PollStatus when the backend does not know
	// the job id (e.g. the backend restarted).
	ErrJobUnknown = errors.New("backend: job not found")
)

// Error is a rejection reported by the backend itself (e.g. invalid
// dimensions). Detail carries the backend's reason verbatim.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: rejected (%d): %s", e.StatusCode, e.Detail)
}

// Job status values reported by the backend status endpoint.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status is the normalized result of a status poll.
type Status struct {
	State     string  // queued | running | completed | failed
	Progress  float64 // 0..1, best effort
	OutputURL string  // set when State == completed
	Error     string  // set when State == failed
}

// Running reports whether the backend has started working on the job.
func (s Status) Running() bool { return s.State == StatusRunning }

// Done reports whether the backend considers the job finished, successfully
// or not.
func (s Status) Done() bool { return s.State == StatusCompleted || s.State == StatusFailed }

// QueueInfo summarizes the backend's queue.
type QueueInfo struct {
	QueueSize      int    `json:"queue_size"`
	TotalJobs      int    `json:"total_jobs"`
	CompletedJobs  int    `json:"completed_jobs"`
	FailedJobs     int    `json:"failed_jobs"`
	GenerationJobs int    `json:"generation_jobs"`
	EditJobs       int    `json:"edit_jobs"`
	CurrentJob     string `json:"current_job,omitempty"`
}

// SystemInfo summarizes the backend's capabilities.
type SystemInfo struct {
	Device             string `json:"device"`
	CUDAAvailable      bool   `json:"cuda_available"`
	Quantization       bool   `json:"quantization"`
	GPUName            string `json:"gpu_name,omitempty"`
	GPUMemoryAllocated string `json:"gpu_memory_allocated,omitempty"`
	GPUMemoryTotal     string `json:"gpu_memory_total,omitempty"`
	GenerationPipeline string `json:"generation_pipeline"`
	EditPipeline       string `json:"edit_pipeline"`
}

// GenerateParams are the inputs for a text-to-image submission.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           *int64
}

// EditParams are the inputs for an image-edit submission.
type EditParams struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	CFGScale       float64
	Seed           *int64
}

// Options configures a Client.
type Options struct {
	// BaseURL is the backend address without a trailing slash.
	BaseURL string
	// HTTPClient overrides the transport; a timeout-bound default is used
	// when nil.
	HTTPClient *http.Client
	// RequestTimeout bounds each call when HTTPClient is nil.
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// Client performs HTTP calls against the image-generation service.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// New constructs a Client from Options.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: hc,
		log:        opts.Logger.With().Str("component", "backend").Logger(),
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status         string   `json:"status"`
	Progress       *float64 `json:"progress"`
	OutputImageURL string   `json:"output_image_url"`
	Error          string   `json:"error"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// SubmitGenerate submits a generation job and returns the backend job id.
func (c *Client) SubmitGenerate(ctx context.Context, p GenerateParams) (string, error) {
	payload := map[string]any{
		"prompt":              p.Prompt,
		"negative_prompt":     p.NegativePrompt,
		"width":               p.Width,
		"height":              p.Height,
		"num_inference_steps": p.Steps,
		"cfg_scale":           p.CFGScale,
		"seed":                p.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("backend: encode generate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out submitResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("backend: submit response missing job_id")
	}
	return out.JobID, nil
}

// SubmitEdit submits an edit job with the source image as multipart form
// data and returns the backend job id.
func (c *Client) SubmitEdit(ctx context.Context, image []byte, filename string, p EditParams) (string, error) {
	if filename == "" {
		filename = "input.png"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("images", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(image); err != nil {
		return "", err
	}
	fields := map[string]string{
		"prompt":              p.Prompt,
		"negative_prompt":     p.NegativePrompt,
		"num_inference_steps": strconv.Itoa(p.Steps),
		"cfg_scale":           strconv.FormatFloat(p.CFGScale, 'f', -1, 64),
	}
	if p.Seed != nil {
		fields["seed"] = strconv.FormatInt(*p.Seed, 10)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/edit", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out submitResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("backend: submit response missing job_id")
	}
	return out.JobID, nil
}

// PollStatus fetches the current state of a job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Status{}, err
	}

	var out statusResponse
	if err := c.do(req, &out); err != nil {
		return Status{}, err
	}

	st := Status{OutputURL: out.OutputImageURL, Error: out.Error}
	if out.Progress != nil {
		st.Progress = *out.Progress
	}
	switch out.Status {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		st.State = out.Status
	case "pending":
		st.State = StatusQueued
	case "processing":
		st.State = StatusRunning
	default:
		return Status{}, fmt.Errorf("backend: unknown job status %q", out.Status)
	}
	return st, nil
}

// FetchResult downloads a finished job's output image. outputURL is the
// backend-relative path reported by PollStatus.
func (c *Client) FetchResult(ctx context.Context, outputURL string) ([]byte, error) {
	target := outputURL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + outputURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: "failed to download result image"}
	}
	return io.ReadAll(resp.Body)
}

// QueueInfo fetches the backend's queue summary.
func (c *Client) QueueInfo(ctx context.Context) (QueueInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return QueueInfo{}, err
	}
	var out QueueInfo
	if err := c.do(req, &out); err != nil {
		return QueueInfo{}, err
	}
	return out, nil
}

// SystemInfo fetches the backend's capability summary.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system/info", nil)
	if err != nil {
		return SystemInfo{}, err
	}
	var out SystemInfo
	if err := c.do(req, &out); err != nil {
		return SystemInfo{}, err
	}
	return out, nil
}

// do executes the request and decodes a JSON body into out, mapping
// transport failures and status codes onto the package error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", req.URL.String()).Msg("backend request failed")
		return ErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusServiceUnavailable:
		return ErrUnavailable

	case resp.StatusCode == http.StatusNotFound:
		return ErrJobUnknown

	default:
		detail := readDetail(resp.Body)
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Detail: detail}
	}
}

// readDetail extracts the backend's {"detail": "..."} error body, tolerating
// non-JSON responses.
func readDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Detail != "" {
		return er.Detail
	}
	return strings.TrimSpace(string(body))
}
