package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
)

const maxErrorDetail = 512

// Config selects a downstream render service per job type and bounds the
// whole render call. RequestTimeout must stay well below the job-level
// timeout the reaper enforces, so a hung backend never itself needs reaping.
type Config struct {
	BaseURLs       map[domain.JobType]string
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// Client is the render backend adapter: a thin HTTP client that invokes the
// correct downstream service for a job and normalizes its response. It
// never writes to the job store; outcomes flow back to the dispatcher.
type Client struct {
	logger *slog.Logger
	httpc  *http.Client
	cfg    Config
}

var _ ports.RenderBackend = (*Client)(nil)

func NewClient(logger *slog.Logger, cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Client{
		logger: logger,
		httpc:  &http.Client{},
		cfg:    cfg,
	}
}

type renderRequest struct {
	JobID         string `json:"job_id"`
	JobType       string `json:"job_type"`
	Input         string `json:"input"`
	Style         string `json:"style"`
	LengthSeconds int    `json:"length_seconds"`
	Voice         string `json:"voice"`
}

// renderResponse covers both the synchronous shape (video_url/output_url set)
// and the async shape (job_id + status, result fetched by polling).
type renderResponse struct {
	VideoURL         string  `json:"video_url"`
	OutputURL        string  `json:"output_url"`
	ThumbnailURL     string  `json:"thumbnail_url"`
	Duration         float64 `json:"duration"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	JobID            string  `json:"job_id"`
	Status           string  `json:"status"`
	Error            string  `json:"error"`
}

// Render posts the job to its backend and waits for a terminal result,
// polling GET /status/{id} when the backend answers asynchronously. The
// whole operation is bounded by RequestTimeout.
func (c *Client) Render(ctx context.Context, job domain.Job) (domain.RenderResult, error) {
	baseURL, ok := c.cfg.BaseURLs[job.Type]
	if !ok {
		return domain.RenderResult{}, &domain.RenderError{
			Category:  domain.ErrorCategoryInvalidInput,
			Message:   fmt.Sprintf("no render backend configured for job type %q", job.Type),
			Retryable: false,
		}
	}

	params := domain.ExtractRenderParams(job)
	body, err := json.Marshal(renderRequest{
		JobID:         string(job.ID),
		JobType:       string(job.Type),
		Input:         params.Input,
		Style:         params.Style,
		LengthSeconds: params.LengthSeconds,
		Voice:         params.Voice,
	})
	if err != nil {
		return domain.RenderResult{}, &domain.RenderError{
			Category:  domain.ErrorCategoryInvalidInput,
			Message:   fmt.Sprintf("encode render request: %v", err),
			Retryable: false,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return domain.RenderResult{}, &domain.RenderError{
			Category:  domain.ErrorCategoryInvalidInput,
			Message:   err.Error(),
			Retryable: false,
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.RenderResult{}, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return domain.RenderResult{}, statusError(resp)
	}

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return domain.RenderResult{}, &domain.RenderError{
			Category:  domain.ErrorCategoryUnknown,
			Message:   fmt.Sprintf("decode render response: %v", err),
			Retryable: true,
		}
	}

	if result, done := rr.result(); done {
		return result, nil
	}

	// Async mode: backend accepted the job, poll for the terminal state.
	c.logger.Info("render backend accepted job, polling",
		"job_id", job.ID, "backend_status", rr.Status)
	return c.poll(ctx, baseURL, string(job.ID))
}

func (c *Client) poll(ctx context.Context, baseURL, jobID string) (domain.RenderResult, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.RenderResult{}, &domain.RenderError{
				Category:  domain.ErrorCategoryTimeout,
				Message:   "render did not finish within the adapter deadline",
				Retryable: true,
			}
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status/"+jobID, nil)
			if err != nil {
				return domain.RenderResult{}, &domain.RenderError{
					Category:  domain.ErrorCategoryUnknown,
					Message:   err.Error(),
					Retryable: true,
				}
			}

			resp, err := c.httpc.Do(req)
			if err != nil {
				return domain.RenderResult{}, transportError(err)
			}

			if resp.StatusCode != http.StatusOK {
				err := statusError(resp)
				resp.Body.Close()
				return domain.RenderResult{}, err
			}

			var rr renderResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&rr)
			resp.Body.Close()
			if decodeErr != nil {
				return domain.RenderResult{}, &domain.RenderError{
					Category:  domain.ErrorCategoryUnknown,
					Message:   fmt.Sprintf("decode status response: %v", decodeErr),
					Retryable: true,
				}
			}

			if result, done := rr.result(); done {
				return result, nil
			}
			if rr.Status == "failed" {
				msg := rr.Error
				if msg == "" {
					msg = "render backend reported failure"
				}
				return domain.RenderResult{}, &domain.RenderError{
					Category:  domain.ErrorCategoryAPIError,
					Message:   truncate(msg),
					Retryable: true,
				}
			}
			// still queued or processing, keep polling
		}
	}
}

// result normalizes the response into a RenderResult when it carries one.
func (r renderResponse) result() (domain.RenderResult, bool) {
	url := r.VideoURL
	if url == "" {
		url = r.OutputURL
	}
	if url == "" {
		return domain.RenderResult{}, false
	}
	return domain.RenderResult{
		VideoURL:         url,
		ThumbnailURL:     r.ThumbnailURL,
		DurationSeconds:  r.Duration,
		ProcessingTimeMS: r.ProcessingTimeMS,
	}, true
}

// transportError categorizes connection-level failures. Timeouts, refused
// connections and cancelled contexts are all worth retrying.
func transportError(err error) *domain.RenderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.RenderError{
			Category:  domain.ErrorCategoryTimeout,
			Message:   "render request exceeded adapter deadline",
			Retryable: true,
		}
	}
	return &domain.RenderError{
		Category:  domain.ErrorCategoryTimeout,
		Message:   truncate(err.Error()),
		Retryable: true,
	}
}

// statusError maps a non-2xx response to the error taxonomy: 5xx retryable,
// 400/422/404 terminal, anything else fails open toward retrying.
func statusError(resp *http.Response) *domain.RenderError {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
	msg := fmt.Sprintf("render backend returned %d: %s", resp.StatusCode, detail)

	switch {
	case resp.StatusCode >= 500:
		return &domain.RenderError{Category: domain.ErrorCategoryAPIError, Message: msg, Retryable: true}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &domain.RenderError{Category: domain.ErrorCategoryInvalidInput, Message: msg, Retryable: false}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.RenderError{Category: domain.ErrorCategoryNotFound, Message: msg, Retryable: false}
	default:
		return &domain.RenderError{Category: domain.ErrorCategoryUnknown, Message: msg, Retryable: true}
	}
}

func truncate(s string) string {
	if len(s) > maxErrorDetail {
		return s[:maxErrorDetail] + "... (truncated)"
	}
	return s
}
