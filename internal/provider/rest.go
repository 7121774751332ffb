// Package provider implements poller.Transport for the external image services
// the studio submits jobs to.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/poller"
)

// RESTClient talks to a prediction-style asynchronous HTTP API:
// POST {submit_path} creates a job, GET {status_path} reads it.
type RESTClient struct {
	name       string
	client     *resty.Client
	apiKey     string
	version    string
	model      string
	submitPath string
	statusPath string
}

// predictionRequest is the job creation body.
type predictionRequest struct {
	Version string                 `json:"version,omitempty"`
	Model   string                 `json:"model,omitempty"`
	Input   map[string]interface{} `json:"input"`
}

// predictionResponse is returned by both the create and the status endpoints.
type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type apiErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Title   string `json:"title"`
}

func (b *apiErrorBody) text() string {
	for _, s := range []string{b.Detail, b.Message, b.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}

// NewRESTClient creates a REST transport from cfg.
func NewRESTClient(cfg config.ProviderConfig) *RESTClient {
	cfg.ApplyDefaults()

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", cfg.AuthScheme+" "+cfg.APIKey)
	}
	// Set timeout to prevent hanging requests
	client.SetTimeout(cfg.Timeout)

	return &RESTClient{
		name:       cfg.Name,
		client:     client,
		apiKey:     cfg.APIKey,
		version:    cfg.Version,
		model:      cfg.Model,
		submitPath: cfg.SubmitPath,
		statusPath: cfg.StatusPath,
	}
}

// Name returns the configured provider name.
func (c *RESTClient) Name() string {
	return c.name
}

// Submit creates a prediction. The prompt and source image are merged into the
// model input under "prompt" and "input_image" unless the caller set them.
func (c *RESTClient) Submit(ctx context.Context, req domain.JobRequest) (domain.Job, error) {
	if c.apiKey == "" {
		return domain.Job{}, fmt.Errorf("%w: no API key configured for %s", poller.ErrRejected, c.name)
	}

	input := make(map[string]interface{}, len(req.Input)+2)
	for k, v := range req.Input {
		input[k] = v
	}
	if _, ok := input["prompt"]; !ok && req.Prompt != "" {
		input["prompt"] = req.Prompt
	}
	if _, ok := input["input_image"]; !ok && req.SourceURL != "" {
		input["input_image"] = req.SourceURL
	}

	body := predictionRequest{Input: input}
	if c.version != "" {
		body.Version = c.version
	} else {
		body.Model = c.model
	}

	var out predictionResponse
	var apiErr apiErrorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.submitPath)
	if err != nil {
		return domain.Job{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return domain.Job{}, classify(resp.StatusCode(), apiErr.text(), true)
	}
	return out.job(), nil
}

// Status reads the prediction with id.
func (c *RESTClient) Status(ctx context.Context, id string) (domain.Job, error) {
	path := strings.ReplaceAll(c.statusPath, "{id}", url.PathEscape(id))

	var out predictionResponse
	var apiErr apiErrorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return domain.Job{}, classify(resp.StatusCode(), apiErr.text(), false)
	}
	job := out.job()
	if job.ID == "" {
		job.ID = id
	}
	return job, nil
}

// classify turns an HTTP error status into an error. Client errors other than
// timeouts and rate limits are definitive; at submit time every 4xx is.
func classify(status int, detail string, submit bool) error {
	msg := fmt.Sprintf("API error (status %d)", status)
	if detail != "" {
		msg += ": " + detail
	}
	if status >= 400 && status < 500 {
		transient := status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
		if submit || !transient {
			return fmt.Errorf("%w: %s", poller.ErrRejected, msg)
		}
	}
	return errors.New(msg)
}

func (p *predictionResponse) job() domain.Job {
	job := domain.Job{
		ID:     p.ID,
		Status: NormalizeStatus(p.Status),
	}
	switch job.Status {
	case domain.JobStatusSucceeded:
		job.Result = firstOutput(p.Output)
		if job.Result == "" {
			job.Status = domain.JobStatusFailed
			job.FailureReason = "job succeeded without output"
		}
	case domain.JobStatusFailed:
		job.FailureReason = errorText(p.Error)
		if job.FailureReason == "" {
			job.FailureReason = "job " + strings.ToLower(p.Status)
		}
	}
	return job
}

// NormalizeStatus maps a provider status string onto the three job statuses.
// Anything not recognisably terminal is pending.
func NormalizeStatus(s string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "successful", "completed", "complete", "success", "done":
		return domain.JobStatusSucceeded
	case "failed", "failure", "error", "canceled", "cancelled", "aborted":
		return domain.JobStatusFailed
	default:
		return domain.JobStatusPending
	}
}

// firstOutput extracts the result locator: output is a string, a list whose first
// element is used, or an object with a "url" field.
func firstOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if out := firstOutput(item); out != "" {
				return out
			}
		}
		return ""
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.text() != "" {
		return body.text()
	}
	return string(raw)
}

var _ poller.Transport = (*RESTClient)(nil)

// timeoutOrDefault is shared by the transports.
func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
