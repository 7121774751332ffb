package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/media"
	"github.com/timmy/lookbook/internal/poller"
	"github.com/timmy/lookbook/internal/prompts"
	"google.golang.org/genai"
)

// contentGenerator is the part of genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// sourceFetcher loads the image an edit starts from.
type sourceFetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, string, error)
}

// GeminiClient generates images with the Gemini API. Generation is synchronous:
// Submit returns a terminal job and Status answers from a cache of finished jobs.
type GeminiClient struct {
	name    string
	model   string
	timeout time.Duration
	models  contentGenerator
	fetch   sourceFetcher
	jobs    *lru.Cache[string, domain.Job]
	now     func() time.Time
}

// NewGeminiClient creates a Gemini transport from cfg.
func NewGeminiClient(ctx context.Context, cfg config.ProviderConfig) (*GeminiClient, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", cfg.Name)
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(cfg, cli.Models, media.NewFetcher(cfg.Timeout, 0))
}

func newGeminiClient(cfg config.ProviderConfig, models contentGenerator, fetch sourceFetcher) (*GeminiClient, error) {
	jobs, err := lru.New[string, domain.Job](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create job cache: %w", err)
	}
	return &GeminiClient{
		name:    cfg.Name,
		model:   cfg.Model,
		timeout: timeoutOrDefault(cfg.Timeout),
		models:  models,
		fetch:   fetch,
		jobs:    jobs,
		now:     time.Now,
	}, nil
}

// Name returns the configured provider name.
func (c *GeminiClient) Name() string {
	return c.name
}

// Submit runs the generation to completion. A response without an image is a
// failed job, not an error.
func (c *GeminiClient) Submit(ctx context.Context, req domain.JobRequest) (domain.Job, error) {
	parts := []*genai.Part{{Text: prompts.Compose(req.Kind, req.Prompt)}}
	if req.SourceURL != "" {
		data, contentType, err := c.fetch.Fetch(ctx, req.SourceURL)
		if err != nil {
			return domain.Job{}, fmt.Errorf("%w: load source image: %v", poller.ErrRejected, err)
		}
		if info, perr := media.Probe(data); perr == nil {
			contentType = info.MimeType
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: contentType}})
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.models.GenerateContent(callCtx, c.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	)
	if err != nil {
		return domain.Job{}, classifyGemini(err)
	}

	job := domain.Job{
		ID:          "gem-" + uuid.New().String(),
		SubmittedAt: c.now(),
	}
	if img, text := extractImage(resp); img != nil {
		job.Status = domain.JobStatusSucceeded
		job.Result = media.EncodeDataURL(img.MIMEType, img.Data)
	} else {
		job.Status = domain.JobStatusFailed
		job.FailureReason = "model returned no image"
		if text != "" {
			job.FailureReason += ": " + text
		}
	}
	c.jobs.Add(job.ID, job)
	return job, nil
}

// Status returns a job finished by this client. Jobs evicted from the cache, or
// never created here, are rejected.
func (c *GeminiClient) Status(_ context.Context, id string) (domain.Job, error) {
	job, ok := c.jobs.Get(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: unknown job %s", poller.ErrRejected, id)
	}
	return job, nil
}

// extractImage returns the first inline image of the first candidate, or the
// text the model answered with instead.
func extractImage(resp *genai.GenerateContentResponse) (*genai.Blob, string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ""
	}
	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, ""
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			text = append(text, t)
		}
	}
	return nil, strings.Join(text, " ")
}

// classifyGemini marks client errors other than rate limits as rejections.
func classifyGemini(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %v", poller.ErrRejected, err)
	}
	return err
}

var _ poller.Transport = (*GeminiClient)(nil)
