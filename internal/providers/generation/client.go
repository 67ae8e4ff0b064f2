// Package generation talks to the remote 3D generation backend: it submits
// jobs and reads their status in the canonical form the poller expects.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/jobs"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
)

const (
	providerName     = "generation"
	defaultQuality   = "high"
	defaultFormat    = "usdz"
	defaultTimeout   = 30 * time.Second
	jobsPathSegments = "/dreams/3d"
)

type Options struct {
	APIKey     string
	BaseURL    string
	Quality    string
	Format     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Retry      *providerhttp.RetryPolicy
	Logger     *infra.Logger
}

// Client implements job submission and jobs.StatusQuerier.
type Client struct {
	apiKey  string
	baseURL string
	quality string
	format  string
	caller  *providerhttp.Caller
	logger  *infra.Logger
}

var _ jobs.StatusQuerier = (*Client)(nil)

type submitRequest struct {
	Description string          `json:"description"`
	Analysis    domain.Analysis `json:"analysis"`
	Prompt      string          `json:"prompt,omitempty"`
	Quality     string          `json:"quality"`
	Format      string          `json:"format"`
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("generation api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("generation base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("generation base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retry := providerhttp.DefaultRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	logger := infra.OrDiscard(opts.Logger)
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		quality: firstNonEmpty(opts.Quality, defaultQuality),
		format:  strings.ToLower(firstNonEmpty(opts.Format, defaultFormat)),
		caller: &providerhttp.Caller{
			Provider: providerName,
			Client:   client,
			Retry:    retry,
			Logger:   logger,
		},
		logger: logger,
	}, nil
}

// Submit starts a generation job and returns the provider job id.
func (c *Client) Submit(ctx context.Context, req domain.GenerationRequest) (string, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return "", domain.PreconditionError("generation request has no description")
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = PromptFromAnalysis(description, req.Analysis)
	}
	httpReq, err := providerhttp.JSON(http.MethodPost, c.baseURL+jobsPathSegments, submitRequest{
		Description: description,
		Analysis:    req.Analysis,
		Prompt:      prompt,
		Quality:     c.quality,
		Format:      c.format,
	})
	if err != nil {
		return "", err
	}
	c.authorize(httpReq)

	resp, err := c.caller.Do(ctx, httpReq)
	if err != nil {
		return "", err
	}
	doc, err := decodeDocument(resp.Body)
	if err != nil {
		return "", err
	}
	jobID := lookupFirst(doc, taskIDPaths)
	if jobID == "" {
		return "", malformed("no task id in submit response")
	}
	c.logger.Info().
		Str("dream_id", req.DreamID).
		Str("job_id", jobID).
		Str("format", c.format).
		Msg("generation: job submitted")
	return jobID, nil
}

// QueryStatus reads one status snapshot. A succeeded job without a
// recognisable artifact URL is ErrProviderMalformed.
func (c *Client) QueryStatus(ctx context.Context, jobID string) (jobs.JobState, error) {
	if strings.TrimSpace(jobID) == "" {
		return jobs.JobState{}, domain.PreconditionError("job id is empty")
	}
	httpReq := providerhttp.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + jobsPathSegments + "/" + url.PathEscape(jobID),
		Header: http.Header{"Accept": []string{"application/json"}},
	}
	c.authorize(httpReq)

	resp, err := c.caller.Do(ctx, httpReq)
	if err != nil {
		return jobs.JobState{}, err
	}
	doc, err := decodeDocument(resp.Body)
	if err != nil {
		return jobs.JobState{}, err
	}
	return parseStatus(doc)
}

func (c *Client) authorize(req providerhttp.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func parseStatus(doc map[string]any) (jobs.JobState, error) {
	raw := lookupFirst(doc, statusPaths)
	state := jobs.JobState{
		Status:  jobs.ClassifyStatus(raw),
		Raw:     raw,
		Format:  strings.ToLower(lookupFirst(doc, formatPaths)),
		Message: lookupFirst(doc, messagePaths),
	}
	if state.Status != jobs.StatusSucceeded {
		return state, nil
	}
	artifact, path := extractArtifact(doc)
	if artifact == "" {
		return state, malformed("job %q succeeded without an artifact url", raw)
	}
	state.ArtifactURL = artifact
	if state.Format == "" {
		state.Format = formatFromPath(path)
	}
	return state, nil
}

func decodeDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, malformed("decode response: %v", err)
	}
	if doc == nil {
		return nil, malformed("empty response document")
	}
	return doc, nil
}

func malformed(format string, args ...any) error {
	return &domain.ProviderError{
		Kind:     domain.ErrProviderMalformed,
		Provider: providerName,
		Message:  fmt.Sprintf(format, args...),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
