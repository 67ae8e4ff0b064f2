// Package analysis turns a dream description into structured analysis using
// an OpenAI-compatible chat completion endpoint.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
)

const (
	providerName   = "analysis"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Retry      *providerhttp.RetryPolicy
	Logger     *infra.Logger
}

// Client calls the chat completion endpoint and decodes the JSON answer.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	caller  *providerhttp.Caller
	logger  *infra.Logger
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("analysis api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		model:   coalesce(opts.Model, defaultModel),
		baseURL: baseURL,
		caller: &providerhttp.Caller{
			Provider: providerName,
			Client:   client,
			Retry:    retry,
			Logger:   logger,
		},
		logger: logger,
	}, nil
}

// Analyze sends text to the model and returns the parsed analysis. An empty
// or unparseable answer is ErrProviderMalformed.
func (c *Client) Analyze(ctx context.Context, text string) (*domain.Analysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.PreconditionError("dream text is empty")
	}
	payload := chatRequest{
		Model:          c.model,
		Temperature:    0.4,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildAnalysisPrompt(text)},
		},
	}
	req, err := providerhttp.JSON(http.MethodPost, c.baseURL+"/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.caller.Do(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("model", c.model).Msg("analysis: request failed")
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, malformed("decode response: %v", err)
	}
	if len(out.Choices) == 0 {
		return nil, malformed("no choices")
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return nil, malformed("empty response")
	}
	parsed, err := parseModelPayload[modelAnalysisPayload](content)
	if err != nil {
		return nil, malformed("parse payload: %v", err)
	}
	analysis := parsed.toDomain()
	if analysis.VisualDescription == "" && len(analysis.Keywords) == 0 {
		return nil, malformed("analysis has neither keywords nor a visual description")
	}
	c.logger.Debug().
		Str("model", c.model).
		Int("keywords", len(analysis.Keywords)).
		Dur("took", time.Since(start)).
		Msg("analysis: completed")
	return analysis, nil
}

func malformed(format string, args ...any) error {
	return &domain.ProviderError{
		Kind:     domain.ErrProviderMalformed,
		Provider: providerName,
		Message:  fmt.Sprintf(format, args...),
	}
}
