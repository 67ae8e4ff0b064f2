// Package providerhttp is the request layer shared by the provider clients
// and the asset downloader. It maps HTTP outcomes onto the domain error
// taxonomy and retries rate limiting and server errors a bounded number of
// times.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
)

const (
	defaultMaxBytes   = 8 << 20
	maxRetryAfterWait = 5 * time.Second
)

// RetryPolicy bounds request-layer retries.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetry retries twice, half a second apart.
var DefaultRetry = RetryPolicy{MaxRetries: 2, Delay: 500 * time.Millisecond}

// Caller performs HTTP requests on behalf of one provider.
type Caller struct {
	Provider string
	Client   *http.Client
	Retry    RetryPolicy
	Logger   *infra.Logger
}

// Request is a single provider call. Body is replayed on every retry.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	MaxBytes int64
}

// Response is a successful (2xx) provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON builds a Request with a JSON-encoded body.
func JSON(method, url string, payload any) (Request, error) {
	req := Request{Method: method, URL: url, Header: http.Header{}}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return Request{}, fmt.Errorf("encode request: %w", err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Do executes req, retrying transient failures per c.Retry.
func (c *Caller) Do(ctx context.Context, req Request) (*Response, error) {
	logger := infra.OrDiscard(c.Logger)
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, wait, err := c.once(ctx, client, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !domain.Transient(err) || attempt >= c.Retry.MaxRetries {
			return nil, lastErr
		}
		if wait <= 0 {
			wait = c.Retry.Delay
		}
		logger.Warn().
			Err(err).
			Str("provider", c.Provider).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("providerhttp: retrying request")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Caller) once(ctx context.Context, client *http.Client, req Request) (*Response, time.Duration, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", c.Provider, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, &domain.ProviderError{Kind: domain.ErrProviderServer, Provider: c.Provider, Message: "request timed out"}
		}
		return nil, 0, &domain.ProviderError{Kind: domain.ErrProviderServer, Provider: c.Provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	limit := req.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, &domain.ProviderError{Kind: domain.ErrProviderServer, Provider: c.Provider, Message: "read response: " + err.Error()}
	}
	if int64(len(raw)) > limit {
		return nil, 0, &domain.ProviderError{Kind: domain.ErrProviderMalformed, Provider: c.Provider, Message: fmt.Sprintf("response exceeds %d bytes", limit)}
	}

	if err := Classify(c.Provider, resp.StatusCode, raw); err != nil {
		return nil, retryAfter(resp.Header.Get("Retry-After")), err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: raw}, 0, nil
}

// Classify maps a non-2xx status onto the taxonomy; 2xx yields nil.
func Classify(provider string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := errorMessage(body)
	perr := &domain.ProviderError{Provider: provider, StatusCode: status, Message: msg}
	switch {
	case status == http.StatusPaymentRequired || mentionsQuota(msg):
		perr.Kind = domain.ErrProviderQuota
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		perr.Kind = domain.ErrProviderAuth
	case status == http.StatusTooManyRequests:
		perr.Kind = domain.ErrProviderRateLimited
	case status >= 500:
		perr.Kind = domain.ErrProviderServer
	default:
		perr.Kind = domain.ErrProviderRejected
	}
	return perr
}

func mentionsQuota(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"quota", "insufficient balance", "insufficient_balance", "billing"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// errorMessage pulls a human-readable message out of common error shapes:
// {"error":{"message":...}}, {"error":"..."}, {"message":...}, {"detail":...}.
func errorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		text := string(trimmed)
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			if code, ok := nested.Code.(string); ok && code != "" {
				return nested.Message + " (" + code + ")"
			}
			return nested.Message
		}
		var text string
		if err := json.Unmarshal(payload.Error, &text); err == nil && text != "" {
			return text
		}
	}
	if payload.Message != "" {
		if payload.Code != "" {
			return payload.Message + " (" + payload.Code + ")"
		}
		return payload.Message
	}
	return payload.Detail
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	wait := time.Duration(secs) * time.Second
	if wait > maxRetryAfterWait {
		return maxRetryAfterWait
	}
	return wait
}
