// Package llm adapts hosted completion APIs to a single Completer interface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Default models per provider.
var defaultModels = map[Provider]string{
	ProviderGoogle:    "gemini-2.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(p Provider) string {
	return defaultModels[p]
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	_, ok := defaultModels[p]
	return ok
}

// Message is one conversation turn. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-request sampling parameters. Zero values use the
// client defaults.
type Options struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Response is a completed generation.
type Response struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// TokensUsed returns input plus output tokens.
func (r Response) TokensUsed() int {
	return r.InputTokens + r.OutputTokens
}

// Completer is the completion service contract.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Response, error)
	Provider() Provider
	Model() string
}

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 4096
)

// RateLimitError is returned when the service answers 429. RetryAfter is
// zero when the service gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// IsRateLimitError checks if an error is a RateLimitError.
func IsRateLimitError(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// TransportError covers 5xx answers and connection failures. StatusCode is
// zero when no response was received.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// Retryable reports whether err is worth retrying: rate limits and
// transport failures are, everything else is not.
func Retryable(err error) bool {
	return IsRateLimitError(err) || IsTransportError(err)
}

// ClientOption configures a provider client.
type ClientOption func(*httpClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) ClientOption {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRequestsPerMinute paces outgoing requests. Zero disables pacing.
func WithRequestsPerMinute(n int) ClientOption {
	return func(c *httpClient) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// httpClient is the transport shared by all providers.
type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(baseURL string, opts []ClientOption) httpClient {
	c := httpClient{baseURL: baseURL, http: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// postJSON sends payload and decodes a 200 answer into out.
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request canceled: %w", ctx.Err())
		}
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), Body: string(body)}
	case resp.StatusCode >= 500:
		return &TransportError{StatusCode: resp.StatusCode, Err: errors.New(string(body))}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func resolve(opts Options, model string) Options {
	if opts.Model == "" {
		opts.Model = model
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return opts
}

// NewProvider builds the Completer for provider. An empty model selects
// the provider default.
func NewProvider(provider Provider, apiKey, model string, opts ...ClientOption) (Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key required for provider %s", provider)
	}
	if model == "" {
		model = DefaultModel(provider)
	}
	switch provider {
	case ProviderGoogle:
		return NewGoogleClient(apiKey, model, opts...), nil
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, model, opts...), nil
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, model, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
