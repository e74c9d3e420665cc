package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversation = []Message{
	{Role: "system", Content: "You repair tests."},
	{Role: "user", Content: "Fix this test."},
}

func TestGoogleClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req googleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "You repair tests.", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		assert.InDelta(t, 0.2, req.GenerationConfig.Temperature, 1e-9)
		assert.Equal(t, 1024, req.GenerationConfig.MaxOutputTokens)

		_ = json.NewEncoder(w).Encode(googleResponse{
			Candidates: []googleCandidate{{Content: googleContent{Parts: []googlePart{{Text: "ok "}, {Text: "done"}}}}},
			UsageMetadata: googleUsage{PromptTokenCount: 10, CandidatesTokenCount: 5},
		})
	}))
	defer server.Close()

	c := NewGoogleClient("test-key", "gemini-2.5-flash", WithBaseURL(server.URL))
	resp, err := c.Complete(context.Background(), conversation, Options{Temperature: 0.2, MaxTokens: 1024})
	require.NoError(t, err)
	assert.Equal(t, "ok done", resp.Content)
	assert.Equal(t, 15, resp.TokensUsed())
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, ProviderGoogle, c.Provider())
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, defaultMaxTokens, req.MaxTokens)

		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "healed"}}},
			Usage:   openAIUsage{PromptTokens: 100, CompletionTokens: 20},
			Model:   "gpt-4o-mini-2024-07-18",
		})
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "gpt-4o-mini", WithBaseURL(server.URL))
	resp, err := c.Complete(context.Background(), conversation, Options{})
	require.NoError(t, err)
	assert.Equal(t, "healed", resp.Content)
	assert.Equal(t, 120, resp.TokensUsed())
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
}

func TestAnthropicClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "You repair tests.", req.System)
		assert.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "a"}, {Type: "tool_use"}, {Type: "text", Text: "b"}},
			Usage:   anthropicUsage{InputTokens: 7, OutputTokens: 3},
		})
	}))
	defer server.Close()

	c := NewAnthropicClient("test-key", "claude-3-5-sonnet-latest", WithBaseURL(server.URL))
	resp, err := c.Complete(context.Background(), conversation, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ab", resp.Content)
	assert.Equal(t, "claude-3-5-sonnet-latest", resp.Model)
}

func TestComplete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "rate limited with hint",
			status:     http.StatusTooManyRequests,
			retryAfter: "7",
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
				assert.True(t, Retryable(err))
			},
		},
		{
			name:   "rate limited without hint",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Zero(t, rl.RetryAfter)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.StatusBadGateway, te.StatusCode)
				assert.True(t, Retryable(err))
			},
		},
		{
			name:   "client error",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "API error (400)")
				assert.False(t, Retryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			c := NewOpenAIClient("k", "gpt-4o", WithBaseURL(server.URL))
			_, err := c.Complete(context.Background(), conversation, Options{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestComplete_ConnectionFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewAnthropicClient("k", "claude-3-5-sonnet-latest", WithBaseURL(url))
	_, err := c.Complete(context.Background(), conversation, Options{})
	assert.True(t, IsTransportError(err))
}

func TestComplete_CanceledContextIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewGoogleClient("k", "gemini-2.5-flash", WithBaseURL(server.URL))
	_, err := c.Complete(ctx, conversation, Options{})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Hour).Format(http.TimeFormat), now))
}

func TestNewProvider(t *testing.T) {
	c, err := NewProvider(ProviderOpenAI, "k", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.Equal(t, ProviderOpenAI, c.Provider())

	_, err = NewProvider(ProviderAnthropic, "", "")
	assert.Error(t, err)

	_, err = NewProvider("mistral", "k", "")
	assert.Error(t, err)

	assert.True(t, ProviderGoogle.Valid())
	assert.False(t, Provider("mistral").Valid())
}

func TestEstimateCost(t *testing.T) {
	assert.InDelta(t, 0.0025+0.01, EstimateCost("gpt-4o", 1000, 1000), 1e-9)
	assert.InDelta(t, 0.00015, EstimateCost("gpt-4o-mini-2024-07-18", 1000, 0), 1e-9, "longest prefix wins")
	assert.Zero(t, EstimateCost("local-model", 1000, 1000))
}
