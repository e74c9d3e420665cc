package llm

import (
	"context"
	"fmt"
	"strings"
)

// AnthropicClient implements Completer for Anthropic Claude
type AnthropicClient struct {
	apiKey string
	model  string
	httpClient
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(apiKey, model string, opts ...ClientOption) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient("https://api.anthropic.com/v1", opts),
	}
}

// Anthropic API request/response types
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a request to Anthropic
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts = resolve(opts, c.model)

	// Separate system message from conversation
	var systemPrompt string
	anthropicMessages := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	reqBody := anthropicRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		System:      systemPrompt,
		Messages:    anthropicMessages,
		Temperature: opts.Temperature,
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	var anthropicResp anthropicResponse
	if err := c.postJSON(ctx, fmt.Sprintf("%s/messages", c.baseURL), headers, reqBody, &anthropicResp); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	model := anthropicResp.Model
	if model == "" {
		model = opts.Model
	}
	return &Response{
		Content:      content.String(),
		InputTokens:  anthropicResp.Usage.InputTokens,
		OutputTokens: anthropicResp.Usage.OutputTokens,
		Model:        model,
	}, nil
}

// Provider returns the provider name
func (c *AnthropicClient) Provider() Provider {
	return ProviderAnthropic
}

// Model returns the model name
func (c *AnthropicClient) Model() string {
	return c.model
}
