package llm

import (
	"context"
	"fmt"
)

// OpenAIClient implements Completer for OpenAI
type OpenAIClient struct {
	apiKey string
	model  string
	httpClient
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, model string, opts ...ClientOption) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient("https://api.openai.com/v1", opts),
	}
}

// OpenAI API request/response types
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a request to OpenAI
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts = resolve(opts, c.model)

	openAIMessages := make([]openAIMessage, len(messages))
	for i, msg := range messages {
		openAIMessages[i] = openAIMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	reqBody := openAIRequest{
		Model:       opts.Model,
		Messages:    openAIMessages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	var openAIResp openAIResponse
	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	if err := c.postJSON(ctx, url, map[string]string{"Authorization": "Bearer " + c.apiKey}, reqBody, &openAIResp); err != nil {
		return nil, err
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	model := openAIResp.Model
	if model == "" {
		model = opts.Model
	}
	return &Response{
		Content:      openAIResp.Choices[0].Message.Content,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
		Model:        model,
	}, nil
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

// Model returns the model name
func (c *OpenAIClient) Model() string {
	return c.model
}
