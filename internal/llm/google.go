package llm

import (
	"context"
	"fmt"
	"strings"
)

// GoogleClient implements Completer for Google Gemini
type GoogleClient struct {
	apiKey string
	model  string
	httpClient
}

// NewGoogleClient creates a new Google Gemini client
func NewGoogleClient(apiKey, model string, opts ...ClientOption) *GoogleClient {
	return &GoogleClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient("https://generativelanguage.googleapis.com/v1beta", opts),
	}
}

// Google API request/response types
type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleResponse struct {
	Candidates    []googleCandidate `json:"candidates"`
	UsageMetadata googleUsage       `json:"usageMetadata"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type googleUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Complete sends a request to Google Gemini
func (c *GoogleClient) Complete(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts = resolve(opts, c.model)

	reqBody := googleRequest{
		GenerationConfig: googleGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			reqBody.SystemInstruction = &googleContent{Parts: []googlePart{{Text: msg.Content}}}
		case "assistant":
			// Google uses "user" and "model" (not "assistant")
			reqBody.Contents = append(reqBody.Contents, googleContent{Role: "model", Parts: []googlePart{{Text: msg.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, googleContent{Role: msg.Role, Parts: []googlePart{{Text: msg.Content}}})
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, opts.Model)
	var googleResp googleResponse
	if err := c.postJSON(ctx, url, map[string]string{"x-goog-api-key": c.apiKey}, reqBody, &googleResp); err != nil {
		return nil, err
	}

	if len(googleResp.Candidates) == 0 {
		return nil, fmt.Errorf("no response candidates")
	}

	var content strings.Builder
	for _, part := range googleResp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	return &Response{
		Content:      content.String(),
		InputTokens:  googleResp.UsageMetadata.PromptTokenCount,
		OutputTokens: googleResp.UsageMetadata.CandidatesTokenCount,
		Model:        opts.Model,
	}, nil
}

// Provider returns the provider name
func (c *GoogleClient) Provider() Provider {
	return ProviderGoogle
}

// Model returns the model name
func (c *GoogleClient) Model() string {
	return c.model
}
