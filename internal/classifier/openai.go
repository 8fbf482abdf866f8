package classifier

import (
	"context"
	"errors"
)

// OpenAIClient talks to an OpenAI-compatible chat completions API
type OpenAIClient struct {
	httpClient
	model       string
	temperature float64
	maxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new chat completions client
func NewOpenAIClient(cfg HTTPConfig) *OpenAIClient {
	return &OpenAIClient{
		httpClient:  newHTTPClient(cfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete sends the prompt as a system and a user message
func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}
