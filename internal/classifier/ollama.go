package classifier

import (
	"context"
	"errors"
)

// OllamaClient talks to a local Ollama server
type OllamaClient struct {
	httpClient
	model       string
	temperature float64
	maxTokens   int
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(cfg HTTPConfig) *OllamaClient {
	return &OllamaClient{
		httpClient:  newHTTPClient(cfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name returns the provider name
func (c *OllamaClient) Name() string {
	return string(ProviderOllama)
}

// Complete runs a non-streaming generation
func (c *OllamaClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	req := ollamaRequest{
		Model:  c.model,
		System: prompt.System,
		Prompt: prompt.User,
		Stream: false,
		Options: map[string]any{
			"temperature": c.temperature,
		},
	}
	if c.maxTokens > 0 {
		req.Options["num_predict"] = c.maxTokens
	}

	var resp ollamaResponse
	if err := c.postJSON(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}

	if resp.Response == "" {
		return "", errors.New("empty response from ollama")
	}
	return resp.Response, nil
}
