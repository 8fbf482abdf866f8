package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/tofagerl/mailmind/internal/config"
)

// Prompt is one request to the classification oracle
type Prompt struct {
	System string
	User   string
}

// Oracle returns free text for a prompt
type Oracle interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Name() string
}

// ProviderType selects the oracle implementation
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// NewOracle creates the oracle configured by cfg
func NewOracle(cfg *config.Config) (Oracle, error) {
	httpCfg := HTTPConfig{
		BaseURL:     cfg.OracleBaseURL,
		APIKey:      cfg.OracleAPIKey,
		Model:       cfg.OracleModel,
		Temperature: cfg.OracleTemperature,
		MaxTokens:   cfg.OracleMaxTokens,
		// The gateway bounds each call; this only guards against hung sockets
		Timeout: cfg.OracleTimeout + 5*time.Second,
	}

	switch ProviderType(cfg.OracleProvider) {
	case ProviderOpenAI:
		if httpCfg.APIKey == "" {
			return nil, fmt.Errorf("ORACLE_API_KEY is required for provider %s", cfg.OracleProvider)
		}
		return NewOpenAIClient(httpCfg), nil
	case ProviderOllama:
		if httpCfg.BaseURL == "" || httpCfg.BaseURL == defaultOpenAIBaseURL {
			httpCfg.BaseURL = defaultOllamaBaseURL
		}
		return NewOllamaClient(httpCfg), nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.OracleProvider)
	}
}
