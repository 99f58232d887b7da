package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/config"
)

// NewFromConfig creates the LLM client selected by server configuration.
// "openai" covers any OpenAI-compatible endpoint (including self-hosted
// gateways); "anthropic" uses the Anthropic Messages API.
func NewFromConfig(cfg *config.AIConfig, logger *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewClient(&Config{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
