// Package llm provides generative model clients for document extraction.
package llm

import (
	"context"
)

// LLMClient is the single contract the extraction pipeline has with a
// generative model provider. The engine owns all prompt construction and
// response parsing; providers are swappable behind this interface.
// Use it for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse sends one prompt and returns the model's raw text
	// response. The response may be wrapped in markdown fences; callers
	// parse it with ExtractJSON/ParseJSONResponse.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure implementations satisfy LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*MockLLMClient)(nil)
)
