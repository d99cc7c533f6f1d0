package adapters

import "github.com/af-corp/pplx-bridge/internal/config"

const defaultPerplexityBaseURL = "https://api.perplexity.ai"

// NewPerplexityAdapter returns the adapter for the default provider.
func NewPerplexityAdapter(cfg config.ProviderConfig) *OpenAICompatible {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPerplexityBaseURL
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Perplexity"
	}
	return NewOpenAICompatible("perplexity", cfg)
}
