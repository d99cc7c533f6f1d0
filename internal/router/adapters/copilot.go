package adapters

import (
	"maps"

	"github.com/af-corp/pplx-bridge/internal/config"
)

const defaultCopilotBaseURL = "https://api.github.com/copilot"

var copilotHeaders = map[string]string{
	"Editor-Version":        "vscode/1.80.0",
	"Editor-Plugin-Version": "copilot/1.0.0",
}

// NewCopilotAdapter returns the adapter for copilot- models. Copilot expects
// editor identification headers and a single completion per call.
func NewCopilotAdapter(cfg config.ProviderConfig) *OpenAICompatible {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCopilotBaseURL
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "GitHub Copilot"
	}

	headers := maps.Clone(copilotHeaders)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers

	extra := map[string]any{"n": 1}
	for k, v := range cfg.ExtraBody {
		extra[k] = v
	}
	cfg.ExtraBody = extra

	return NewOpenAICompatible("copilot", cfg)
}
