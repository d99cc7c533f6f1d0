package config

import "time"

const (
	defaultProviderTimeout = 60 * time.Second
	defaultStreamTimeout   = 120 * time.Second
	defaultChatPath        = "/chat/completions"
)

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	// Type selects the adapter: "perplexity" or "copilot". Defaults to the map key.
	Type              string            `yaml:"type"`
	DisplayName       string            `yaml:"display_name"`
	BaseURL           string            `yaml:"base_url"`
	ChatPath          string            `yaml:"chat_path"`
	APIKey            string            `yaml:"api_key"`
	MaxConcurrent     int               `yaml:"max_concurrent"`
	Timeout           time.Duration     `yaml:"timeout"`
	StreamTimeout     time.Duration     `yaml:"stream_timeout"`
	SupportsStreaming bool              `yaml:"supports_streaming"`
	// ExtraBody fields are merged into every upstream request body.
	ExtraBody map[string]any    `yaml:"extra_body,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Endpoint is the absolute chat-completions URL for the provider.
func (p ProviderConfig) Endpoint() string {
	return p.BaseURL + p.ChatPath
}

func (p *ProvidersConfig) applyDefaults() {
	for name, pc := range p.Providers {
		if pc.Type == "" {
			pc.Type = name
		}
		if pc.ChatPath == "" {
			pc.ChatPath = defaultChatPath
		}
		if pc.Timeout == 0 {
			pc.Timeout = defaultProviderTimeout
		}
		if pc.StreamTimeout == 0 {
			pc.StreamTimeout = defaultStreamTimeout
		}
		if pc.MaxConcurrent == 0 {
			pc.MaxConcurrent = 32
		}
		p.Providers[name] = pc
	}
}
