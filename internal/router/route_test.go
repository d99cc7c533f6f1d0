package router

import "testing"

func TestRoute(t *testing.T) {
	tests := []struct {
		model string
		want  ProviderTag
	}{
		{"copilot-gpt-4", TagCopilot},
		{"copilot-", TagCopilot},
		{"gpt-5.2", TagPerplexity},
		{"sonar-pro", TagPerplexity},
		{"", TagPerplexity},
		{"Copilot-gpt-4", TagPerplexity},
		{" copilot-gpt-4", TagPerplexity},
		{"my-copilot-model", TagPerplexity},
	}
	for _, tt := range tests {
		if got := DefaultRules.Route(tt.model); got != tt.want {
			t.Errorf("Route(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestRules_CustomPrefix(t *testing.T) {
	r := Rules{Prefix: "gh/", Primary: "primary", Secondary: "secondary"}
	if got := r.Route("gh/gpt-4o"); got != "secondary" {
		t.Errorf("expected secondary, got %s", got)
	}
	if got := r.Route("copilot-gpt-4"); got != "primary" {
		t.Errorf("expected primary, got %s", got)
	}
}
