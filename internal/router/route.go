package router

import "strings"

// ProviderTag names one of the configured upstreams.
type ProviderTag string

const (
	TagPerplexity ProviderTag = "perplexity"
	TagCopilot    ProviderTag = "copilot"

	DefaultSecondaryPrefix = "copilot-"
)

// Rules decide which provider serves a model. A model goes to Secondary iff
// it starts with Prefix (case-sensitive); every other model, including the
// empty string, goes to Primary.
type Rules struct {
	Prefix    string
	Primary   ProviderTag
	Secondary ProviderTag
}

var DefaultRules = Rules{
	Prefix:    DefaultSecondaryPrefix,
	Primary:   TagPerplexity,
	Secondary: TagCopilot,
}

func (r Rules) Route(model string) ProviderTag {
	if r.Prefix != "" && strings.HasPrefix(model, r.Prefix) {
		return r.Secondary
	}
	return r.Primary
}
