package types

import "encoding/json"

// UpstreamResponse is a chat completion that passed normalization. Fields
// outside this shape are dropped.
type UpstreamResponse struct {
	ID        string          `json:"id,omitempty"`
	Object    string          `json:"object,omitempty"`
	Created   int64           `json:"created,omitempty"`
	Model     string          `json:"model,omitempty"`
	Choices   []Choice        `json:"choices"`
	Usage     json.RawMessage `json:"usage,omitempty"`
	Citations json.RawMessage `json:"citations,omitempty"`

	// Provider is the tag of the adapter that produced the response.
	Provider string `json:"-"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason *string       `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}
