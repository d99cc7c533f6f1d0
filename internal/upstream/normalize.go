package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/af-corp/pplx-bridge/internal/types"
)

// Normalize checks a buffered provider body and converts it to an
// UpstreamResponse. Checks run in a fixed order and the first failure wins:
// the body must be an object, must not carry an error field, must carry a
// non-empty choices array, and the first choice must carry a message.
func Normalize(provider string, raw []byte) (*types.UpstreamResponse, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, malformed(provider, "Invalid response format: expected a JSON object", err)
	}

	if errField, ok := doc["error"]; ok && !isNull(errField) {
		return nil, Reported(provider, errorMessage(errField))
	}

	rawChoices, ok := doc["choices"]
	if !ok || isNull(rawChoices) {
		return nil, &Error{Kind: KindMissingChoices, Provider: provider, Message: "Invalid response format: missing 'choices' field"}
	}
	var choices []json.RawMessage
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return nil, &Error{Kind: KindMissingChoices, Provider: provider, Message: "Invalid response format: 'choices' is not an array", Err: err}
	}
	if len(choices) == 0 {
		return nil, &Error{Kind: KindMissingChoices, Provider: provider, Message: "Invalid response format: no choices returned"}
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(choices[0], &first); err != nil || first == nil {
		return nil, &Error{Kind: KindMalformedChoice, Provider: provider, Message: "Invalid response format: choice is not an object", Err: err}
	}
	if msg, ok := first["message"]; !ok || isNull(msg) {
		return nil, &Error{Kind: KindMalformedChoice, Provider: provider, Message: "Invalid response format: choice missing 'message' field"}
	}

	var resp types.UpstreamResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(provider, "Invalid response format: unexpected field types", err)
	}
	resp.Provider = provider
	return &resp, nil
}

func malformed(provider, msg string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: provider, Message: msg, Err: err}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// errorMessage reads the message out of an OpenAI-style error field, which
// providers send either as {"message": "..."} or as a bare string.
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return "Unknown API error"
}

// ExtractErrorDetail pulls a provider-authored message out of a non-2xx body
// for logging. It returns "" when the body is not an OpenAI-style error
// document.
func ExtractErrorDetail(body []byte) string {
	var doc struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	if !isNull(doc.Error) {
		if msg := errorMessage(doc.Error); msg != "Unknown API error" {
			return truncate(msg, 300)
		}
	}
	return truncate(doc.Detail, 300)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
