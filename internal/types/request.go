package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxTokens        = 1024
	DefaultTemperature      = 0.0
	DefaultFrequencyPenalty = 1.0
)

// ChatRequest is a validated chat-completion request. Use DecodeChatRequest to
// build one; the value is not modified after validation.
type ChatRequest struct {
	Model            string          `json:"model" validate:"required"`
	Messages         []Message       `json:"messages" validate:"required,min=1,max=100,dive"`
	Stream           bool            `json:"stream"`
	MaxTokens        int             `json:"max_tokens" validate:"min=1,max=4096"`
	Temperature      float64         `json:"temperature" validate:"gte=0,lte=2"`
	FrequencyPenalty float64         `json:"frequency_penalty" validate:"gte=-2,lte=2"`
	Tools            json.RawMessage `json:"tools,omitempty"`
}

type Message struct {
	Role    Role   `json:"role" validate:"required,role"`
	Content string `json:"content" validate:"required"`
}

// ErrMalformedJSON is returned when the body is not a JSON object.
var ErrMalformedJSON = errors.New("request body is not valid JSON")

// FieldError describes one invalid field using its JSON path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String()).Valid()
	})
	return v
}

// DecodeChatRequest parses, defaults, trims and validates a request body.
func DecodeChatRequest(data []byte) (*ChatRequest, error) {
	req := ChatRequest{
		MaxTokens:        DefaultMaxTokens,
		Temperature:      DefaultTemperature,
		FrequencyPenalty: DefaultFrequencyPenalty,
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedJSON
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{Fields: []FieldError{{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("must be of type %s", typeErr.Type.Kind()),
			}}}
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	req.normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *ChatRequest) normalize() {
	r.Model = strings.TrimSpace(r.Model)
	for i := range r.Messages {
		r.Messages[i].Content = strings.TrimSpace(r.Messages[i].Content)
	}
	if string(bytes.TrimSpace(r.Tools)) == "null" {
		r.Tools = nil
	}
}

// Validate checks field constraints and returns a *ValidationError.
func (r *ChatRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate chat request: %w", err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	isSlice := fe.Kind() == reflect.Slice
	switch fe.Tag() {
	case "required":
		if isSlice {
			return "must contain at least 1 item"
		}
		return "must not be empty"
	case "min":
		if isSlice {
			return "must contain at least " + fe.Param() + " items"
		}
		return "must be >= " + fe.Param()
	case "max":
		if isSlice {
			return "must contain at most " + fe.Param() + " items"
		}
		return "must be <= " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "role":
		return "must be one of: " + roleList()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
