package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

// APIError matches the OpenAI error response format.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string             `json:"message"`
	Type      string             `json:"type"`
	Code      string             `json:"code"`
	RequestID string             `json:"request_id,omitempty"`
	Fields    []types.FieldError `json:"fields,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, requestID string, statusCode int, body APIErrorBody) {
	body.RequestID = requestID
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	WriteJSON(w, statusCode, APIError{Error: body})
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	writeBody(w, requestID, statusCode, APIErrorBody{Message: message, Type: errType, Code: code})
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "invalid_api_key", message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteForbiddenError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusForbidden, "permission_error", "command_rejected", message)
}

func WriteNotFoundError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusNotFound, "invalid_request_error", "not_found", message)
}

func WriteTooLargeError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusRequestEntityTooLarge, "invalid_request_error", "request_too_large", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "service_unavailable", message)
}

// WriteValidationError lists every invalid field with a 422.
func WriteValidationError(w http.ResponseWriter, requestID string, verr *types.ValidationError) {
	writeBody(w, requestID, http.StatusUnprocessableEntity, APIErrorBody{
		Message: verr.Error(),
		Type:    "invalid_request_error",
		Code:    "validation_failed",
		Fields:  verr.Fields,
	})
}

// WriteUpstreamError writes a classified provider failure. Only the
// classified message reaches the client.
func WriteUpstreamError(w http.ResponseWriter, requestID string, err *upstream.Error) {
	errType, code := "upstream_error", "upstream_"+err.Kind.String()
	switch err.Kind {
	case upstream.KindNotConfigured, upstream.KindStreamingUnsupported:
		errType = "invalid_request_error"
		code = err.Kind.String()
	case upstream.KindUnavailable:
		errType, code = "server_error", "service_unavailable"
	case upstream.KindUnexpected:
		errType, code = "server_error", "internal_error"
	}
	WriteError(w, requestID, err.Kind.HTTPStatus(), errType, code, err.ClientMessage())
}
