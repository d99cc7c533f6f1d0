// Package upstream classifies provider failures and normalizes provider
// responses into types.UpstreamResponse.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the failure class of an upstream call.
type Kind int

const (
	KindUnexpected Kind = iota
	KindTimeout
	KindConnection
	KindStatus
	KindReported
	KindMalformedResponse
	KindMissingChoices
	KindMalformedChoice
	KindStreamingUnsupported
	KindNotConfigured
	KindUnavailable
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	case KindReported:
		return "reported"
	case KindMalformedResponse:
		return "malformed_response"
	case KindMissingChoices:
		return "missing_choices"
	case KindMalformedChoice:
		return "malformed_choice"
	case KindStreamingUnsupported:
		return "streaming_unsupported"
	case KindNotConfigured:
		return "not_configured"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	default:
		return "unexpected"
	}
}

// StatusClientClosed is the nginx convention for a request the client
// abandoned. It is only ever logged and counted.
const StatusClientClosed = 499

// HTTPStatus is the status code returned to the client for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindConnection, KindStatus, KindReported,
		KindMalformedResponse, KindMissingChoices, KindMalformedChoice:
		return http.StatusBadGateway
	case KindStreamingUnsupported, KindNotConfigured:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindCanceled:
		return StatusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified upstream failure. Message is safe to show to clients;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ClientMessage is the text sent to callers. Unexpected failures never expose
// their cause.
func (e *Error) ClientMessage() string {
	if e.Kind == KindUnexpected {
		return "Internal server error"
	}
	return e.Message
}

// AsError extracts an *Error from err, wrapping unknown errors as unexpected.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return &Error{Kind: KindUnexpected, Message: "Internal server error", Err: err}
}

func Timeout(provider string, err error) *Error {
	return &Error{Kind: KindTimeout, Provider: provider, Message: fmt.Sprintf("Request to %s API timed out", provider), Err: err}
}

func Connection(provider string, err error) *Error {
	return &Error{Kind: KindConnection, Provider: provider, Message: fmt.Sprintf("Failed to connect to %s API", provider), Err: err}
}

// Status reports a non-2xx reply. The provider body is never part of the
// client message.
func Status(provider string, status int) *Error {
	return &Error{Kind: KindStatus, Provider: provider, Status: status, Message: fmt.Sprintf("%s API error: status %d", provider, status)}
}

func Reported(provider, detail string) *Error {
	return &Error{Kind: KindReported, Provider: provider, Message: fmt.Sprintf("%s API error: %s", provider, detail)}
}

func NotConfigured(provider string) *Error {
	return &Error{Kind: KindNotConfigured, Provider: provider, Message: fmt.Sprintf("%s is not configured", provider)}
}

func StreamingUnsupported(provider string) *Error {
	return &Error{Kind: KindStreamingUnsupported, Provider: provider, Message: fmt.Sprintf("%s does not support streaming", provider)}
}

func Unavailable(provider string) *Error {
	return &Error{Kind: KindUnavailable, Provider: provider, Message: fmt.Sprintf("%s is temporarily unavailable", provider)}
}

// Classify maps a transport error from an HTTP round trip to a Kind. ctx is
// the caller's context, used to tell client cancellation from timeouts.
func Classify(ctx context.Context, provider string, err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: KindCanceled, Provider: provider, Message: "client canceled request", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(provider, err)
	}
	return Connection(provider, err)
}
