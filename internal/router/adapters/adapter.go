package adapters

import (
	"context"
	"io"

	"github.com/af-corp/pplx-bridge/internal/types"
)

// Provider sends validated chat requests to one upstream. Implementations
// never retry, and every error they return is an *upstream.Error.
type Provider interface {
	// Name is the routing tag, e.g. "perplexity".
	Name() string
	// DisplayName is used in client-facing error messages.
	DisplayName() string
	Configured() bool
	SupportsStreaming() bool
	Complete(ctx context.Context, req *types.ChatRequest) (*types.UpstreamResponse, error)
	// Stream returns the raw upstream event stream once the provider has
	// answered with a 2xx status. The caller closes it.
	Stream(ctx context.Context, req *types.ChatRequest) (io.ReadCloser, error)
}
