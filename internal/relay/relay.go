// Package relay copies an upstream event stream to a client sink chunk by
// chunk, without parsing or buffering the whole response.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/af-corp/pplx-bridge/internal/upstream"
)

const defaultChunkSize = 4 << 10

var (
	// ErrClientGone means the sink refused a write or the client context ended.
	ErrClientGone = errors.New("client disconnected")
	// ErrIdle means the upstream sent nothing for longer than the idle timeout.
	ErrIdle = errors.New("upstream stream idle")
)

// Sink receives relayed bytes. WriteError is called at most once per
// session and ends it; status matters only if nothing was written yet.
type Sink interface {
	WriteChunk(p []byte) error
	WriteError(status int, message string) error
}

// ErrorEvent is the terminal error frame sent on every transport.
type ErrorEvent struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Error: message, Type: "error"}
}

type Options struct {
	// Provider is the display name used in error messages.
	Provider string
	// IdleTimeout bounds the gap between two upstream reads. Zero disables it.
	IdleTimeout time.Duration
	ChunkSize   int
	// OnChunk is called after each chunk reaches the sink.
	OnChunk func(n int)
}

type Stats struct {
	Chunks int
	Bytes  int64
}

// Run relays body to sink until the upstream ends, fails or stalls, or the
// client goes away. body is always closed before Run returns, which also
// unblocks the reader goroutine.
func Run(ctx context.Context, body io.ReadCloser, sink Sink, opts Options) (Stats, error) {
	var stats Stats
	defer body.Close()

	size := opts.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}

	// Unbuffered: the reader holds at most one chunk while the sink is busy.
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			buf := make([]byte, size)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if opts.IdleTimeout > 0 {
		timer = time.NewTimer(opts.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return stats, fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())

		case p := <-chunks:
			if err := sink.WriteChunk(p); err != nil {
				return stats, fmt.Errorf("%w: %v", ErrClientGone, err)
			}
			stats.Chunks++
			stats.Bytes += int64(len(p))
			if opts.OnChunk != nil {
				opts.OnChunk(len(p))
			}
			if timer != nil {
				timer.Reset(opts.IdleTimeout)
			}

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			if ctx.Err() != nil {
				return stats, fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
			}
			sink.WriteError(http.StatusBadGateway, fmt.Sprintf("%s stream interrupted", opts.Provider))
			return stats, fmt.Errorf("read upstream stream: %w", err)

		case <-idle:
			sink.WriteError(http.StatusGatewayTimeout, fmt.Sprintf("%s stream timed out", opts.Provider))
			return stats, ErrIdle
		}
	}
}

// Fail reports a failure that happened before any upstream bytes arrived.
func Fail(sink Sink, err error) error {
	ue := upstream.AsError(err)
	if ue.Kind == upstream.KindCanceled {
		return ErrClientGone
	}
	return sink.WriteError(ue.Kind.HTTPStatus(), ue.ClientMessage())
}
