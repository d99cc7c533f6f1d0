package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/pplx-bridge/internal/upstream"
)

type recordingSink struct {
	mu       sync.Mutex
	chunks   [][]byte
	errors   []string
	statuses []int
	failAt   int // WriteChunk fails on this call number when > 0
	onChunk  func(n int)
}

func (s *recordingSink) WriteChunk(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.chunks)+1 == s.failAt {
		return errors.New("broken pipe")
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	if s.onChunk != nil {
		s.onChunk(len(s.chunks))
	}
	return nil
}

func (s *recordingSink) WriteError(status int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.errors = append(s.errors, message)
	return nil
}

func (s *recordingSink) joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, c := range s.chunks {
		b.Write(c)
	}
	return b.String()
}

// trackingBody records Close so tests can assert the upstream was released.
type trackingBody struct {
	io.Reader
	closed chan struct{}
	once   sync.Once
}

func newTrackingBody(r io.Reader) *trackingBody {
	return &trackingBody{Reader: r, closed: make(chan struct{})}
}

func (b *trackingBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestRun_PassesBytesInOrder(t *testing.T) {
	var in strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&in, "data: {\"i\":%d}\n\n", i)
	}
	body := newTrackingBody(strings.NewReader(in.String()))
	sink := &recordingSink{}

	var counted int
	stats, err := Run(context.Background(), body, sink, Options{Provider: "Perplexity", ChunkSize: 64, OnChunk: func(n int) { counted += n }})
	require.NoError(t, err)

	assert.Equal(t, in.String(), sink.joined())
	assert.Equal(t, int64(in.Len()), stats.Bytes)
	assert.Equal(t, in.Len(), counted)
	assert.Greater(t, stats.Chunks, 1)
	assert.Empty(t, sink.errors)

	select {
	case <-body.closed:
	default:
		t.Fatal("upstream body was not closed")
	}
}

func TestRun_MidStreamErrorEmitsOneTerminalEvent(t *testing.T) {
	r := io.MultiReader(strings.NewReader("data: a\n\ndata: b\n\n"), iotestErrReader{errors.New("connection reset by peer")})
	sink := &recordingSink{}

	_, err := Run(context.Background(), io.NopCloser(r), sink, Options{Provider: "Perplexity"})
	require.Error(t, err)

	assert.Equal(t, "data: a\n\ndata: b\n\n", sink.joined(), "delivered chunks are kept")
	require.Len(t, sink.errors, 1)
	assert.Equal(t, "Perplexity stream interrupted", sink.errors[0])
	assert.Equal(t, http.StatusBadGateway, sink.statuses[0])
	assert.NotContains(t, sink.errors[0], "connection reset")
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestRun_IdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go pw.Write([]byte("data: first\n\n"))

	body := newTrackingBody(pr)
	sink := &recordingSink{}

	start := time.Now()
	_, err := Run(context.Background(), body, sink, Options{Provider: "Perplexity", IdleTimeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrIdle)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, "data: first\n\n", sink.joined())
	require.Len(t, sink.errors, 1)
	assert.Equal(t, http.StatusGatewayTimeout, sink.statuses[0])
}

func TestRun_ContextCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	body := newTrackingBody(pr)
	sink := &recordingSink{}

	go func() {
		pw.Write([]byte("data: 1\n\n"))
		cancel()
	}()

	_, err := Run(ctx, body, sink, Options{})
	require.ErrorIs(t, err, ErrClientGone)
	assert.Empty(t, sink.errors, "no error event is sent to a departed client")

	select {
	case <-body.closed:
	case <-time.After(time.Second):
		t.Fatal("upstream body not closed after cancel")
	}
}

// A client that disconnects after 3 of 10 chunks must cause the upstream
// connection to be closed promptly.
func TestRun_ClientDisconnectClosesUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})
	var sent int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			fmt.Fprintf(w, "data: {\"chunk\":%d}\n\n", i)
			flusher.Flush()
			sent++
		}
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	sink := &recordingSink{failAt: 4}
	_, err = Run(context.Background(), resp.Body, sink, Options{Provider: "Perplexity"})
	require.ErrorIs(t, err, ErrClientGone)
	assert.Len(t, sink.chunks, 3)

	select {
	case <-upstreamDone:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream handler still running after client disconnect")
	}
	assert.Less(t, sent, 10, "upstream should stop before producing every chunk")
}

func TestFail_UsesClassifiedStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{upstream.Timeout("Perplexity", nil), http.StatusGatewayTimeout, "Request to Perplexity API timed out"},
		{upstream.Status("Perplexity", 401), http.StatusBadGateway, "Perplexity API error: status 401"},
		{upstream.StreamingUnsupported("GitHub Copilot"), http.StatusBadRequest, "GitHub Copilot does not support streaming"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		sink := &recordingSink{}
		require.NoError(t, Fail(sink, tt.err))
		require.Len(t, sink.errors, 1)
		assert.Equal(t, tt.status, sink.statuses[0])
		assert.Equal(t, tt.msg, sink.errors[0])
	}
}
