package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

// callN sends n completions through a freshly resolved provider each time.
func callN(t *testing.T, r *Registry, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p, _, err := r.Resolve("sonar")
		require.NoError(t, err, "call %d", i)
		_, _ = p.Complete(context.Background(), &types.ChatRequest{})
	}
}

func TestCircuit_CountsProviderSideFailures(t *testing.T) {
	const threshold = 3
	tests := []struct {
		name  string
		err   error
		trips bool
	}{
		{"bad gateway", upstream.Status("PERPLEXITY", 502), true},
		{"internal error", upstream.Status("PERPLEXITY", 500), true},
		{"timeout", upstream.Timeout("PERPLEXITY", context.DeadlineExceeded), true},
		{"connection refused", upstream.Connection("PERPLEXITY", errors.New("dial tcp: refused")), true},
		{"not found", upstream.Status("PERPLEXITY", 404), false},
		{"unauthorized", upstream.Status("PERPLEXITY", 401), false},
		{"too many requests", upstream.Status("PERPLEXITY", 429), false},
		{"reported in body", upstream.Reported("PERPLEXITY", "bad model"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(threshold, &fakeAdapter{name: "perplexity", configured: true, err: tt.err})

			callN(t, r, threshold-1)
			assert.Equal(t, StateClosed, r.health.State("perplexity"), "below threshold")

			callN(t, r, 1)
			if !tt.trips {
				assert.Equal(t, StateClosed, r.health.State("perplexity"))
				return
			}
			assert.Equal(t, StateOpen, r.health.State("perplexity"))
			_, _, err := r.Resolve("sonar")
			assert.Equal(t, upstream.KindUnavailable, upstream.AsError(err).Kind)
		})
	}
}

func TestCircuit_ClientErrorsBetweenFailuresDoNotReset(t *testing.T) {
	a := &fakeAdapter{name: "perplexity", configured: true}
	r := newTestRegistry(2, a)

	a.err = upstream.Status("PERPLEXITY", 503)
	callN(t, r, 1)
	a.err = upstream.Status("PERPLEXITY", 400)
	callN(t, r, 3)
	assert.Equal(t, StateClosed, r.health.State("perplexity"))

	a.err = upstream.Timeout("PERPLEXITY", context.DeadlineExceeded)
	callN(t, r, 1)
	assert.Equal(t, StateOpen, r.health.State("perplexity"))
}

func TestCircuit_ProbeAfterInterval(t *testing.T) {
	a := &fakeAdapter{name: "perplexity", configured: true, err: upstream.Status("PERPLEXITY", 502)}
	r := NewRegistry(DefaultRules, NewHealthTracker(1, 20*time.Millisecond))
	r.Register(TagPerplexity, a)

	callN(t, r, 1)
	_, _, err := r.Resolve("sonar")
	require.Error(t, err, "open circuit must fail fast")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, r.health.State("perplexity"))

	// A failed probe reopens immediately.
	callN(t, r, 1)
	assert.Equal(t, StateOpen, r.health.State("perplexity"))

	time.Sleep(30 * time.Millisecond)
	a.err = nil
	callN(t, r, 1)
	assert.Equal(t, StateClosed, r.health.State("perplexity"))
	assert.True(t, r.health.IsAvailable("perplexity"))
}

func TestCircuit_DisabledWithZeroThreshold(t *testing.T) {
	r := newTestRegistry(0, &fakeAdapter{name: "perplexity", configured: true, err: upstream.Status("PERPLEXITY", 500)})
	callN(t, r, 10)
	assert.Equal(t, StateClosed, r.health.State("perplexity"))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(7).String())
}
