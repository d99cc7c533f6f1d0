package router

import (
	"sync"
	"time"
)

// HealthTracker manages circuit breakers for all providers. A tracker with a
// non-positive failure threshold never opens a circuit.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
}

// NewHealthTracker creates a health tracker with the given circuit breaker config.
func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

func (ht *HealthTracker) enabled() bool { return ht.failureThreshold > 0 }

// GetBreaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) GetBreaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval)
	ht.breakers[provider] = cb
	return cb
}

// IsAvailable returns true if the provider's circuit breaker allows requests.
func (ht *HealthTracker) IsAvailable(provider string) bool {
	if !ht.enabled() {
		return true
	}
	return ht.GetBreaker(provider).Allow()
}

func (ht *HealthTracker) State(provider string) CircuitState {
	if !ht.enabled() {
		return StateClosed
	}
	return ht.GetBreaker(provider).State()
}

func (ht *HealthTracker) RecordSuccess(provider string) {
	if ht.enabled() {
		ht.GetBreaker(provider).RecordSuccess()
	}
}

func (ht *HealthTracker) RecordFailure(provider string) {
	if ht.enabled() {
		ht.GetBreaker(provider).RecordFailure()
	}
}
