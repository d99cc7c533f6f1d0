package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/router/adapters"
	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

// Registry maps provider tags to adapters and resolves models to them.
type Registry struct {
	rules  Rules
	health *HealthTracker

	mu       sync.RWMutex
	adapters map[ProviderTag]adapters.Provider
}

func NewRegistry(rules Rules, health *HealthTracker) *Registry {
	return &Registry{
		rules:    rules,
		health:   health,
		adapters: make(map[ProviderTag]adapters.Provider),
	}
}

func (r *Registry) Register(tag ProviderTag, adapter adapters.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tag] = adapter
}

func (r *Registry) Get(tag ProviderTag) (adapters.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tag]
	return a, ok
}

func (r *Registry) Rules() Rules { return r.rules }

// BuildFromConfig builds one adapter per entry in providers.yaml.
func BuildFromConfig(cfg *config.Config, provCfg *config.ProvidersConfig) (*Registry, error) {
	cb := cfg.Routing.CircuitBreaker
	rules := Rules{
		Prefix:    cfg.Routing.SecondaryPrefix,
		Primary:   ProviderTag(cfg.Routing.DefaultProvider),
		Secondary: ProviderTag(cfg.Routing.SecondaryProvider),
	}
	registry := NewRegistry(rules, NewHealthTracker(cb.FailureThreshold, cb.RecoveryProbeInterval))

	for name, pc := range provCfg.Providers {
		var adapter adapters.Provider
		switch pc.Type {
		case "perplexity":
			adapter = adapters.NewPerplexityAdapter(pc)
		case "copilot":
			adapter = adapters.NewCopilotAdapter(pc)
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", name, pc.Type)
		}
		registry.Register(ProviderTag(name), adapter)
		if !adapter.Configured() {
			slog.Warn("provider has no API key; requests routed to it will be rejected", "provider", name)
		}
	}

	for _, tag := range []ProviderTag{rules.Primary, rules.Secondary} {
		if _, ok := registry.Get(tag); !ok {
			slog.Warn("routing target missing from providers config", "provider", tag)
		}
	}
	return registry, nil
}

// Resolve picks the adapter for model. The returned provider reports call
// outcomes to the health tracker.
func (r *Registry) Resolve(model string) (adapters.Provider, ProviderTag, error) {
	tag := r.rules.Route(model)
	adapter, ok := r.Get(tag)
	if !ok {
		return nil, tag, upstream.NotConfigured(string(tag))
	}
	if !adapter.Configured() {
		return nil, tag, upstream.NotConfigured(adapter.DisplayName())
	}
	if r.health != nil && !r.health.IsAvailable(string(tag)) {
		return nil, tag, upstream.Unavailable(adapter.DisplayName())
	}
	return &trackedProvider{Provider: adapter, tag: string(tag), health: r.health}, tag, nil
}

// ProviderStatus is the per-provider entry of the health report.
type ProviderStatus struct {
	Name       string `json:"name"`
	Display    string `json:"display_name"`
	Configured bool   `json:"configured"`
	Streaming  bool   `json:"streaming"`
	Circuit    string `json:"circuit"`
}

func (r *Registry) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(r.adapters))
	for tag, a := range r.adapters {
		circuit := StateClosed.String()
		if r.health != nil {
			circuit = r.health.State(string(tag)).String()
		}
		out = append(out, ProviderStatus{
			Name:       string(tag),
			Display:    a.DisplayName(),
			Configured: a.Configured(),
			Streaming:  a.SupportsStreaming(),
			Circuit:    circuit,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type trackedProvider struct {
	adapters.Provider
	tag    string
	health *HealthTracker
}

func (t *trackedProvider) Complete(ctx context.Context, req *types.ChatRequest) (*types.UpstreamResponse, error) {
	resp, err := t.Provider.Complete(ctx, req)
	t.record(err)
	return resp, err
}

func (t *trackedProvider) Stream(ctx context.Context, req *types.ChatRequest) (io.ReadCloser, error) {
	body, err := t.Provider.Stream(ctx, req)
	t.record(err)
	return body, err
}

// record counts provider-side failures only. Client cancellations and
// request-shape errors leave the breaker alone.
func (t *trackedProvider) record(err error) {
	if t.health == nil {
		return
	}
	if err == nil {
		t.health.RecordSuccess(t.tag)
		return
	}
	ue := upstream.AsError(err)
	switch ue.Kind {
	case upstream.KindTimeout, upstream.KindConnection,
		upstream.KindMalformedResponse, upstream.KindMissingChoices, upstream.KindMalformedChoice:
		t.health.RecordFailure(t.tag)
	case upstream.KindStatus:
		if ue.Status >= 500 {
			t.health.RecordFailure(t.tag)
		}
	}
}
