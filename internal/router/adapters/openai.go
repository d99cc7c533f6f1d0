package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorBodyLog  = 4 << 10
)

// OpenAICompatible talks to any upstream that speaks the OpenAI
// chat-completions wire format. Provider-specific adapters embed it.
type OpenAICompatible struct {
	name         string
	cfg          config.ProviderConfig
	client       *http.Client
	streamClient *http.Client
	extraBody    map[string]any
}

// NewOpenAICompatible builds an adapter with separate clients for buffered
// and streaming calls. The buffered client enforces cfg.Timeout end to end;
// the streaming client only bounds the wait for response headers, leaving
// stalls mid-stream to the relay.
func NewOpenAICompatible(name string, cfg config.ProviderConfig) *OpenAICompatible {
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat/completions"
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxConcurrent,
		MaxIdleConnsPerHost: cfg.MaxConcurrent,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = cfg.StreamTimeout

	extra := make(map[string]any, len(cfg.ExtraBody))
	for k, v := range cfg.ExtraBody {
		extra[k] = v
	}

	return &OpenAICompatible{
		name:         name,
		cfg:          cfg,
		client:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: streamTransport},
		extraBody:    extra,
	}
}

func (a *OpenAICompatible) Name() string { return a.name }

func (a *OpenAICompatible) DisplayName() string { return a.cfg.DisplayName }

func (a *OpenAICompatible) Configured() bool { return a.cfg.APIKey != "" && a.cfg.BaseURL != "" }

func (a *OpenAICompatible) SupportsStreaming() bool { return a.cfg.SupportsStreaming }

func (a *OpenAICompatible) Complete(ctx context.Context, req *types.ChatRequest) (*types.UpstreamResponse, error) {
	if !a.Configured() {
		return nil, upstream.NotConfigured(a.DisplayName())
	}

	httpReq, err := a.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, upstream.Classify(ctx, a.DisplayName(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, upstream.Classify(ctx, a.DisplayName(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, a.statusError(resp.StatusCode, body)
	}

	return upstream.Normalize(a.DisplayName(), body)
}

func (a *OpenAICompatible) Stream(ctx context.Context, req *types.ChatRequest) (io.ReadCloser, error) {
	if !a.Configured() {
		return nil, upstream.NotConfigured(a.DisplayName())
	}
	if !a.SupportsStreaming() {
		return nil, upstream.StreamingUnsupported(a.DisplayName())
	}

	httpReq, err := a.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, upstream.Classify(ctx, a.DisplayName(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLog))
		resp.Body.Close()
		return nil, a.statusError(resp.StatusCode, body)
	}

	return resp.Body, nil
}

func (a *OpenAICompatible) statusError(status int, body []byte) error {
	slog.Warn("provider returned error status",
		"provider", a.name,
		"status", status,
		"detail", upstream.ExtractErrorDetail(body),
	)
	return upstream.Status(a.DisplayName(), status)
}

func (a *OpenAICompatible) newRequest(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Request, error) {
	data, err := json.Marshal(a.buildBody(req, stream))
	if err != nil {
		return nil, &upstream.Error{Kind: upstream.KindUnexpected, Provider: a.DisplayName(), Message: "Internal server error", Err: fmt.Errorf("marshal %s request: %w", a.name, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint(), bytes.NewReader(data))
	if err != nil {
		return nil, &upstream.Error{Kind: upstream.KindUnexpected, Provider: a.DisplayName(), Message: "Internal server error", Err: fmt.Errorf("create http request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

func (a *OpenAICompatible) buildBody(req *types.ChatRequest, stream bool) map[string]any {
	body := map[string]any{
		"model":             req.Model,
		"messages":          req.Messages,
		"stream":            stream,
		"max_tokens":        req.MaxTokens,
		"temperature":       req.Temperature,
		"frequency_penalty": req.FrequencyPenalty,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	for k, v := range a.extraBody {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}
	return body
}
