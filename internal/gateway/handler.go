// Package gateway holds the HTTP and WebSocket handlers of the bridge.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/af-corp/pplx-bridge/internal/audit"
	"github.com/af-corp/pplx-bridge/internal/auth"
	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/httputil"
	"github.com/af-corp/pplx-bridge/internal/project"
	"github.com/af-corp/pplx-bridge/internal/relay"
	"github.com/af-corp/pplx-bridge/internal/router"
	"github.com/af-corp/pplx-bridge/internal/router/adapters"
	"github.com/af-corp/pplx-bridge/internal/sandbox"
	"github.com/af-corp/pplx-bridge/internal/telemetry"
	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

const ServiceName = "pplx-bridge"

// Deps are the collaborators of a Handler. Sandbox and Files may be nil when
// the matching feature is disabled; Audit and Metrics may be nil.
type Deps struct {
	Config   *config.Config
	Registry *router.Registry
	Models   func() *config.ModelsConfig
	Sandbox  *sandbox.Sandbox
	Files    *project.Reader
	Audit    audit.Recorder
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Version  string
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	cfg      *config.Config
	registry *router.Registry
	models   func() *config.ModelsConfig
	sandbox  *sandbox.Sandbox
	files    *project.Reader
	audit    audit.Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	version  string
	upgrader websocket.Upgrader
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		cfg:      d.Config,
		registry: d.Registry,
		models:   d.Models,
		sandbox:  d.Sandbox,
		files:    d.Files,
		audit:    d.Audit,
		metrics:  d.Metrics,
		logger:   d.Logger,
		version:  d.Version,
	}
	if h.audit == nil {
		h.audit = audit.Nop{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.models == nil {
		h.models = func() *config.ModelsConfig { return &config.ModelsConfig{} }
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		// Callers authenticate with the shared secret, not cookies, so the
		// browser origin carries no authority.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return h
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFrom(r.Context())
	start := time.Now()

	body, ok := h.readBody(w, r, reqID)
	if !ok {
		return
	}
	req, err := types.DecodeChatRequest(body)
	if err != nil {
		h.writeDecodeError(w, reqID, err)
		return
	}

	provider, tag, err := h.registry.Resolve(req.Model)
	if err != nil {
		h.writeUpstreamError(w, r, "http", tag, err, start)
		return
	}

	if req.Stream {
		h.streamSSE(w, r, req, provider, tag, start)
		return
	}

	resp, err := provider.Complete(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, r, "http", tag, err, start)
		return
	}

	duration := time.Since(start)
	h.logger.Info("request completed",
		"request_id", reqID,
		"model", req.Model,
		"provider", string(tag),
		"status", http.StatusOK,
		"stream", false,
		"duration_ms", duration.Milliseconds(),
	)
	h.recordRequest("http", tag, http.StatusOK, duration)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request, req *types.ChatRequest, provider adapters.Provider, tag router.ProviderTag, start time.Time) {
	reqID := httputil.RequestIDFrom(r.Context())
	sink := relay.NewSSESink(w, reqID, h.cfg.Server.StreamWriteTimeout)

	body, err := provider.Stream(r.Context(), req)
	if err != nil {
		ue := upstream.AsError(err)
		h.logUpstreamError(reqID, tag, ue)
		h.metrics.RecordUpstreamError(string(tag), ue.Kind.String())
		relay.Fail(sink, ue)
		h.recordRequest("sse", tag, ue.Kind.HTTPStatus(), time.Since(start))
		return
	}

	stats, err := relay.Run(r.Context(), body, sink, relay.Options{
		Provider:    provider.DisplayName(),
		IdleTimeout: h.cfg.Routing.StreamChunkTimeout,
		OnChunk:     func(n int) { h.metrics.RecordChunk("sse", string(tag), n) },
	})
	h.finishStream(reqID, "sse", req.Model, tag, stats, err, start)
}

// finishStream logs and counts a relayed stream. Delivered chunks already
// committed a 200, so the status label reflects how the stream ended.
func (h *Handler) finishStream(reqID, transport, model string, tag router.ProviderTag, stats relay.Stats, err error, start time.Time) {
	duration := time.Since(start)
	status := http.StatusOK
	level := slog.LevelInfo
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrClientGone):
		status = upstream.StatusClientClosed
	case errors.Is(err, relay.ErrIdle):
		status = http.StatusGatewayTimeout
		level = slog.LevelWarn
		h.metrics.RecordUpstreamError(string(tag), upstream.KindTimeout.String())
	default:
		status = http.StatusBadGateway
		level = slog.LevelWarn
		h.metrics.RecordUpstreamError(string(tag), upstream.KindConnection.String())
	}
	attrs := []any{
		"request_id", reqID,
		"transport", transport,
		"model", model,
		"provider", string(tag),
		"status", status,
		"chunks", stats.Chunks,
		"bytes", stats.Bytes,
		"duration_ms", duration.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	h.logger.Log(context.Background(), level, "stream finished", attrs...)
	h.recordRequest(transport, tag, status, duration)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	providers := h.registry.Status()
	status := "healthy"
	for _, p := range providers {
		if p.Configured && p.Circuit == router.StateOpen.String() {
			status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Service:   ServiceName,
		Version:   h.version,
		Providers: providers,
	})
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Version   string                  `json:"version,omitempty"`
	Providers []router.ProviderStatus `json:"providers"`
}

// readBody enforces the body limit and writes 413 or 400 on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, reqID string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodyBytes))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httputil.WriteTooLargeError(w, reqID, "Request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return nil, false
	}
	httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
	return nil, false
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, reqID string, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteValidationError(w, reqID, verr)
	case errors.Is(err, types.ErrMalformedJSON):
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON format")
	default:
		h.logger.Error("decode chat request", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal server error")
	}
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, transport string, tag router.ProviderTag, err error, start time.Time) {
	reqID := httputil.RequestIDFrom(r.Context())
	ue := upstream.AsError(err)
	h.logUpstreamError(reqID, tag, ue)
	h.metrics.RecordUpstreamError(string(tag), ue.Kind.String())
	h.recordRequest(transport, tag, ue.Kind.HTTPStatus(), time.Since(start))
	if ue.Kind == upstream.KindCanceled {
		return
	}
	httputil.WriteUpstreamError(w, reqID, ue)
}

func (h *Handler) logUpstreamError(reqID string, tag router.ProviderTag, ue *upstream.Error) {
	attrs := []any{
		"request_id", reqID,
		"provider", string(tag),
		"kind", ue.Kind.String(),
		"status", ue.Kind.HTTPStatus(),
		"error", ue,
	}
	switch ue.Kind {
	case upstream.KindCanceled:
		h.logger.Info("client went away", attrs...)
	case upstream.KindUnexpected:
		h.logger.Error("request failed", attrs...)
	default:
		h.logger.Warn("upstream request failed", attrs...)
	}
}

func (h *Handler) recordRequest(transport string, tag router.ProviderTag, status int, duration time.Duration) {
	h.metrics.RecordRequest(telemetry.RequestLabels{
		Transport:  transport,
		Provider:   string(tag),
		Status:     strconv.Itoa(status),
		DurationMs: float64(duration.Milliseconds()),
	})
}

// clientOf identifies the caller for logs and audit entries.
func clientOf(r *http.Request) string {
	if info, ok := auth.AuthFromContext(r.Context()); ok && info.Client != "" {
		return info.Client
	}
	return httputil.ClientIP(r)
}
