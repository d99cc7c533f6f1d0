package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/router"
	"github.com/af-corp/pplx-bridge/internal/telemetry"
	"github.com/af-corp/pplx-bridge/internal/types"
	"github.com/af-corp/pplx-bridge/internal/upstream"
)

// fakeProvider implements adapters.Provider with canned replies.
type fakeProvider struct {
	name      string
	display   string
	streaming bool
	complete  func(req *types.ChatRequest) (*types.UpstreamResponse, error)
	stream    func(ctx context.Context, req *types.ChatRequest) (io.ReadCloser, error)
	lastReq   *types.ChatRequest
}

func (f *fakeProvider) Name() string            { return f.name }
func (f *fakeProvider) DisplayName() string     { return f.display }
func (f *fakeProvider) Configured() bool        { return true }
func (f *fakeProvider) SupportsStreaming() bool { return f.streaming }

func (f *fakeProvider) Complete(_ context.Context, req *types.ChatRequest) (*types.UpstreamResponse, error) {
	f.lastReq = req
	if f.complete == nil {
		return nil, errors.New("unexpected call")
	}
	return f.complete(req)
}

func (f *fakeProvider) Stream(ctx context.Context, req *types.ChatRequest) (io.ReadCloser, error) {
	f.lastReq = req
	if f.stream == nil {
		return nil, upstream.StreamingUnsupported(f.display)
	}
	return f.stream(ctx, req)
}

func newFakeProvider(tag router.ProviderTag, display string) *fakeProvider {
	return &fakeProvider{name: string(tag), display: display, streaming: true}
}

type handlerOpts struct {
	metrics *telemetry.Metrics
	models  *config.ModelsConfig
}

func newTestHandler(t *testing.T, opts handlerOpts, providers ...*fakeProvider) *Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = "test-secret"
	cfg.Server.MaxBodyBytes = 4 << 10
	cfg.Routing.StreamChunkTimeout = 2 * time.Second

	reg := router.NewRegistry(router.DefaultRules, nil)
	for _, p := range providers {
		reg.Register(router.ProviderTag(p.name), p)
	}
	models := opts.models
	if models == nil {
		models = &config.ModelsConfig{}
	}
	return NewHandler(Deps{
		Config:   cfg,
		Registry: reg,
		Models:   func() *config.ModelsConfig { return models },
		Metrics:  opts.metrics,
		Version:  "test",
	})
}

func chatBody(model string, stream bool) string {
	req := map[string]any{
		"model":    model,
		"stream":   stream,
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}
	data, _ := json.Marshal(req)
	return string(data)
}

func postChat(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ChatCompletions(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Message string             `json:"message"`
		Type    string             `json:"type"`
		Code    string             `json:"code"`
		Fields  []types.FieldError `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestChatCompletions_ContentRoundTrip(t *testing.T) {
	pplx := newFakeProvider(router.TagPerplexity, "Perplexity")
	pplx.complete = func(*types.ChatRequest) (*types.UpstreamResponse, error) {
		return upstream.Normalize("Perplexity", []byte(`{
			"id": "resp-1",
			"model": "sonar",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there ünïcode"}, "finish_reason": "stop"}],
			"citations": ["https://example.com"]
		}`))
	}
	h := newTestHandler(t, handlerOpts{}, pplx, newFakeProvider(router.TagCopilot, "Copilot"))

	rec := postChat(h, chatBody("sonar", false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp types.UpstreamResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi there ünïcode", resp.Choices[0].Message.Content)
	assert.JSONEq(t, `["https://example.com"]`, string(resp.Citations))

	require.NotNil(t, pplx.lastReq)
	assert.Equal(t, 1024, pplx.lastReq.MaxTokens)
}

func TestChatCompletions_RoutesByPrefix(t *testing.T) {
	ok := func(*types.ChatRequest) (*types.UpstreamResponse, error) {
		return upstream.Normalize("x", []byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}
	pplx := newFakeProvider(router.TagPerplexity, "Perplexity")
	pplx.complete = ok
	copilot := newFakeProvider(router.TagCopilot, "Copilot")
	copilot.complete = ok
	h := newTestHandler(t, handlerOpts{}, pplx, copilot)

	require.Equal(t, http.StatusOK, postChat(h, chatBody("copilot-gpt-4", false)).Code)
	assert.NotNil(t, copilot.lastReq)
	assert.Nil(t, pplx.lastReq)

	require.Equal(t, http.StatusOK, postChat(h, chatBody("gpt-4-copilot", false)).Code)
	assert.NotNil(t, pplx.lastReq)
}

func TestChatCompletions_RequestErrors(t *testing.T) {
	h := newTestHandler(t, handlerOpts{}, newFakeProvider(router.TagPerplexity, "Perplexity"))

	t.Run("malformed json", func(t *testing.T) {
		rec := postChat(h, `{"model":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON format", decodeError(t, rec).Error.Message)
	})

	t.Run("not an object", func(t *testing.T) {
		rec := postChat(h, `[]`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("field validation", func(t *testing.T) {
		rec := postChat(h, `{"model":"sonar","messages":[{"role":"robot","content":"hi"}],"max_tokens":0}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env := decodeError(t, rec)
		assert.Equal(t, "validation_failed", env.Error.Code)

		fields := map[string]bool{}
		for _, f := range env.Error.Fields {
			fields[f.Field] = true
		}
		assert.True(t, fields["messages[0].role"], env.Error.Fields)
		assert.True(t, fields["max_tokens"], env.Error.Fields)
	})

	t.Run("body too large", func(t *testing.T) {
		big := `{"model":"sonar","messages":[{"role":"user","content":"` + strings.Repeat("a", 8<<10) + `"}]}`
		rec := postChat(h, big)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestChatCompletions_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        func() error
		wantStatus int
		wantCode   string
	}{
		{
			name: "empty choices",
			err: func() error {
				_, err := upstream.Normalize("Perplexity", []byte(`{"choices": []}`))
				return err
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_missing_choices",
		},
		{
			name:       "timeout",
			err:        func() error { return upstream.Timeout("Perplexity", context.DeadlineExceeded) },
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "upstream_timeout",
		},
		{
			name:       "status hides body",
			err:        func() error { return upstream.Status("Perplexity", http.StatusInternalServerError) },
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_status",
		},
		{
			name:       "not configured",
			err:        func() error { return upstream.NotConfigured("Perplexity") },
			wantStatus: http.StatusBadRequest,
			wantCode:   "not_configured",
		},
		{
			name:       "unexpected",
			err:        func() error { return errors.New("secret internal detail") },
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pplx := newFakeProvider(router.TagPerplexity, "Perplexity")
			pplx.complete = func(*types.ChatRequest) (*types.UpstreamResponse, error) { return nil, tt.err() }
			h := newTestHandler(t, handlerOpts{}, pplx)

			rec := postChat(h, chatBody("sonar", false))
			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.NotContains(t, rec.Body.String(), "secret internal detail")
		})
	}
}

func TestChatCompletions_UnregisteredProvider(t *testing.T) {
	h := newTestHandler(t, handlerOpts{}, newFakeProvider(router.TagPerplexity, "Perplexity"))

	rec := postChat(h, chatBody("copilot-gpt-4", false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not_configured", decodeError(t, rec).Error.Code)
}

func TestChatCompletions_RecordsUpstreamErrorMetric(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	pplx := newFakeProvider(router.TagPerplexity, "Perplexity")
	pplx.complete = func(*types.ChatRequest) (*types.UpstreamResponse, error) {
		return upstream.Normalize("Perplexity", []byte(`{"choices": []}`))
	}
	h := newTestHandler(t, handlerOpts{metrics: m}, pplx)

	postChat(h, chatBody("sonar", false))

	var metric dto.Metric
	require.NoError(t, m.UpstreamErrorTotal.WithLabelValues("perplexity", "missing_choices").Write(&metric))
	assert.Equal(t, 1.0, metric.GetCounter().GetValue())
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, handlerOpts{},
		newFakeProvider(router.TagPerplexity, "Perplexity"),
		newFakeProvider(router.TagCopilot, "Copilot"),
	)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, ServiceName, body.Service)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "copilot", body.Providers[0].Name)
	assert.Equal(t, "Perplexity", body.Providers[1].Display)
}

func TestModels(t *testing.T) {
	models := &config.ModelsConfig{Models: []config.ModelEntry{
		{ID: "sonar", Name: "Sonar", Provider: "perplexity", Category: "search"},
		{ID: "copilot-gpt-4", Name: "GPT-4"},
	}}
	h := newTestHandler(t, handlerOpts{models: models})

	t.Run("catalog", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Models(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body catalogResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, models.Models, body.Models)
	})

	t.Run("openai list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListModels(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body modelListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "list", body.Object)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "perplexity", body.Data[0].OwnedBy)
		assert.Equal(t, "copilot", body.Data[1].OwnedBy)
	})

	t.Run("empty catalog", func(t *testing.T) {
		empty := newTestHandler(t, handlerOpts{})
		rec := httptest.NewRecorder()
		empty.Models(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
		assert.JSONEq(t, `{"models":[]}`, rec.Body.String())
	})
}
