package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/queue"
	"github.com/index-tts-go/index-tts-go/internal/registry"
	"github.com/index-tts-go/index-tts-go/internal/resolver"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/session"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

const (
	testSampleRate     = 16000
	testSamplesPerRune = 400
)

type fixture struct {
	router   http.Handler
	cfg      *config.Config
	registry *registry.Registry
	limiter  *streaming.Limiter
	metrics  *streaming.Metrics
	refPath  string
}

type fixtureOption func(*config.Config, *Dependencies)

func withEngine(eng engine.Engine) fixtureOption {
	return func(_ *config.Config, d *Dependencies) { d.Engine = eng }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	dir := t.TempDir()
	refPath := filepath.Join(dir, "alice.wav")
	require.NoError(t, os.WriteFile(refPath, []byte("RIFF0000WAVE"), 0o644))

	cfg := config.Default()
	cfg.Engine.Kind = config.EngineKindTone
	cfg.Resolver.TempDir = dir
	cfg.Limits.MaxTextLength = 100
	cfg.Limits.MaxConcurrentStreams = 2
	cfg.Limits.AcquireTimeout = 0

	tone := engine.NewToneEngine(engine.ToneConfig{
		SampleRate:     testSampleRate,
		ChunkSamples:   testSamplesPerRune,
		SamplesPerRune: testSamplesPerRune,
	})
	deps := Dependencies{Config: cfg, Engine: tone, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	eng := deps.Engine.(engine.Engine)

	res := resolver.New(cfg.Resolver, zerolog.Nop())
	reg := registry.New(res, zerolog.Nop(), registry.WithRegistrar(eng))
	_, err := reg.Register(context.Background(), "alice", []string{refPath})
	require.NoError(t, err)

	metrics := streaming.NewMetrics()
	limiter := streaming.NewLimiter(streaming.LimiterConfig{
		MaxConcurrent:  cfg.Limits.MaxConcurrentStreams,
		AcquireTimeout: cfg.Limits.AcquireTimeout,
		Metrics:        metrics,
	})
	batch := queue.NewManager(queue.Config{Workers: 2, MaxQueue: 4})
	t.Cleanup(func() { _ = batch.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	deps.Sessions = session.NewController(eng, reg, res, zerolog.Nop(),
		session.WithMaxTextLength(cfg.Limits.MaxTextLength),
		session.WithRecorder(metrics))
	deps.Voices = reg
	deps.Batch = batch
	deps.Limiter = limiter
	deps.Metrics = metrics
	deps.Context = ctx

	return &fixture{
		router:   NewRouter(deps),
		cfg:      cfg,
		registry: reg,
		limiter:  limiter,
		metrics:  metrics,
		refPath:  refPath,
	}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) schema.ErrorResponse {
	t.Helper()
	var resp schema.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Status)
	return resp
}

func TestHealthGet(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/v1/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "{\"status\":\"ok\"}\n", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHealthPost(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "{\"status\":\"ok\"}\n", rr.Body.String())
}

func TestHealthDetailed(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/v1/health?detailed=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp schema.HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Engine)
	assert.Equal(t, "tone", resp.Engine.Kind)
	assert.Equal(t, "ok", resp.Engine.Status)
	require.NotNil(t, resp.Voices)
	assert.Equal(t, 1, *resp.Voices)
}

type unhealthyEngine struct{ *engine.ToneEngine }

func (unhealthyEngine) Health(context.Context) error { return engine.ErrBackendUnavailable }

func TestHealthDetailedDegraded(t *testing.T) {
	f := newFixture(t, withEngine(unhealthyEngine{engine.NewToneEngine(engine.ToneConfig{})}))

	rr := f.do(http.MethodGet, "/v1/health?detailed=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp schema.HealthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Engine.Status)
	assert.NotEmpty(t, resp.Engine.Error)
}

func TestTTSReturnsWAV(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/tts", map[string]any{"text": "hi", "character": "alice"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "audio/wav", rr.Header().Get("Content-Type"))
	body := rr.Body.Bytes()
	require.Greater(t, len(body), 44)
	assert.Equal(t, "RIFF", string(body[:4]))
	assert.Equal(t, "WAVE", string(body[8:12]))
	assert.Contains(t, f.scrape(t), `tts_batch_requests_total{outcome="ok"} 1`)
}

func TestTTSErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"empty text", "/tts", map[string]any{"text": "  ", "character": "alice"}, http.StatusBadRequest},
		{"unknown voice", "/tts", map[string]any{"text": "hi", "character": "nobody"}, http.StatusNotFound},
		{"paths on character endpoint", "/tts", map[string]any{"text": "hi", "audio_paths": []string{"/a.wav"}}, http.StatusBadRequest},
		{"character on url endpoint", "/tts_url", map[string]any{"text": "hi", "character": "alice"}, http.StatusBadRequest},
		{"missing reference", "/tts_url", map[string]any{"text": "hi", "audio_paths": []string{"/definitely/missing.wav"}}, http.StatusNotFound},
		{"unsupported scheme", "/tts_url", map[string]any{"text": "hi", "audio_paths": []string{"ftp://host/a.wav"}}, http.StatusBadGateway},
		{"too long", "/tts_live_stream", map[string]any{"text": string(bytes.Repeat([]byte("a"), 101)), "character": "alice"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code)
			resp := decodeError(t, rr)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestTTSURLReturnsWAV(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/tts_url", map[string]any{"text": "hello", "audio_paths": []string{"file://" + f.refPath}})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "RIFF", rr.Body.String()[:4])
}

func TestParseRequestBodyEncodings(t *testing.T) {
	f := newFixture(t)

	raw, err := msgpack.Marshal(&schema.SynthesisRequest{Text: "hi", Character: "alice"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/tts", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/msgpack")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// no content type means JSON
	req = httptest.NewRequest(http.MethodPost, "/tts", bytes.NewBufferString(`{"text":"hi","character":"alice"}`))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/tts", bytes.NewBufferString("text=hi"))
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/tts", bytes.NewBufferString(`{"text":`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	big := append([]byte(`{"text":"`), bytes.Repeat([]byte("a"), int(maxRequestBodyBytes))...)
	req = httptest.NewRequest(http.MethodPost, "/tts", bytes.NewReader(big))
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestVoicesRegisterAndList(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/voices", map[string]any{"name": "bob", "audio_paths": []string{f.refPath}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var info schema.VoiceInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&info))
	assert.Equal(t, "bob", info.Name)
	assert.True(t, info.EngineSynced)

	rr = f.do(http.MethodGet, "/v1/voices", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list schema.ListVoicesResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list.Voices, 2)
	assert.Equal(t, "alice", list.Voices[0].Name)
	assert.Equal(t, "bob", list.Voices[1].Name)

	// the new voice is usable immediately
	rr = f.do(http.MethodPost, "/tts", map[string]any{"text": "hi", "character": "bob"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVoicesRegisterErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/voices", map[string]any{"name": "", "audio_paths": []string{f.refPath}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/v1/voices", map[string]any{"name": "carol", "audio_paths": []string{"/missing.wav"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1, f.registry.Len())
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Dependencies) { c.Auth.APIKey = "secret" })

	rr := f.do(http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// metrics stay open for scrapers
	rr = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Dependencies) {
		c.Limits.RequestsPerSecond = 0.001
		c.Limits.Burst = 1
	})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/health", nil).Code)
	rr := f.do(http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	decodeError(t, rr)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodOptions, "/tts_live_stream", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "X-Sample-Rate")
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	f := newFixture(t)

	f.do(http.MethodGet, "/v1/voices", nil)
	assert.Contains(t, f.scrape(t), `tts_http_requests_total{method="GET",route="/v1/voices",status="200"} 1`)
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rr := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}
