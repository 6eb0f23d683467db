package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/registry"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/session"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

const healthProbeTimeout = 5 * time.Second

// Sessions opens synthesis sessions.
type Sessions interface {
	Open(ctx context.Context, req *schema.SynthesisRequest, source schema.VoiceSource) (*session.Stream, error)
	Synthesize(ctx context.Context, req *schema.SynthesisRequest, source schema.VoiceSource) (engine.AudioChunk, error)
}

// Voices is the voice registry as seen by the HTTP layer.
type Voices interface {
	Register(ctx context.Context, name string, locators []string) (registry.Voice, error)
	List() []registry.Voice
	Len() int
}

// Batch admits batch synthesis onto the worker pool.
type Batch interface {
	Submit(ctx context.Context, fn func(context.Context) error) error
}

// HealthChecker probes the engine.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	cfg      *config.Config
	sessions Sessions
	voices   Voices
	batch    Batch
	engine   HealthChecker
	limiter  *streaming.Limiter
	metrics  *streaming.Metrics
	logger   zerolog.Logger
	started  time.Time
}

// NewHandler constructs a Handler from deps.
func NewHandler(deps Dependencies) *Handler {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = streaming.NewLimiter(streaming.LimiterConfig{
			MaxConcurrent:  deps.Config.Limits.MaxConcurrentStreams,
			AcquireTimeout: deps.Config.Limits.AcquireTimeout,
			Metrics:        deps.Metrics,
		})
	}
	return &Handler{
		cfg:      deps.Config,
		sessions: deps.Sessions,
		voices:   deps.Voices,
		batch:    deps.Batch,
		engine:   deps.Engine,
		limiter:  limiter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		started:  time.Now(),
	}
}

// HandleHealth reports liveness; ?detailed=true adds an engine probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := schema.HealthResponse{Status: "ok"}

	if detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed")); detailed {
		voices := h.voices.Len()
		uptime := time.Since(h.started)
		resp.Voices = &voices
		resp.Uptime = &uptime
		resp.Engine = h.probeEngine(r.Context())
		if resp.Engine.Status != "ok" {
			resp.Status = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) probeEngine(ctx context.Context) *schema.EngineHealth {
	out := &schema.EngineHealth{Kind: h.cfg.Engine.Kind, Status: "ok"}
	if h.engine == nil {
		out.Status = "unknown"
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	err := h.engine.Health(ctx)
	out.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Status = "unhealthy"
		out.Error = err.Error()
	}
	return out
}

// HandleListVoices lists registered voices.
func (h *Handler) HandleListVoices(w http.ResponseWriter, r *http.Request) {
	voices := h.voices.List()
	resp := schema.ListVoicesResponse{Voices: make([]schema.VoiceInfo, 0, len(voices))}
	for _, v := range voices {
		resp.Voices = append(resp.Voices, voiceInfo(v))
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleRegisterVoice registers or replaces a voice.
func (h *Handler) HandleRegisterVoice(w http.ResponseWriter, r *http.Request) {
	var req schema.RegisterVoiceRequest
	if err := ParseRequestBody(w, r, &req); err != nil {
		WriteFailure(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		WriteFailure(w, err)
		return
	}

	v, err := h.voices.Register(r.Context(), req.Name, req.AudioPaths)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("voice", req.Name).Msg("voice registration failed")
		WriteFailure(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, voiceInfo(v))
}

func voiceInfo(v registry.Voice) schema.VoiceInfo {
	return schema.VoiceInfo{
		Name:         v.Name,
		AudioPaths:   v.Locators,
		EngineSynced: v.EngineSynced,
		UpdatedAt:    v.UpdatedAt,
	}
}
