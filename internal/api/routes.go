package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

// Dependencies are the collaborators the HTTP layer drives.
type Dependencies struct {
	Config   *config.Config
	Sessions Sessions
	Voices   Voices
	Batch    Batch
	Engine   HealthChecker
	Limiter  *streaming.Limiter
	Metrics  *streaming.Metrics
	Logger   zerolog.Logger
	// Context bounds background work such as rate limiter cleanup.
	Context context.Context
}

// NewRouter constructs the HTTP router with middleware and routes.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(CORSMiddleware)

	r.Handle("/metrics", streaming.MetricsHandler(deps.Metrics))

	r.Group(func(r chi.Router) {
		if cfg.Auth.APIKey != "" {
			r.Use(AuthMiddleware(cfg.Auth.APIKey))
		}
		if cfg.Limits.RequestsPerSecond > 0 {
			r.Use(RateLimitMiddleware(deps.Context, cfg.Limits.RequestsPerSecond, cfg.Limits.Burst))
		}

		h := NewHandler(deps)

		r.Get("/v1/health", h.HandleHealth)
		r.Post("/v1/health", h.HandleHealth)

		r.Post("/tts", h.HandleTTS)
		r.Post("/tts_url", h.HandleTTSURL)
		r.Post("/tts_live_stream", h.HandleLiveStream)

		r.Get("/v1/voices", h.HandleListVoices)
		r.Post("/v1/voices", h.HandleRegisterVoice)
	})

	return r
}
