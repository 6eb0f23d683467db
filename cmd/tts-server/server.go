package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/index-tts-go/index-tts-go/internal/api"
	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/queue"
	"github.com/index-tts-go/index-tts-go/internal/registry"
	"github.com/index-tts-go/index-tts-go/internal/resolver"
	"github.com/index-tts-go/index-tts-go/internal/session"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
	"github.com/index-tts-go/index-tts-go/internal/telemetry"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("engine", cfg.Engine.Kind).
		Str("engine_url", cfg.Engine.URL).
		Str("log_level", cfg.Logging.Level).
		Msg("Starting TTS server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("Trace flush failed")
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        cfg.Server.Listen,
		Handler:     a.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: handlers set their own write deadlines.
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		a.close(context.Background())
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	a.close(shutdownCtx)

	logger.Info().Msg("Server stopped")
	return nil
}

// app is the wired service.
type app struct {
	router  http.Handler
	voices  *registry.Registry
	batch   *queue.Manager
	store   *registry.SQLiteStore
	metrics *streaming.Metrics
	logger  zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := streaming.NewMetrics()
	res := resolver.New(cfg.Resolver, logger, resolver.WithRecorder(metrics))

	opts := []registry.Option{registry.WithRegistrar(eng)}
	var store *registry.SQLiteStore
	if cfg.Voices.StorePath != "" {
		store, err = registry.OpenSQLiteStore(ctx, cfg.Voices.StorePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, registry.WithStore(store))
	}
	voices := registry.New(res, logger, opts...)

	if err := loadVoices(ctx, cfg, voices, logger); err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	sessions := session.NewController(eng, voices, res, logger,
		session.WithMaxTextLength(cfg.Limits.MaxTextLength),
		session.WithRecorder(metrics),
	)

	batch := queue.NewManager(queue.Config{
		Workers:  cfg.Limits.BatchWorkers,
		MaxQueue: cfg.Limits.BatchQueue,
		Logger:   logger,
	})

	limiter := streaming.NewLimiter(streaming.LimiterConfig{
		MaxConcurrent:  cfg.Limits.MaxConcurrentStreams,
		AcquireTimeout: cfg.Limits.AcquireTimeout,
		Metrics:        metrics,
	})

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Sessions: sessions,
		Voices:   voices,
		Batch:    batch,
		Engine:   eng,
		Limiter:  limiter,
		Metrics:  metrics,
		Logger:   logger,
		Context:  ctx,
	})

	return &app{
		router:  router,
		voices:  voices,
		batch:   batch,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.batch.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Batch queue did not drain")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Closing voice store failed")
		}
	}
}

func newEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case config.EngineKindTone:
		logger.Warn().Msg("Using the tone engine; output is synthetic test audio")
		return engine.NewToneEngine(engine.ToneConfig{SampleRate: cfg.Engine.SampleRate}), nil
	case config.EngineKindBackend:
		client := engine.NewBackendClient(&cfg.Engine)

		initCtx, cancel := context.WithTimeout(ctx, cfg.Engine.Timeout)
		defer cancel()
		if err := client.Init(initCtx); err != nil {
			logger.Warn().Err(err).Msg("Engine init failed - server will start but TTS may not work")
		} else {
			logger.Info().Str("engine", cfg.Engine.URL).Msg("Engine connection verified")
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}

// loadVoices registers the voice table file, the inline table and stored
// voices. Entries that fail to resolve are skipped.
func loadVoices(ctx context.Context, cfg *config.Config, voices *registry.Registry, logger zerolog.Logger) error {
	fileTable, err := registry.LoadTable(cfg.Voices.File)
	if err != nil {
		return err
	}
	table := registry.MergeTables(fileTable, cfg.Voices.Table)

	n, err := voices.Load(ctx, table)
	if err != nil {
		logger.Warn().Err(err).Msg("Some voices from the table were skipped")
	}
	restored, err := voices.Restore(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Some stored voices were skipped")
	}
	logger.Info().
		Int("table", n).
		Int("restored", restored).
		Int("total", voices.Len()).
		Msg("Voices loaded")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
