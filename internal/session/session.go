// Package session drives one synthesis request from validation through voice
// resolution to the engine, and hands audio back either as a pull stream or
// as a single collected chunk.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/registry"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

var tracer = otel.Tracer("github.com/index-tts-go/index-tts-go/internal/session")

// Session outcomes reported to the Recorder.
const (
	OutcomeComplete  = "complete"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// VoiceLookup finds registered voices.
type VoiceLookup interface {
	Lookup(name string) (registry.Voice, error)
}

// ReferenceResolver resolves inline audio locators.
type ReferenceResolver interface {
	ResolveAll(ctx context.Context, locators []string) ([]string, error)
}

// Recorder receives per-session measurements.
type Recorder interface {
	ObserveFirstChunk(d time.Duration)
	ObserveSession(outcome string)
}

// Controller opens synthesis sessions.
type Controller struct {
	engine        engine.Engine
	voices        VoiceLookup
	resolver      ReferenceResolver
	logger        zerolog.Logger
	recorder      Recorder
	maxTextLength int
	now           func() time.Time
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMaxTextLength caps request text in runes. Zero disables the cap.
func WithMaxTextLength(n int) Option {
	return func(c *Controller) { c.maxTextLength = n }
}

// WithRecorder reports session measurements to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Controller) { c.recorder = rec }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController wires a Controller.
func NewController(eng engine.Engine, voices VoiceLookup, resolver ReferenceResolver, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		engine:   eng,
		voices:   voices,
		resolver: resolver,
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// target is the resolved voice for one request. character is set only when
// the engine already knows the voice.
type target struct {
	name       string
	character  string
	references []string
}

func (c *Controller) target(ctx context.Context, req *schema.SynthesisRequest) (target, error) {
	if req.UsesCharacter() {
		name := strings.TrimSpace(req.Character)
		v, err := c.voices.Lookup(name)
		if err != nil {
			return target{}, err
		}
		t := target{name: v.Name, references: v.References}
		if v.EngineSynced {
			t.character = v.Name
		}
		return t, nil
	}

	refs, err := c.resolver.ResolveAll(ctx, req.AudioPaths)
	if err != nil {
		return target{}, err
	}
	return target{references: refs}, nil
}

// Open validates req, resolves its voice and starts streaming inference.
// Every error is returned before any audio is produced, so callers can still
// answer with a plain error response.
func (c *Controller) Open(ctx context.Context, req *schema.SynthesisRequest, source schema.VoiceSource) (*Stream, error) {
	if err := req.Validate(c.maxTextLength, source); err != nil {
		return nil, err
	}
	t, err := c.target(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := tracer.Start(ctx, "session.stream", trace.WithAttributes(
		attribute.String("tts.voice", t.name),
		attribute.Int("tts.references", len(t.references)),
		attribute.Int("tts.text_runes", len([]rune(req.Text))),
	))

	chunks, err := c.startStream(ctx, t, req.Text)
	if err != nil {
		err = ttserr.Inference("stream", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		cancel()
		return nil, err
	}

	return &Stream{
		chunks:   chunks,
		cancel:   cancel,
		span:     span,
		recorder: c.recorder,
		logger:   c.logger,
		now:      c.now,
		opened:   c.now(),
	}, nil
}

func (c *Controller) startStream(ctx context.Context, t target, text string) (engine.ChunkStream, error) {
	if t.character != "" {
		chunks, err := c.engine.StreamInferCharacter(ctx, t.character, text)
		if !errors.Is(err, engine.ErrUnknownCharacter) {
			return chunks, err
		}
		// The engine lost the character, typically after a sidecar restart.
		c.logger.Warn().Str("voice", t.name).Msg("engine does not know voice, falling back to references")
	}
	return c.engine.StreamInfer(ctx, t.references, text)
}

// Synthesize runs a batch request and returns the whole utterance.
func (c *Controller) Synthesize(ctx context.Context, req *schema.SynthesisRequest, source schema.VoiceSource) (engine.AudioChunk, error) {
	if err := req.Validate(c.maxTextLength, source); err != nil {
		return engine.AudioChunk{}, err
	}
	t, err := c.target(ctx, req)
	if err != nil {
		return engine.AudioChunk{}, err
	}

	ctx, span := tracer.Start(ctx, "session.synthesize", trace.WithAttributes(
		attribute.String("tts.voice", t.name),
		attribute.Int("tts.references", len(t.references)),
	))
	defer span.End()

	audio, err := c.infer(ctx, t, req.Text)
	if err == nil && audio.SampleRate <= 0 {
		err = fmt.Errorf("engine returned invalid sample rate %d", audio.SampleRate)
	}
	if err != nil {
		err = ttserr.Inference("synthesize", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return engine.AudioChunk{}, err
	}

	span.SetAttributes(attribute.Int("tts.samples", len(audio.Samples)))
	return audio, nil
}

func (c *Controller) infer(ctx context.Context, t target, text string) (engine.AudioChunk, error) {
	if t.character != "" {
		audio, err := c.engine.InferCharacter(ctx, t.character, text)
		if !errors.Is(err, engine.ErrUnknownCharacter) {
			return audio, err
		}
		c.logger.Warn().Str("voice", t.name).Msg("engine does not know voice, falling back to references")
	}
	return c.engine.Infer(ctx, t.references, text)
}

// Stats summarizes a stream so far.
type Stats struct {
	SampleRate int
	Chunks     int
	Samples    int64
	// FirstChunk is the delay from Open to the first chunk; zero if none yet.
	FirstChunk time.Duration
}

// AudioDuration reports how much audio the stream has produced.
func (s Stats) AudioDuration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Samples) * time.Second / time.Duration(s.SampleRate)
}

// Stream pulls chunks from a running engine in production order. It is not
// safe for concurrent use, except that Close may be called from any goroutine.
type Stream struct {
	chunks   engine.ChunkStream
	cancel   context.CancelFunc
	span     trace.Span
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
	opened   time.Time

	stats Stats
	err   error // sticky; io.EOF once the engine finished

	closeOnce sync.Once
}

// Next returns the next chunk, io.EOF after the last one, or an inference
// error if the engine failed or changed sample rate.
func (s *Stream) Next() (engine.AudioChunk, error) {
	if s.err != nil {
		return engine.AudioChunk{}, s.err
	}

	chunk, err := s.chunks.Next()
	if err == io.EOF {
		s.err = io.EOF
		return engine.AudioChunk{}, io.EOF
	}
	if err == nil {
		err = s.check(chunk)
	}
	if err != nil {
		s.err = ttserr.Inference("stream", err)
		return engine.AudioChunk{}, s.err
	}

	if s.stats.Chunks == 0 {
		s.stats.FirstChunk = s.now().Sub(s.opened)
		if s.recorder != nil {
			s.recorder.ObserveFirstChunk(s.stats.FirstChunk)
		}
	}
	s.stats.Chunks++
	s.stats.Samples += int64(len(chunk.Samples))
	return chunk, nil
}

func (s *Stream) check(chunk engine.AudioChunk) error {
	if chunk.SampleRate <= 0 {
		return fmt.Errorf("engine returned invalid sample rate %d", chunk.SampleRate)
	}
	if s.stats.SampleRate == 0 {
		s.stats.SampleRate = chunk.SampleRate
		return nil
	}
	if chunk.SampleRate != s.stats.SampleRate {
		return fmt.Errorf("engine switched sample rate from %d to %d", s.stats.SampleRate, chunk.SampleRate)
	}
	return nil
}

// Stats reports what the stream has produced so far.
func (s *Stream) Stats() Stats { return s.stats }

// Close stops the engine and records the outcome. Closing before io.EOF
// counts as a cancellation.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.chunks.Close()

		outcome := OutcomeCancelled
		switch {
		case s.err == io.EOF:
			outcome = OutcomeComplete
		case s.err != nil:
			outcome = OutcomeError
			s.span.RecordError(s.err)
			s.span.SetStatus(codes.Error, s.err.Error())
		}
		if s.recorder != nil {
			s.recorder.ObserveSession(outcome)
		}

		s.span.SetAttributes(
			attribute.String("tts.outcome", outcome),
			attribute.Int("tts.chunks", s.stats.Chunks),
			attribute.Int64("tts.samples", s.stats.Samples),
		)
		s.span.End()

		s.logger.Debug().
			Str("outcome", outcome).
			Int("chunks", s.stats.Chunks).
			Dur("first_chunk", s.stats.FirstChunk).
			Dur("audio", s.stats.AudioDuration()).
			Dur("elapsed", s.now().Sub(s.opened)).
			Msg("stream closed")
	})
	return err
}
