package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/pcm"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/session"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

var errNoAudio = errors.New("engine produced no audio")

// HandleTTS synthesizes a registered character into a WAV file.
func (h *Handler) HandleTTS(w http.ResponseWriter, r *http.Request) {
	h.serveBatch(w, r, schema.VoiceCharacter)
}

// HandleTTSURL synthesizes inline reference audio into a WAV file.
func (h *Handler) HandleTTSURL(w http.ResponseWriter, r *http.Request) {
	h.serveBatch(w, r, schema.VoiceReferences)
}

func (h *Handler) serveBatch(w http.ResponseWriter, r *http.Request, source schema.VoiceSource) {
	logger := zerolog.Ctx(r.Context())

	req, ok := h.parseSynthesis(w, r, source)
	if !ok {
		return
	}

	start := time.Now()
	var audio engine.AudioChunk
	err := h.batch.Submit(r.Context(), func(ctx context.Context) error {
		var err error
		audio, err = h.sessions.Synthesize(ctx, req, source)
		return err
	})
	if err == nil && len(audio.Samples) == 0 {
		err = ttserr.Inference("synthesize", errNoAudio)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.ObserveBatch(outcome, time.Since(start))

	if err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("batch synthesis failed")
		WriteFailure(w, err)
		return
	}

	wav, err := pcm.WAVBytes(audio.SampleRate, audio.Samples)
	if err != nil {
		logger.Error().Err(err).Msg("wav encoding failed")
		WriteError(w, http.StatusInternalServerError, "failed to encode audio")
		return
	}

	logger.Debug().
		Int("sample_rate", audio.SampleRate).
		Dur("audio", audio.Duration()).
		Dur("duration", time.Since(start)).
		Msg("batch synthesis complete")
	if d := h.cfg.Server.WriteTimeout; d > 0 {
		// the server itself has no write timeout since live streams are unbounded
		_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(d))
	}
	WriteAudio(w, wav)
}

// HandleLiveStream streams synthesized audio as raw float32 PCM while the
// engine produces it. Failures before the first chunk get a JSON error; later
// failures end the body with an error trailer.
func (h *Handler) HandleLiveStream(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	req, ok := h.parseSynthesis(w, r, schema.VoiceAny)
	if !ok {
		return
	}

	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		logger.Warn().Err(err).Int("in_use", h.limiter.InUse()).Msg("live stream refused")
		WriteFailure(w, err)
		return
	}
	defer release()

	stream, err := h.sessions.Open(r.Context(), req, schema.VoiceAny)
	if err != nil {
		logger.Warn().Err(err).Msg("live stream open failed")
		WriteFailure(w, err)
		return
	}
	defer stream.Close()

	first, err := stream.Next()
	if err == io.EOF {
		err = ttserr.Inference("stream", errNoAudio)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("live stream failed before first chunk")
		WriteFailure(w, err)
		return
	}

	framer := streaming.NewFramer(w, streaming.FramerConfig{
		ChunkWriteTimeout: h.cfg.Server.ChunkWriteTimeout,
		Metrics:           h.metrics,
	})
	if err := framer.Begin(first.SampleRate); err != nil {
		logger.Warn().Err(err).Msg("live stream header write failed")
		return
	}

	streamErr := pump(framer, stream, first)
	framer.End(streamErr)

	stats := stream.Stats()
	event := logger.Info()
	if streamErr != nil {
		event = logger.Warn().Err(streamErr)
	}
	event.
		Int("chunks", framer.Chunks()).
		Int64("bytes", framer.Bytes()).
		Int("sample_rate", stats.SampleRate).
		Dur("first_chunk", stats.FirstChunk).
		Dur("audio", stats.AudioDuration()).
		Msg("live stream finished")
}

// pump writes first and every following chunk until the engine finishes,
// the engine fails, or the client goes away.
func pump(framer *streaming.Framer, stream *session.Stream, first engine.AudioChunk) error {
	chunk := first
	for {
		if err := framer.WriteChunk(chunk.Samples); err != nil {
			return err
		}
		next, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		chunk = next
	}
}

// parseSynthesis decodes and validates a synthesis request, writing the
// error response itself when it fails.
func (h *Handler) parseSynthesis(w http.ResponseWriter, r *http.Request, source schema.VoiceSource) (*schema.SynthesisRequest, bool) {
	var req schema.SynthesisRequest
	if err := ParseRequestBody(w, r, &req); err != nil {
		WriteFailure(w, err)
		return nil, false
	}
	if err := req.Validate(h.cfg.Limits.MaxTextLength, source); err != nil {
		WriteFailure(w, err)
		return nil, false
	}
	return &req, true
}
