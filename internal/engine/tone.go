package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// ToneConfig configures the ToneEngine.
type ToneConfig struct {
	SampleRate int
	// ChunkSamples is the number of samples per streamed chunk.
	ChunkSamples int
	// SamplesPerRune sets how much audio each input rune produces.
	SamplesPerRune int
	// Pace delays each streamed chunk, mimicking a real-time model.
	Pace time.Duration
}

// ToneEngine is a deterministic synthesizer for development and tests. Each
// rune of the text becomes a short sine burst whose pitch depends on the rune
// and on the voice, so identical requests yield identical audio.
type ToneEngine struct {
	cfg ToneConfig

	mu         sync.RWMutex
	characters map[string][]string
}

// NewToneEngine builds a ToneEngine, filling zero fields with defaults.
func NewToneEngine(cfg ToneConfig) *ToneEngine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = cfg.SampleRate / 10
	}
	if cfg.SamplesPerRune <= 0 {
		cfg.SamplesPerRune = cfg.SampleRate / 20
	}
	return &ToneEngine{cfg: cfg, characters: make(map[string][]string)}
}

// SampleRate reports the rate of every chunk the engine produces.
func (e *ToneEngine) SampleRate() int {
	return e.cfg.SampleRate
}

func (e *ToneEngine) Health(context.Context) error { return nil }

func (e *ToneEngine) RegisterCharacter(_ context.Context, character string, references []string) error {
	if character == "" || len(references) == 0 {
		return errors.New("character and references are required")
	}
	e.mu.Lock()
	e.characters[character] = append([]string(nil), references...)
	e.mu.Unlock()
	return nil
}

func (e *ToneEngine) Infer(ctx context.Context, references []string, text string) (AudioChunk, error) {
	s, err := e.StreamInfer(ctx, references, text)
	if err != nil {
		return AudioChunk{}, err
	}
	return Collect(s)
}

func (e *ToneEngine) InferCharacter(ctx context.Context, character, text string) (AudioChunk, error) {
	s, err := e.StreamInferCharacter(ctx, character, text)
	if err != nil {
		return AudioChunk{}, err
	}
	return Collect(s)
}

func (e *ToneEngine) StreamInfer(ctx context.Context, references []string, text string) (ChunkStream, error) {
	if len(references) == 0 {
		return nil, errors.New("reference set is empty")
	}
	return e.newStream(ctx, references, text), nil
}

func (e *ToneEngine) StreamInferCharacter(ctx context.Context, character, text string) (ChunkStream, error) {
	e.mu.RLock()
	refs, ok := e.characters[character]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, character)
	}
	return e.newStream(ctx, refs, text), nil
}

func (e *ToneEngine) newStream(ctx context.Context, references []string, text string) *toneStream {
	ctx, cancel := context.WithCancel(ctx)

	var voice uint32
	for _, r := range references {
		for _, b := range []byte(r) {
			voice = voice*31 + uint32(b)
		}
	}

	return &toneStream{
		ctx:    ctx,
		cancel: cancel,
		cfg:    e.cfg,
		runes:  []rune(text),
		voice:  float64(voice%200) + 120,
	}
}

type toneStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    ToneConfig
	runes  []rune
	voice  float64

	pos int // samples produced so far
}

func (s *toneStream) total() int {
	return len(s.runes) * s.cfg.SamplesPerRune
}

func (s *toneStream) Next() (AudioChunk, error) {
	if err := s.ctx.Err(); err != nil {
		return AudioChunk{}, err
	}
	if s.pos >= s.total() {
		return AudioChunk{}, io.EOF
	}

	if s.cfg.Pace > 0 {
		timer := time.NewTimer(s.cfg.Pace)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return AudioChunk{}, s.ctx.Err()
		case <-timer.C:
		}
	}

	n := min(s.cfg.ChunkSamples, s.total()-s.pos)
	samples := make([]int16, n)
	for i := range samples {
		idx := s.pos + i
		r := s.runes[idx/s.cfg.SamplesPerRune]
		freq := s.voice + float64(r%64)*8
		t := float64(idx) / float64(s.cfg.SampleRate)
		samples[i] = int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*freq*t))
	}
	s.pos += n

	return AudioChunk{SampleRate: s.cfg.SampleRate, Samples: samples}, nil
}

func (s *toneStream) Close() error {
	s.cancel()
	return nil
}
