// Package engine defines the inference engine contract and its adapters.
package engine

import (
	"context"
	"io"
	"time"
)

// AudioChunk is a block of mono 16-bit PCM produced by the engine.
type AudioChunk struct {
	SampleRate int
	Samples    []int16
}

// Duration reports how much audio the chunk holds.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// ChunkStream yields chunks in production order. Next returns io.EOF once the
// engine has finished. Close releases the underlying resources and stops
// generation; it is safe to call more than once.
type ChunkStream interface {
	Next() (AudioChunk, error)
	Close() error
}

// Engine is the synthesis backend the session layer drives.
type Engine interface {
	Infer(ctx context.Context, references []string, text string) (AudioChunk, error)
	InferCharacter(ctx context.Context, character, text string) (AudioChunk, error)
	StreamInfer(ctx context.Context, references []string, text string) (ChunkStream, error)
	StreamInferCharacter(ctx context.Context, character, text string) (ChunkStream, error)
	RegisterCharacter(ctx context.Context, character string, references []string) error
	Health(ctx context.Context) error
}

// Collect drains stream into a single chunk. The stream is closed on return.
func Collect(stream ChunkStream) (AudioChunk, error) {
	defer stream.Close()

	var out AudioChunk
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return AudioChunk{}, err
		}
		if out.SampleRate == 0 {
			out.SampleRate = chunk.SampleRate
		}
		out.Samples = append(out.Samples, chunk.Samples...)
	}
}

// Ensure adapters implement Engine.
var (
	_ Engine = (*BackendClient)(nil)
	_ Engine = (*ToneEngine)(nil)
)
