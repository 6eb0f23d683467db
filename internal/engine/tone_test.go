package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToneEngineDeterministic(t *testing.T) {
	e := NewToneEngine(ToneConfig{SampleRate: 16000, ChunkSamples: 300, SamplesPerRune: 400})

	a, err := e.Infer(context.Background(), []string{"/a.wav"}, "hello")
	require.NoError(t, err)
	b, err := e.Infer(context.Background(), []string{"/a.wav"}, "hello")
	require.NoError(t, err)

	assert.Equal(t, 16000, a.SampleRate)
	assert.Len(t, a.Samples, 5*400)
	assert.Equal(t, a.Samples, b.Samples)
	assert.Equal(t, 125*time.Millisecond, a.Duration())
}

func TestToneEngineStreamsFixedChunks(t *testing.T) {
	e := NewToneEngine(ToneConfig{SampleRate: 8000, ChunkSamples: 300, SamplesPerRune: 400})

	stream, err := e.StreamInfer(context.Background(), []string{"/a.wav"}, "ab")
	require.NoError(t, err)
	defer stream.Close()

	var sizes []int
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(chunk.Samples))
	}
	assert.Equal(t, []int{300, 300, 200}, sizes)
}

func TestToneEngineCharacters(t *testing.T) {
	e := NewToneEngine(ToneConfig{})

	_, err := e.StreamInferCharacter(context.Background(), "alice", "hi")
	assert.ErrorIs(t, err, ErrUnknownCharacter)

	require.NoError(t, e.RegisterCharacter(context.Background(), "alice", []string{"/a.wav"}))
	chunk, err := e.InferCharacter(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, chunk.Samples)
}

func TestToneEngineCloseCancels(t *testing.T) {
	e := NewToneEngine(ToneConfig{Pace: time.Hour})

	stream, err := e.StreamInfer(context.Background(), []string{"/a.wav"}, "long text")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		done <- err
	}()

	require.NoError(t, stream.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
