package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/engine"
	"github.com/index-tts-go/index-tts-go/internal/pcm"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

func postStream(t *testing.T, server *httptest.Server, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+"/tts_live_stream", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLiveStreamSuccess(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	resp := postStream(t, server, map[string]any{"text": "hey", "character": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "audio/x-raw; rate=16000; channels=1; format=f32le", resp.Header.Get("Content-Type"))
	assert.Equal(t, "16000", resp.Header.Get(streaming.HeaderSampleRate))
	assert.Equal(t, "1", resp.Header.Get(streaming.HeaderChannels))
	assert.Equal(t, "f32le", resp.Header.Get(streaming.HeaderSampleFormat))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 3*testSamplesPerRune*pcm.BytesPerSample)
	assert.Equal(t, streaming.StatusComplete, resp.Trailer.Get(streaming.TrailerStatus))

	// identical to what the batch path produces for the same voice
	audio, err := engine.NewToneEngine(engine.ToneConfig{
		SampleRate:     testSampleRate,
		ChunkSamples:   testSamplesPerRune,
		SamplesPerRune: testSamplesPerRune,
	}).Infer(context.Background(), []string{f.refPath}, "hey")
	require.NoError(t, err)
	assert.Equal(t, pcm.AppendFloat32LE(nil, audio.Samples), body)

	assert.Equal(t, 0, f.limiter.InUse(), "slot is released after the stream")
}

func TestLiveStreamInlineReferences(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	resp := postStream(t, server, map[string]any{"text": "a", "audio_paths": []string{f.refPath}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, testSamplesPerRune*pcm.BytesPerSample)
}

func TestLiveStreamErrorsBeforeFirstChunk(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"no voice", map[string]any{"text": "hi"}, http.StatusBadRequest},
		{"both voices", map[string]any{"text": "hi", "character": "alice", "audio_paths": []string{f.refPath}}, http.StatusBadRequest},
		{"unknown voice", map[string]any{"text": "hi", "character": "ghost"}, http.StatusNotFound},
		{"missing file", map[string]any{"text": "hi", "audio_paths": []string{"/nope.wav"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postStream(t, server, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var payload schema.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			assert.Equal(t, "error", payload.Status)
			assert.NotEmpty(t, payload.Error)
		})
	}
}

func TestLiveStreamLimitExceeded(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	var releases []func()
	for i := 0; i < f.limiter.Capacity(); i++ {
		release, err := f.limiter.Acquire(context.Background())
		require.NoError(t, err)
		releases = append(releases, release)
	}

	resp := postStream(t, server, map[string]any{"text": "hi", "character": "alice"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int64(1), f.metrics.LimitExceeded())

	for _, release := range releases {
		release()
	}
	resp = postStream(t, server, map[string]any{"text": "hi", "character": "alice"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// failingEngine streams one chunk and then fails.
type failingEngine struct {
	*engine.ToneEngine
	startErr error
}

type failingStream struct{ sent bool }

func (s *failingStream) Next() (engine.AudioChunk, error) {
	if s.sent {
		return engine.AudioChunk{}, errors.New("cuda error: device lost")
	}
	s.sent = true
	return engine.AudioChunk{SampleRate: testSampleRate, Samples: []int16{100, -100}}, nil
}

func (s *failingStream) Close() error { return nil }

func (e failingEngine) StreamInferCharacter(context.Context, string, string) (engine.ChunkStream, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &failingStream{}, nil
}

func TestLiveStreamMidStreamFailureSetsTrailer(t *testing.T) {
	f := newFixture(t, withEngine(failingEngine{ToneEngine: engine.NewToneEngine(engine.ToneConfig{})}))
	server := httptest.NewServer(f.router)
	t.Cleanup(server.Close)

	resp := postStream(t, server, map[string]any{"text": "hi", "character": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pcm.AppendFloat32LE(nil, []int16{100, -100}), body)
	assert.Equal(t, streaming.StatusError, resp.Trailer.Get(streaming.TrailerStatus))
	assert.Contains(t, resp.Trailer.Get(streaming.TrailerError), "device lost")

	assert.Contains(t, f.scrape(t), `tts_stream_sessions_total{outcome="error"} 1`)
}

func TestLiveStreamEngineStartFailure(t *testing.T) {
	f := newFixture(t, withEngine(failingEngine{
		ToneEngine: engine.NewToneEngine(engine.ToneConfig{}),
		startErr:   &engine.BackendError{StatusCode: 500, Message: "model not loaded"},
	}))

	rr := f.do(http.MethodPost, "/tts_live_stream", map[string]any{"text": "hi", "character": "alice"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decodeError(t, rr)
	assert.Contains(t, resp.Error, "model not loaded")
}

func TestLiveStreamSingleSlotBusy(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Dependencies) {
		c.Limits.MaxConcurrentStreams = 1
	})
	release, err := f.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	rr := f.do(http.MethodPost, "/tts_live_stream", map[string]any{"text": "hi", "character": "alice"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	decodeError(t, rr)
}
