package bench

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/index-tts-go/index-tts-go/internal/api"
	"github.com/index-tts-go/index-tts-go/internal/pcm"
	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

// ttsServer streams 1600 samples at 16 kHz (100ms) per request and answers
// batch requests with the same audio as WAV. Requests for "ghost" get a 404.
func ttsServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	samples := make([]int16, 1600)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tts_live_stream", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req schema.SynthesisRequest
		if err := api.ParseRequestBody(w, r, &req); err != nil {
			api.WriteFailure(w, err)
			return
		}
		if req.Character == "ghost" {
			api.WriteError(w, http.StatusNotFound, "voice not found")
			return
		}
		f := streaming.NewFramer(w, streaming.FramerConfig{})
		assert.NoError(t, f.Begin(16000))
		assert.NoError(t, f.WriteChunk(samples[:800]))
		assert.NoError(t, f.WriteChunk(samples[800:]))
		f.End(nil)
	})
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		data, err := pcm.WAVBytes(16000, samples)
		if !assert.NoError(t, err) {
			return
		}
		api.WriteAudio(w, data)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunStream(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	a, b := ttsServer(t, &hitsA), ttsServer(t, &hitsB)

	r, err := NewRunner(Config{
		URLs:        []string{a.URL, b.URL},
		Mode:        ModeStream,
		Requests:    10,
		Concurrency: 3,
		Character:   "alice",
	})
	require.NoError(t, err)

	report := r.Run(context.Background())
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 10, report.Success)
	assert.Zero(t, report.Failed)
	assert.Equal(t, map[int]int{200: 10}, report.Statuses)
	assert.Equal(t, int64(10*1600*pcm.BytesPerSample), report.Bytes)
	assert.Equal(t, time.Second, report.Audio)
	assert.Equal(t, 10, report.FirstAudio.Count)
	assert.Greater(t, report.MeanRTF, 0.0)

	assert.Equal(t, int64(5), hitsA.Load(), "round robin")
	assert.Equal(t, int64(5), hitsB.Load())
}

func TestRunBatch(t *testing.T) {
	var hits atomic.Int64
	server := ttsServer(t, &hits)

	r, err := NewRunner(Config{
		URLs:      []string{server.URL},
		Mode:      ModeBatch,
		Requests:  4,
		Character: "alice",
	})
	require.NoError(t, err)

	report := r.Run(context.Background())
	assert.Equal(t, 4, report.Success)
	assert.Equal(t, 400*time.Millisecond, report.Audio)
}

func TestRunCountsFailures(t *testing.T) {
	var hits atomic.Int64
	server := ttsServer(t, &hits)

	r, err := NewRunner(Config{
		URLs:     []string{server.URL},
		Mode:     ModeStream,
		Requests: 4,
		Targets: []Target{
			{Text: "hello", Character: "alice"},
			{Text: "hello", Character: "ghost"},
		},
	})
	require.NoError(t, err)

	report := r.Run(context.Background())
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Success)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, map[int]int{200: 2, 404: 2}, report.Statuses)
	require.Len(t, report.Errors, 1)

	var out bytes.Buffer
	report.Print(&out)
	assert.Contains(t, out.String(), "Success: 2, Failed: 2")
	assert.Contains(t, out.String(), "404: 2")
	assert.Contains(t, out.String(), "voice not found")
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	var hits atomic.Int64
	server := ttsServer(t, &hits)

	r, err := NewRunner(Config{
		URLs:        []string{server.URL},
		Mode:        ModeStream,
		Loop:        true,
		Concurrency: 2,
		AudioPaths:  []string{"/ref.wav"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan *Report, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case report := <-done:
		assert.Greater(t, report.Success, 0)
		assert.Zero(t, report.Failed)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestNewRunnerValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no urls", Config{Mode: ModeStream, Requests: 1, Character: "a"}},
		{"bad mode", Config{URLs: []string{"http://x"}, Mode: "flood", Requests: 1, Character: "a"}},
		{"no voice", Config{URLs: []string{"http://x"}, Mode: ModeStream, Requests: 1}},
		{"both voices", Config{URLs: []string{"http://x"}, Mode: ModeStream, Requests: 1, Character: "a", AudioPaths: []string{"b"}}},
		{"no requests", Config{URLs: []string{"http://x"}, Mode: ModeStream, Character: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"text":"hi","character":"alice"},{"text":"yo","audio_paths":["/a.wav"]}]`), 0o644))

	targets, err := LoadTargets(path)
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Text: "hi", Character: "alice"},
		{Text: "yo", AudioPaths: []string{"/a.wav"}},
	}, targets)
}

func TestRandomDigits(t *testing.T) {
	s := randomDigits(32)
	assert.Len(t, s, 32)
	for _, c := range s {
		assert.True(t, c >= '0' && c <= '9')
	}
}

func TestPercentile(t *testing.T) {
	values := []time.Duration{4, 1, 3, 2, 5}
	assert.Equal(t, time.Duration(3), percentile(values, 0.5))
	assert.Equal(t, time.Duration(5), percentile(values, 1))
	assert.Equal(t, time.Duration(3), average(values))
	assert.Zero(t, percentile(nil, 0.5))
}
