// Package bench load-tests a running TTS service.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http/httptrace"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/index-tts-go/index-tts-go/internal/client"
	"github.com/index-tts-go/index-tts-go/internal/pcm"
	"github.com/index-tts-go/index-tts-go/internal/schema"
)

// Mode selects the endpoint under test.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeBatch  Mode = "batch"
)

// Target is one request template. Targets are sent round-robin.
type Target struct {
	Text       string   `json:"text"`
	Character  string   `json:"character,omitempty"`
	AudioPaths []string `json:"audio_paths,omitempty"`
}

// LoadTargets reads a JSON array of targets.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Target
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse targets %s: %w", path, err)
	}
	return items, nil
}

// Config describes a load test.
type Config struct {
	URLs        []string
	Mode        Mode
	Requests    int
	Concurrency int
	// Loop keeps sending until ctx is cancelled instead of stopping after
	// Requests.
	Loop bool

	// Targets, when set, replace Character, AudioPaths and Text.
	Targets    []Target
	Character  string
	AudioPaths []string
	// Text is sent verbatim when set. Otherwise every request gets TextLength
	// random digits.
	Text       string
	TextLength int

	APIKey  string
	Msgpack bool
	Timeout time.Duration
	Logger  zerolog.Logger
}

func (c *Config) validate() error {
	if len(c.URLs) == 0 {
		return errors.New("bench: at least one url is required")
	}
	if c.Mode != ModeStream && c.Mode != ModeBatch {
		return fmt.Errorf("bench: unknown mode %q", c.Mode)
	}
	if len(c.Targets) == 0 && (c.Character == "") == (len(c.AudioPaths) == 0) {
		return errors.New("bench: exactly one of character or audio paths is required")
	}
	if !c.Loop && c.Requests <= 0 {
		return errors.New("bench: requests must be positive")
	}
	return nil
}

// Result is the outcome of one request.
type Result struct {
	URL    string
	Status int
	Err    error
	// Latency is the full request time.
	Latency time.Duration
	// FirstByte is the time to the first response byte; TTFA is the time to
	// the first audio byte.
	FirstByte time.Duration
	TTFA      time.Duration
	Bytes     int64
	Audio     time.Duration
}

// Success reports whether the request produced audio without error.
func (r Result) Success() bool { return r.Err == nil && r.Status == 200 }

// RTF is the real-time factor: wall time per second of audio.
func (r Result) RTF() float64 {
	if r.Audio <= 0 {
		return 0
	}
	return r.Latency.Seconds() / r.Audio.Seconds()
}

// Runner executes a load test.
type Runner struct {
	cfg     Config
	clients []*client.Client
	urlIdx  atomic.Uint64
	tgtIdx  atomic.Uint64
	logger  zerolog.Logger
}

// NewRunner validates cfg and prepares one client per URL.
func NewRunner(cfg Config, opts ...client.Option) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TextLength <= 0 {
		cfg.TextLength = 50
	}
	if cfg.APIKey != "" {
		opts = append(opts, client.WithAPIKey(cfg.APIKey))
	}
	if cfg.Msgpack {
		opts = append(opts, client.WithMsgpack())
	}

	r := &Runner{cfg: cfg, logger: cfg.Logger.With().Str("component", "bench").Logger()}
	for _, u := range cfg.URLs {
		r.clients = append(r.clients, client.New(u, opts...))
	}
	return r, nil
}

// Run sends the configured load and aggregates the results. Cancelling ctx
// stops new requests; the report covers what finished before that.
func (r *Runner) Run(ctx context.Context) *Report {
	jobs := make(chan struct{}, r.cfg.Concurrency)
	results := make(chan Result, r.cfg.Concurrency)

	go func() {
		defer close(jobs)
		for i := 0; r.cfg.Loop || i < r.cfg.Requests; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- struct{}{}:
			}
		}
	}()

	var workers errgroup.Group
	for i := 0; i < r.cfg.Concurrency; i++ {
		workers.Go(func() error {
			for range jobs {
				if ctx.Err() != nil {
					return nil
				}
				results <- r.Do(ctx)
			}
			return nil
		})
	}
	go func() {
		_ = workers.Wait()
		close(results)
	}()

	start := time.Now()
	var sum summary
	for res := range results {
		if res.Err != nil && ctx.Err() != nil {
			// cut off by the end of the run
			continue
		}
		if res.Err != nil {
			r.logger.Debug().Err(res.Err).Str("url", res.URL).Int("status", res.Status).Msg("request failed")
		}
		sum.add(res)
	}
	return sum.report(time.Since(start))
}

func (r *Runner) nextRequest() *schema.SynthesisRequest {
	if n := len(r.cfg.Targets); n > 0 {
		t := r.cfg.Targets[(r.tgtIdx.Add(1)-1)%uint64(n)]
		return &schema.SynthesisRequest{Text: t.Text, Character: t.Character, AudioPaths: t.AudioPaths}
	}
	text := r.cfg.Text
	if text == "" {
		text = randomDigits(r.cfg.TextLength)
	}
	return &schema.SynthesisRequest{Text: text, Character: r.cfg.Character, AudioPaths: r.cfg.AudioPaths}
}

// Do sends one request to the next URL in round-robin order.
func (r *Runner) Do(ctx context.Context) Result {
	c := r.clients[(r.urlIdx.Add(1)-1)%uint64(len(r.clients))]
	res := Result{URL: c.BaseURL()}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			res.FirstByte = time.Since(start)
		},
	})

	req := r.nextRequest()
	if r.cfg.Mode == ModeStream {
		r.doStream(ctx, c, req, start, &res)
	} else {
		r.doBatch(ctx, c, req, start, &res)
	}
	res.Latency = time.Since(start)
	return res
}

func (r *Runner) doStream(ctx context.Context, c *client.Client, req *schema.SynthesisRequest, start time.Time, res *Result) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		res.Err = err
		res.Status = statusOf(err)
		return
	}
	defer s.Close()
	res.Status = 200

	buf := make([]byte, 4096)
	for {
		n, err := s.Read(buf)
		if n > 0 && res.Bytes == 0 {
			res.TTFA = time.Since(start)
		}
		res.Bytes += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Err = err
			break
		}
	}

	samples := res.Bytes / pcm.BytesPerSample / int64(max(s.Channels, 1))
	res.Audio = time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

func (r *Runner) doBatch(ctx context.Context, c *client.Client, req *schema.SynthesisRequest, start time.Time, res *Result) {
	wav, err := c.Synthesize(ctx, req)
	if err != nil {
		res.Err = err
		res.Status = statusOf(err)
		return
	}
	res.Status = 200
	res.TTFA = time.Since(start)
	res.Bytes = int64(len(wav))
	res.Audio, err = pcm.WAVDuration(wav)
	if err != nil {
		res.Err = err
	}
}

func statusOf(err error) int {
	var se *client.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
