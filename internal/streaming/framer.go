package streaming

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/index-tts-go/index-tts-go/internal/pcm"
)

// Live stream headers and trailers.
const (
	HeaderSampleRate   = "X-Sample-Rate"
	HeaderChannels     = "X-Channels"
	HeaderSampleFormat = "X-Sample-Format"

	TrailerStatus = "X-Stream-Status"
	TrailerError  = "X-Stream-Error"

	StatusComplete = "complete"
	StatusError    = "error"
)

// Channels is fixed: engines produce mono audio.
const Channels = 1

// ContentType is the media type announced for a live stream.
func ContentType(sampleRate int) string {
	return fmt.Sprintf("audio/x-raw; rate=%d; channels=%d; format=%s", sampleRate, Channels, pcm.Format)
}

// ParseContentType extracts the rate and channel count from a live stream
// Content-Type.
func ParseContentType(ct string) (rate, channels int, err error) {
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return 0, 0, fmt.Errorf("parse content type %q: %w", ct, err)
	}
	if mediaType != "audio/x-raw" {
		return 0, 0, fmt.Errorf("unexpected content type %q", mediaType)
	}
	rate, err = strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return 0, 0, fmt.Errorf("content type %q has no valid rate", ct)
	}
	channels = 1
	if c, ok := params["channels"]; ok {
		channels, err = strconv.Atoi(c)
		if err != nil || channels <= 0 {
			return 0, 0, fmt.Errorf("content type %q has no valid channels", ct)
		}
	}
	return rate, channels, nil
}

// FramerConfig configures a Framer.
type FramerConfig struct {
	// ChunkWriteTimeout bounds each write+flush; zero leaves deadlines alone.
	ChunkWriteTimeout time.Duration
	Metrics           *Metrics
}

// Framer writes engine chunks to an HTTP response as raw float32 PCM. The
// format is announced once in headers; every chunk is written and flushed on
// its own, in order, and the outcome is reported in trailers.
type Framer struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	cfg     FramerConfig
	buf     []byte
	started bool
	chunks  int
	bytes   int64
}

// NewFramer wraps w.
func NewFramer(w http.ResponseWriter, cfg FramerConfig) *Framer {
	return &Framer{w: w, rc: http.NewResponseController(w), cfg: cfg}
}

// Begin commits the response headers for a stream at sampleRate.
func (f *Framer) Begin(sampleRate int) error {
	if f.started {
		return errors.New("streaming: framer already started")
	}
	if sampleRate <= 0 {
		return fmt.Errorf("streaming: invalid sample rate %d", sampleRate)
	}
	f.started = true

	h := f.w.Header()
	h.Set("Content-Type", ContentType(sampleRate))
	h.Set(HeaderSampleRate, strconv.Itoa(sampleRate))
	h.Set(HeaderChannels, strconv.Itoa(Channels))
	h.Set(HeaderSampleFormat, pcm.Format)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Trailer", TrailerStatus+", "+TrailerError)
	h.Del("Content-Length")

	f.w.WriteHeader(http.StatusOK)
	return f.flush()
}

// WriteChunk encodes samples and flushes them to the client. An error means
// the client is gone and the stream should stop.
func (f *Framer) WriteChunk(samples []int16) error {
	if !f.started {
		return errors.New("streaming: framer not started")
	}
	if len(samples) == 0 {
		return nil
	}

	if f.cfg.ChunkWriteTimeout > 0 {
		err := f.rc.SetWriteDeadline(time.Now().Add(f.cfg.ChunkWriteTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}

	f.buf = pcm.AppendFloat32LE(f.buf[:0], samples)
	n, err := f.w.Write(f.buf)
	f.bytes += int64(n)
	if err != nil {
		return err
	}
	if err := f.flush(); err != nil {
		return err
	}
	f.chunks++
	f.cfg.Metrics.AddChunk(n)
	return nil
}

// End records the stream outcome in the trailers. A nil err marks the
// stream complete.
func (f *Framer) End(err error) {
	if !f.started {
		return
	}
	if err == nil {
		f.w.Header().Set(TrailerStatus, StatusComplete)
		return
	}
	f.w.Header().Set(TrailerStatus, StatusError)
	f.w.Header().Set(TrailerError, strings.Join(strings.Fields(err.Error()), " "))
}

// Started reports whether headers have been committed.
func (f *Framer) Started() bool { return f.started }

// Chunks reports how many chunks were written.
func (f *Framer) Chunks() int { return f.chunks }

// Bytes reports how many body bytes were written.
func (f *Framer) Bytes() int64 { return f.bytes }

func (f *Framer) flush() error {
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
