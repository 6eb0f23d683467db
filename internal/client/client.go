// Package client talks to the TTS service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/index-tts-go/index-tts-go/internal/schema"
	"github.com/index-tts-go/index-tts-go/internal/streaming"
)

// ErrStreamTruncated is returned when a live stream ends without the server
// confirming completion.
var ErrStreamTruncated = errors.New("client: stream truncated")

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// StreamError reports a live stream the server ended with an error trailer.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream failed: " + e.Message
}

// Client is a small HTTP client for the service API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	msgpack    bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Live streams are open
// ended, so it should not set a Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sends a bearer token with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithMsgpack encodes request bodies as msgpack instead of JSON.
func WithMsgpack() Option {
	return func(c *Client) { c.msgpack = true }
}

// New constructs a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL reports the service address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health calls /v1/health.
func (c *Client) Health(ctx context.Context, detailed bool) (*schema.HealthResponse, error) {
	path := "/v1/health"
	if detailed {
		path += "?detailed=true"
	}
	var out schema.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVoices returns the registered voices.
func (c *Client) ListVoices(ctx context.Context) ([]schema.VoiceInfo, error) {
	var out schema.ListVoicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/voices", nil, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// RegisterVoice registers or replaces a voice.
func (c *Client) RegisterVoice(ctx context.Context, name string, audioPaths []string) (*schema.VoiceInfo, error) {
	var out schema.VoiceInfo
	req := &schema.RegisterVoiceRequest{Name: name, AudioPaths: audioPaths}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/voices", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Synthesize runs a batch request and returns the WAV file. Requests naming
// a character go to /tts, the others to /tts_url.
func (c *Client) Synthesize(ctx context.Context, req *schema.SynthesisRequest) ([]byte, error) {
	path := "/tts_url"
	if req.UsesCharacter() {
		path = "/tts"
	}

	resp, err := c.do(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

// Stream opens a live stream. It returns once the server has announced the
// audio format, which happens when the first chunk is ready.
func (c *Client) Stream(ctx context.Context, req *schema.SynthesisRequest) (*Stream, error) {
	resp, err := c.do(ctx, http.MethodPost, "/tts_live_stream", req)
	if err != nil {
		return nil, err
	}

	rate, channels, err := streaming.ParseContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &Stream{SampleRate: rate, Channels: channels, resp: resp}, nil
}

// Stream is the body of a live stream: raw little-endian float32 samples.
// Read returns io.EOF only when the server marked the stream complete.
type Stream struct {
	SampleRate int
	Channels   int

	resp *http.Response
	err  error
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.resp.Body.Read(p)
	if err == io.EOF {
		err = s.finish()
	}
	if err != nil {
		s.err = err
	}
	return n, err
}

// finish inspects the trailers, which are only available after EOF.
func (s *Stream) finish() error {
	switch s.resp.Trailer.Get(streaming.TrailerStatus) {
	case streaming.StatusComplete:
		return io.EOF
	case streaming.StatusError:
		return &StreamError{Message: s.resp.Trailer.Get(streaming.TrailerError)}
	default:
		return ErrStreamTruncated
	}
}

// Close releases the connection. Closing before EOF cancels synthesis on
// the server.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request and turns non-2xx responses into *StatusError.
func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	contentType := ""
	if in != nil {
		var (
			payload []byte
			err     error
		)
		if c.msgpack {
			payload, err = msgpack.Marshal(in)
			contentType = "application/msgpack"
		} else {
			payload, err = json.Marshal(in)
			contentType = "application/json"
		}
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload schema.ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
