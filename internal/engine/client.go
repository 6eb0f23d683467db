package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/index-tts-go/index-tts-go/internal/config"
)

// BackendClient drives the model sidecar over HTTP with msgpack bodies.
type BackendClient struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	modelDir   string
	gpuMemory  float64
}

// NewBackendClient creates a new backend client with connection pooling.
func NewBackendClient(cfg *config.EngineConfig) *BackendClient {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	transport := &http.Transport{
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		DisableCompression:    true,
	}

	// No client-wide Timeout: it would cut live streams off mid-body. Batch
	// calls bound themselves with a context deadline instead.
	client := &http.Client{Transport: transport}

	return &BackendClient{
		httpClient: client,
		endpoint:   strings.TrimRight(cfg.URL, "/"),
		timeout:    cfg.Timeout,
		modelDir:   cfg.ModelDir,
		gpuMemory:  cfg.GPUMemoryUtilization,
	}
}

// Init asks the sidecar to load its model.
func (c *BackendClient) Init(ctx context.Context) error {
	resp, err := c.post(ctx, "/v1/init", initRequest{
		ModelDir:             c.modelDir,
		GPUMemoryUtilization: c.gpuMemory,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Health checks if the sidecar is reachable.
func (c *BackendClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Infer synthesizes the whole utterance with an explicit reference set.
func (c *BackendClient) Infer(ctx context.Context, references []string, text string) (AudioChunk, error) {
	return c.infer(ctx, inferRequest{Text: text, AudioPaths: references})
}

// InferCharacter synthesizes the whole utterance with a registered character.
func (c *BackendClient) InferCharacter(ctx context.Context, character, text string) (AudioChunk, error) {
	return c.infer(ctx, inferRequest{Text: text, Character: character})
}

func (c *BackendClient) infer(ctx context.Context, req inferRequest) (AudioChunk, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "/v1/infer", req)
	if err != nil {
		return AudioChunk{}, err
	}
	defer resp.Body.Close()

	var frame audioFrame
	if err := msgpack.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return AudioChunk{}, c.transportError(ctx, fmt.Errorf("failed to decode response: %w", err))
	}
	return frame.chunk()
}

// StreamInfer starts incremental synthesis with an explicit reference set.
func (c *BackendClient) StreamInfer(ctx context.Context, references []string, text string) (ChunkStream, error) {
	return c.stream(ctx, inferRequest{Text: text, AudioPaths: references})
}

// StreamInferCharacter starts incremental synthesis with a registered character.
func (c *BackendClient) StreamInferCharacter(ctx context.Context, character, text string) (ChunkStream, error) {
	return c.stream(ctx, inferRequest{Text: text, Character: character})
}

func (c *BackendClient) stream(ctx context.Context, req inferRequest) (ChunkStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	resp, err := c.post(ctx, "/v1/infer/stream", req)
	if err != nil {
		cancel()
		return nil, err
	}

	return &backendStream{
		ctx:     ctx,
		cancel:  cancel,
		body:    resp.Body,
		decoder: msgpack.NewDecoder(resp.Body),
	}, nil
}

// RegisterCharacter uploads a character's reference set so later requests can
// use the cached prompt.
func (c *BackendClient) RegisterCharacter(ctx context.Context, character string, references []string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, "/v1/characters", characterRequest{Character: character, AudioPaths: references})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *BackendClient) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := EncodeMsgpack(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/msgpack")
	httpReq.Header.Set("Accept", "application/msgpack")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeErrorBody(resp)
	}

	return resp, nil
}

func (c *BackendClient) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// decodeErrorBody prefers an in-band msgpack frame and falls back to raw text.
func decodeErrorBody(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if strings.Contains(resp.Header.Get("Content-Type"), "msgpack") {
		var frame audioFrame
		if err := DecodeMsgpack(bodyBytes, &frame); err == nil && frame.Error != "" {
			if frame.Code == frameCodeUnknownCharacter {
				return fmt.Errorf("%w: %s", ErrUnknownCharacter, frame.Error)
			}
			return &BackendError{StatusCode: resp.StatusCode, Message: frame.Error}
		}
	}
	return &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
}

type backendStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	decoder *msgpack.Decoder

	closeOnce sync.Once
	err       error // sticky terminal error, io.EOF on clean completion
}

func (s *backendStream) Next() (AudioChunk, error) {
	if s.err != nil {
		return AudioChunk{}, s.err
	}

	var frame audioFrame
	if err := s.decoder.Decode(&frame); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			s.err = io.EOF
		case s.ctx.Err() != nil:
			s.err = s.ctx.Err()
		default:
			s.err = fmt.Errorf("%w: stream interrupted: %v", ErrBackendUnavailable, err)
		}
		return AudioChunk{}, s.err
	}

	chunk, err := frame.chunk()
	if err != nil {
		s.err = err
		return AudioChunk{}, err
	}
	return chunk, nil
}

func (s *backendStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}
