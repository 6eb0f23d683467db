// Package resolver turns audio locators into local file paths, downloading
// remote references into a temporary directory.
package resolver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/index-tts-go/index-tts-go/internal/config"
	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

// Kind classifies a locator.
type Kind int

const (
	KindLocal Kind = iota
	KindFileURI
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindFileURI:
		return "file"
	default:
		return "remote"
	}
}

const fileScheme = "file://"

// DefaultChunkSize is the read size used while streaming a download to disk.
const DefaultChunkSize = 8192

// Classify reports how a locator will be resolved.
func Classify(locator string) Kind {
	switch {
	case strings.HasPrefix(locator, fileScheme):
		return KindFileURI
	case strings.HasPrefix(locator, "/"), strings.HasPrefix(locator, `\`):
		return KindLocal
	case !strings.Contains(locator, "://"):
		return KindLocal
	default:
		return KindRemote
	}
}

// Recorder receives download outcomes for metrics.
type Recorder interface {
	ObserveDownload(outcome string, bytes int64, elapsed time.Duration)
}

// Resolver maps locators to readable local paths.
type Resolver struct {
	httpClient   *http.Client
	tempDir      string
	chunkSize    int
	blockPrivate bool
	now          func() time.Time
	lookupHost   func(ctx context.Context, host string) ([]string, error)
	recorder     Recorder
	logger       zerolog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithClock replaces the clock used for fallback file names.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithRecorder reports download outcomes to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// WithHostLookup replaces DNS resolution for the private host check.
func WithHostLookup(fn func(ctx context.Context, host string) ([]string, error)) Option {
	return func(r *Resolver) { r.lookupHost = fn }
}

// New builds a Resolver from cfg.
func New(cfg config.ResolverConfig, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		httpClient:   &http.Client{Timeout: cfg.DownloadTimeout},
		tempDir:      cfg.TempDir,
		chunkSize:    cfg.ChunkSize,
		blockPrivate: cfg.BlockPrivateHosts,
		now:          time.Now,
		lookupHost:   net.DefaultResolver.LookupHost,
		logger:       logger.With().Str("component", "resolver").Logger(),
	}
	if r.tempDir == "" {
		r.tempDir = os.TempDir()
	}
	if r.chunkSize <= 0 {
		r.chunkSize = DefaultChunkSize
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var tracer = otel.Tracer("github.com/index-tts-go/index-tts-go/internal/resolver")

// Resolve returns a local path for locator. Local paths and file URIs must
// name an existing file; remote URLs are downloaded on every call.
func (r *Resolver) Resolve(ctx context.Context, locator string) (string, error) {
	switch Classify(locator) {
	case KindFileURI:
		return checkLocal(strings.TrimPrefix(locator, fileScheme), locator)
	case KindLocal:
		return checkLocal(locator, locator)
	default:
		return r.download(ctx, locator)
	}
}

// ResolveAll resolves every locator concurrently and returns the paths in
// input order. The first failure cancels the rest.
func (r *Resolver) ResolveAll(ctx context.Context, locators []string) ([]string, error) {
	if len(locators) == 0 {
		return nil, ttserr.Validation("resolve", "at least one audio locator is required")
	}

	paths := make([]string, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	for i, loc := range locators {
		g.Go(func() error {
			p, err := r.Resolve(gctx, loc)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func checkLocal(p, locator string) (string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return "", ttserr.NotFound("resolve", "reference audio %q does not exist", locator)
	}
	if info.IsDir() {
		return "", ttserr.NotFound("resolve", "reference audio %q is a directory", locator)
	}
	return p, nil
}

func (r *Resolver) download(ctx context.Context, locator string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "resolver.download")
	defer span.End()
	span.SetAttributes(attribute.String("audio.locator", locator))

	start := time.Now()
	var written int64
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if r.recorder != nil {
			r.recorder.ObserveDownload(outcome, written, time.Since(start))
		}
	}()

	u, err := url.Parse(locator)
	if err != nil {
		return "", ttserr.Download("resolve", err, "invalid url %q", locator)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ttserr.Download("resolve", nil, "unsupported url scheme %q", u.Scheme)
	}
	if r.blockPrivate {
		if err := r.checkHost(ctx, u.Hostname()); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return "", ttserr.Download("resolve", err, "build request for %q", locator)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", ttserr.Download("resolve", err, "fetch %q", locator)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ttserr.Download("resolve", nil, "fetch %q: status %d", locator, resp.StatusCode)
	}

	// A directory per download keeps concurrent fetches of equally named
	// files from clobbering each other while preserving the file name.
	dir, err := os.MkdirTemp(r.tempDir, "ref-")
	if err != nil {
		return "", ttserr.Download("resolve", err, "create temp dir")
	}
	dest := filepath.Join(dir, r.fileName(u))

	written, err = r.save(resp.Body, dest)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", ttserr.Download("resolve", err, "save %q", locator)
	}

	r.logger.Debug().
		Str("url", locator).
		Str("path", dest).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("reference audio downloaded")

	return dest, nil
}

// save copies body to dest in fixed-size reads.
func (r *Resolver) save(body io.Reader, dest string) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}

	var total int64
	buf := make([]byte, r.chunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return total, err
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return total, readErr
		}
	}
	return total, f.Close()
}

// fileName derives the on-disk name from the last URL path segment, falling
// back to a timestamped name when the URL has none.
func (r *Resolver) fileName(u *url.URL) string {
	base := path.Base(u.EscapedPath())
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	base = filepath.Base(strings.ReplaceAll(base, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return r.now().Format("tts_audio_20060102_150405.wav")
	}
	return base
}

func (r *Resolver) checkHost(ctx context.Context, host string) error {
	if host == "" {
		return ttserr.Download("resolve", nil, "url has no host")
	}
	addrs, err := r.lookupHost(ctx, host)
	if err != nil {
		return ttserr.Download("resolve", err, "resolve host %q", host)
	}
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if isPrivate(ip.Unmap()) {
			return ttserr.Download("resolve", errors.New("private address"), "host %q resolves to %s", host, ip)
		}
	}
	return nil
}

func isPrivate(ip netip.Addr) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() ||
		cgnat.Contains(ip)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")
