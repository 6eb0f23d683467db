package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/index-tts-go/index-tts-go/internal/pcm"
)

const (
	DefaultDeviceRate = 48000
	DefaultReadSize   = 4096
)

// Config configures a Player.
type Config struct {
	DeviceRate  int
	QueueBlocks int
	// ReadSize is the number of bytes requested per network read.
	ReadSize int
	Logger   zerolog.Logger
}

// FeedStats summarizes one Feed call.
type FeedStats struct {
	Bytes   int64
	Samples int64 // source-rate samples decoded
	Blocks  int   // device-rate blocks queued
	Skipped int   // blocks dropped because they could not be resampled
	// Trailing is the count of bytes left over after the last whole sample.
	Trailing int
}

// Player moves float32 PCM from a reader to an audio device callback,
// resampling to the device rate on the way.
type Player struct {
	cfg    Config
	queue  *Queue
	logger zerolog.Logger
}

// NewPlayer builds a Player, filling zero fields with defaults.
func NewPlayer(cfg Config) *Player {
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = DefaultDeviceRate
	}
	if cfg.QueueBlocks <= 0 {
		cfg.QueueBlocks = DefaultQueueBlocks
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	return &Player{
		cfg:    cfg,
		queue:  NewQueue(cfg.QueueBlocks),
		logger: cfg.Logger.With().Str("component", "player").Logger(),
	}
}

// DeviceRate reports the output sample rate.
func (p *Player) DeviceRate() int { return p.cfg.DeviceRate }

// Queue exposes the underlying queue.
func (p *Player) Queue() *Queue { return p.queue }

// Feed reads mono float32 PCM at sourceRate from r until EOF and queues it
// for playback. It blocks while the queue is full. A block that cannot be
// resampled is logged and skipped; read errors end the feed.
func (p *Player) Feed(ctx context.Context, r io.Reader, sourceRate int) (FeedStats, error) {
	var (
		stats   FeedStats
		aligner pcm.Aligner
		buf     = make([]byte, p.cfg.ReadSize)
	)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			stats.Bytes += int64(n)
			samples := aligner.Feed(buf[:n])
			stats.Samples += int64(len(samples))

			block, err := pcm.Resample(samples, sourceRate, p.cfg.DeviceRate)
			if err != nil {
				stats.Skipped++
				p.logger.Warn().Err(err).Int("samples", len(samples)).Msg("skipping block")
			} else if len(block) > 0 {
				if err := p.queue.Push(ctx, block); err != nil {
					return stats, err
				}
				stats.Blocks++
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return stats, fmt.Errorf("read audio: %w", readErr)
		}
	}

	stats.Trailing = aligner.Pending()
	if stats.Trailing > 0 {
		p.logger.Warn().Int("bytes", stats.Trailing).Msg("stream ended inside a sample")
	}
	return stats, nil
}

// Callback is the device data callback. It must not block.
func (p *Player) Callback(out []float32) {
	p.queue.Fill(out)
}

// Drain waits until every queued sample has been handed to the device.
func (p *Player) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for p.queue.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
