// Package streaming carries live audio from a synthesis session to an HTTP
// client: slot admission, chunk framing, and the metrics around both.
package streaming

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAcquireTimeout indicates no stream slot freed up within the configured wait.
	ErrAcquireTimeout = errors.New("streaming: acquire timeout")
	// ErrLimitExceeded indicates every slot is busy and waiting is disabled.
	ErrLimitExceeded = errors.New("streaming: limit exceeded")
)

// LimiterConfig controls how many live streams run at once.
type LimiterConfig struct {
	MaxConcurrent int
	// AcquireTimeout is how long a request may queue for a slot. Zero refuses
	// immediately when the limiter is full.
	AcquireTimeout time.Duration
	Metrics        *Metrics
}

// Limiter caps concurrent live streams. Each stream pins an engine pipeline
// for its whole duration, so admission happens before any work starts.
type Limiter struct {
	slots          chan struct{}
	acquireTimeout time.Duration
	metrics        *Metrics
}

// NewLimiter constructs a Limiter; MaxConcurrent below one means one.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Limiter{
		slots:          make(chan struct{}, cfg.MaxConcurrent),
		acquireTimeout: cfg.AcquireTimeout,
		metrics:        cfg.Metrics,
	}
}

// Capacity reports the number of slots.
func (l *Limiter) Capacity() int { return cap(l.slots) }

// InUse reports the number of held slots.
func (l *Limiter) InUse() int { return len(l.slots) }

// Acquire reserves a slot. The returned release function frees it and is
// safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
		return l.granted(), nil
	default:
	}

	if l.acquireTimeout <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.metrics.IncLimitExceeded()
		return nil, ErrLimitExceeded
	}

	timer := time.NewTimer(l.acquireTimeout)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.granted(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		l.metrics.IncAcquireTimeouts()
		return nil, ErrAcquireTimeout
	}
}

func (l *Limiter) granted() func() {
	l.metrics.IncActiveStreams()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slots
			l.metrics.DecActiveStreams()
		})
	}
}

// Guard runs fn while holding a slot.
func (l *Limiter) Guard(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}
