// Package queue admits batch synthesis jobs onto a fixed pool of workers.
// Batch requests hold an engine slot for the whole utterance, so the pool
// bounds engine concurrency and the queue bounds how many callers may wait.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("queue: full")
	ErrShutdown  = errors.New("queue: shutdown")
)

type Config struct {
	Workers int
	// MaxQueue is how many jobs may wait for a worker. Zero admits a job only
	// when a worker is idle.
	MaxQueue int
	Logger   zerolog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int `json:"workers"`
	Active  int `json:"active"`
	Queued  int `json:"queued"`
}

type Manager struct {
	jobs     chan job
	wg       sync.WaitGroup
	logger   zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
	stopped   chan struct{} // closed once every worker has exited

	workers int32
	active  atomic.Int32
}

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

func NewManager(cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}

	m := &Manager{
		jobs:    make(chan job, cfg.MaxQueue),
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
		workers: int32(cfg.Workers),
		logger:  cfg.Logger.With().Str("component", "queue").Logger(),
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	go func() {
		m.wg.Wait()
		close(m.stopped)
	}()

	return m
}

// Submit runs fn on a worker and waits for its result. It fails fast with
// ErrQueueFull when no capacity is left and with ErrShutdown once Shutdown
// has been called. If ctx ends first, Submit returns ctx.Err() and fn sees
// the same cancellation.
func (m *Manager) Submit(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-m.closed:
		return ErrShutdown
	default:
	}

	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	if cap(m.jobs) == 0 {
		if m.active.Load() >= m.workers {
			return ErrQueueFull
		}

		select {
		case m.jobs <- j:
		case <-m.closed:
			return ErrShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case m.jobs <- j:
		case <-m.closed:
			return ErrShutdown
		default:
			return ErrQueueFull
		}
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		// a job already running is allowed to finish
		select {
		case err := <-j.result:
			return err
		case <-m.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-j.result:
			return err
		default:
			return ErrShutdown
		}
	}
}

// Stats reports pool occupancy.
func (m *Manager) Stats() Stats {
	return Stats{
		Workers: int(m.workers),
		Active:  int(m.active.Load()),
		Queued:  len(m.jobs),
	}
}

// Shutdown stops admitting jobs and waits for running ones. Queued jobs that
// have not started are abandoned with ErrShutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})

	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.closed:
			return
		case j := <-m.jobs:
			m.run(j)
		}
	}
}

func (m *Manager) run(j job) {
	m.active.Add(1)
	defer m.active.Add(-1)

	if err := j.ctx.Err(); err != nil {
		j.result <- err
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("batch job panicked")
			j.result <- fmt.Errorf("queue: job panicked: %v", r)
		}
	}()
	j.result <- j.fn(j.ctx)
}
