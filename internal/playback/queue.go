// Package playback buffers streamed audio between a network reader and a
// real-time audio device callback.
package playback

import (
	"context"
	"sync/atomic"
)

// DefaultQueueBlocks is the default queue capacity in blocks.
const DefaultQueueBlocks = 10

// Queue is a bounded FIFO of device-rate sample blocks. One producer calls
// Push and one consumer, the device callback, calls Fill. Push blocks when
// the queue is full; Fill never blocks.
type Queue struct {
	blocks chan []float32

	// carry is the unplayed tail of the last block. Only Fill touches it.
	carry []float32

	pending   atomic.Int64 // samples pushed but not yet played
	underruns atomic.Int64
}

// NewQueue returns a Queue holding up to capacity blocks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueBlocks
	}
	return &Queue{blocks: make(chan []float32, capacity)}
}

// Push appends block, waiting while the queue is full. Empty blocks are
// ignored.
func (q *Queue) Push(ctx context.Context, block []float32) error {
	if len(block) == 0 {
		return nil
	}
	q.pending.Add(int64(len(block)))
	select {
	case q.blocks <- block:
		return nil
	case <-ctx.Done():
		q.pending.Add(-int64(len(block)))
		return ctx.Err()
	}
}

// Fill writes the next audio into out and returns how many samples were
// real audio. It takes at most one block per call: a shorter block leaves
// the rest of out silent, a longer one is carried into the next call. With
// nothing queued out is all silence and an underrun is counted.
func (q *Queue) Fill(out []float32) int {
	src := q.carry
	q.carry = nil
	if len(src) == 0 {
		select {
		case src = <-q.blocks:
		default:
			clear(out)
			if len(out) > 0 {
				q.underruns.Add(1)
			}
			return 0
		}
	}

	n := copy(out, src)
	clear(out[n:])
	if n < len(src) {
		q.carry = src[n:]
	}
	q.pending.Add(-int64(n))
	return n
}

// Pending reports samples pushed but not yet handed to the device.
func (q *Queue) Pending() int64 { return q.pending.Load() }

// Len reports queued blocks, excluding any carried tail.
func (q *Queue) Len() int { return len(q.blocks) }

// Cap reports the capacity in blocks.
func (q *Queue) Cap() int { return cap(q.blocks) }

// Underruns reports how many callbacks found the queue empty.
func (q *Queue) Underruns() int64 { return q.underruns.Load() }
