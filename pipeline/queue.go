package pipeline

import (
	"context"
	"sync"

	"github.com/opd-ai/rtpserver/bufferpool"
)

// DefaultQueueSize is the number of buffers a session queue holds before
// the oldest one is dropped.
const DefaultQueueSize = 5

// Queue is a bounded leaky queue that drops its oldest buffer when full.
type Queue struct {
	name string
	max  int

	mu      sync.Mutex
	items   []*bufferpool.Buffer
	pushed  uint64
	dropped uint64
	ready   chan struct{}
}

func newQueue(name string, max int) *Queue {
	if max <= 0 {
		max = DefaultQueueSize
	}
	return &Queue{
		name:  name,
		max:   max,
		items: make([]*bufferpool.Buffer, 0, max),
		ready: make(chan struct{}, 1),
	}
}

// Name returns the element name.
func (q *Queue) Name() string {
	return q.name
}

// MaxSizeBuffers returns the queue capacity.
func (q *Queue) MaxSizeBuffers() int {
	return q.max
}

// push appends b and returns the buffer evicted to make room, if any.
func (q *Queue) push(b *bufferpool.Buffer) (evicted *bufferpool.Buffer, pushed, dropped uint64) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		evicted = q.items[0]
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append(q.items, b)
	q.pushed++
	pushed, dropped = q.pushed, q.dropped
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted, pushed, dropped
}

// pop waits for the next buffer. It returns nil once ctx is done.
func (q *Queue) pop(ctx context.Context) *bufferpool.Buffer {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return b
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.ready:
		}
	}
}

// flush empties the queue and returns what it held.
func (q *Queue) flush() []*bufferpool.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]*bufferpool.Buffer, 0, q.max)
	return out
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Counters returns how many buffers were pushed and dropped.
func (q *Queue) Counters() (pushed, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.dropped
}
