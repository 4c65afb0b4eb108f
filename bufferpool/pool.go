// Package bufferpool recycles the memory blocks that carry frames from the
// producers to the network.
//
// One Pool exists per (kind, shape) key. A producer acquires a Buffer,
// fills it and hands it to the pipeline; the pipeline calls Release once it
// is done with the bytes, which returns the block to the pool it came from.
// Allocation is unbounded so producers never block; the number of idle
// blocks kept for reuse is bounded by Config.MaxIdle.
package bufferpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/opd-ai/rtpserver/limits"
	"github.com/opd-ai/rtpserver/media"
	"github.com/sirupsen/logrus"
)

// DefaultMaxIdle is the default number of idle blocks retained per pool.
const DefaultMaxIdle = 16

// DefaultPacketCapacity is the block size used for kinds without a frame
// shape (audio packets and event records).
const DefaultPacketCapacity = limits.MaxEventRecord

// Key identifies one pool. Kinds never share a pool even when their shapes
// are identical.
type Key struct {
	Kind  media.Kind
	Shape media.Shape
}

// String returns a compact rendering of the key for logging.
func (k Key) String() string {
	if k.Shape.IsZero() {
		return k.Kind.String()
	}
	return fmt.Sprintf("%s/%s", k.Kind, k.Shape)
}

// Config controls pool sizing.
type Config struct {
	// MaxIdle bounds the number of released blocks kept for reuse.
	MaxIdle int
	// Prealloc is the number of blocks allocated up front.
	Prealloc int
	// PacketCapacity is the block size for keys with a zero shape.
	PacketCapacity int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxIdle:        DefaultMaxIdle,
		Prealloc:       2,
		PacketCapacity: DefaultPacketCapacity,
	}
}

func (c Config) normalized() Config {
	if c.MaxIdle <= 0 {
		c.MaxIdle = DefaultMaxIdle
	}
	if c.Prealloc < 0 {
		c.Prealloc = 0
	}
	if c.Prealloc > c.MaxIdle {
		c.Prealloc = c.MaxIdle
	}
	if c.PacketCapacity <= 0 {
		c.PacketCapacity = DefaultPacketCapacity
	}
	return c
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Allocated uint64
	Acquired  uint64
	Reused    uint64
	Idle      int
	InFlight  int
}

// Pool hands out fixed-capacity blocks for one key.
type Pool struct {
	key       Key
	blockSize int
	fixedLen  bool
	maxIdle   int

	mu        sync.Mutex
	free      [][]byte
	inFlight  int
	allocated uint64
	acquired  uint64
	reused    uint64
	waiters   []chan struct{}
}

// NewPool creates a pool for key.
//
// Image kinds require a valid shape and get blocks of exactly Shape.Size()
// bytes. Audio and event keys must have a zero shape and get blocks of
// Config.PacketCapacity bytes whose used length is set per buffer.
func NewPool(key Key, cfg Config) (*Pool, error) {
	if !key.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %s", ErrInvalidKey, key.Kind)
	}
	cfg = cfg.normalized()

	p := &Pool{
		key:     key,
		maxIdle: cfg.MaxIdle,
	}
	if key.Kind.IsImage() {
		if !key.Shape.Valid() {
			return nil, fmt.Errorf("%w: shape %s", ErrInvalidKey, key.Shape)
		}
		p.blockSize = key.Shape.Size()
		p.fixedLen = true
	} else {
		if !key.Shape.IsZero() {
			return nil, fmt.Errorf("%w: %s frames have no shape", ErrInvalidKey, key.Kind)
		}
		p.blockSize = cfg.PacketCapacity
	}

	for i := 0; i < cfg.Prealloc; i++ {
		p.free = append(p.free, make([]byte, p.blockSize))
		p.allocated++
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewPool",
		"key":        key.String(),
		"block_size": p.blockSize,
		"max_idle":   p.maxIdle,
		"prealloc":   cfg.Prealloc,
	}).Debug("Buffer pool created")

	return p, nil
}

// Key returns the key this pool serves.
func (p *Pool) Key() Key {
	return p.key
}

// BlockSize returns the capacity of every block handed out by the pool.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Acquire returns a buffer holding a single reference. It never blocks: if
// no idle block is available a new one is allocated.
func (p *Pool) Acquire() *Buffer {
	p.mu.Lock()
	var block []byte
	if n := len(p.free); n > 0 {
		block = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused++
	}
	if block == nil {
		p.allocated++
	}
	p.acquired++
	p.inFlight++
	allocated := p.allocated
	p.mu.Unlock()

	if block == nil {
		block = make([]byte, p.blockSize)
		logrus.WithFields(logrus.Fields{
			"function":  "Acquire",
			"key":       p.key.String(),
			"allocated": allocated,
		}).Trace("Pool grew by one block")
	}

	b := &Buffer{
		pool: p,
		data: block,
	}
	if p.fixedLen {
		b.n = p.blockSize
	}
	b.refs.Store(1)
	return b
}

// put returns a block to the free list. Called exactly once per Acquire.
func (p *Pool) put(block []byte) {
	p.mu.Lock()
	if len(p.free) < p.maxIdle {
		p.free = append(p.free, block)
	}
	p.inFlight--
	var waiters []chan struct{}
	if p.inFlight == 0 {
		waiters = p.waiters
		p.waiters = nil
	}
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Stats returns the current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Allocated: p.allocated,
		Acquired:  p.acquired,
		Reused:    p.reused,
		Idle:      len(p.free),
		InFlight:  p.inFlight,
	}
}

// Drain waits until every acquired buffer has been released, then drops
// the idle blocks.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight == 0 {
		p.free = nil
		p.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	p.waiters = append(p.waiters, w)
	inFlight := p.inFlight
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Drain",
		"key":       p.key.String(),
		"in_flight": inFlight,
	}).Debug("Waiting for in-flight buffers")

	select {
	case <-w:
		p.mu.Lock()
		p.free = nil
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain %s: %w", p.key, ctx.Err())
	}
}
