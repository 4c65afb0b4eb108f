package bufferpool

import (
	"fmt"
	"sync/atomic"

	"github.com/opd-ai/rtpserver/clock"
)

// Buffer is a reference-counted lease on one pooled block.
//
// The block goes back to its pool when the last reference is released.
// A Buffer must not be used after its final Release.
type Buffer struct {
	pool *Pool
	data []byte
	n    int
	refs atomic.Int32

	// Stamp carries the timing metadata assigned by the producer.
	Stamp clock.Stamp
}

// Bytes returns the used portion of the block.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Block returns the full block regardless of the used length.
func (b *Buffer) Block() []byte {
	return b.data
}

// Len returns the used length.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the block capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// SetLen sets the used length of a variable-size buffer.
func (b *Buffer) SetLen(n int) error {
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, n, len(b.data))
	}
	b.n = n
	return nil
}

// Fill copies payload into the block and sets the used length.
func (b *Buffer) Fill(payload []byte) error {
	if err := b.SetLen(len(payload)); err != nil {
		return err
	}
	copy(b.data, payload)
	return nil
}

// Key returns the key of the pool that owns the block.
func (b *Buffer) Key() Key {
	return b.pool.key
}

// Ref adds a reference for a stage that shares the buffer.
func (b *Buffer) Ref() error {
	for {
		r := b.refs.Load()
		if r <= 0 {
			return ErrDoubleRelease
		}
		if b.refs.CompareAndSwap(r, r+1) {
			return nil
		}
	}
}

// Release drops one reference. The block is returned to its pool exactly
// once, when the last reference goes away; further calls report
// ErrDoubleRelease and leave the pool untouched.
func (b *Buffer) Release() error {
	for {
		r := b.refs.Load()
		if r <= 0 {
			return ErrDoubleRelease
		}
		if b.refs.CompareAndSwap(r, r-1) {
			if r == 1 {
				b.pool.put(b.data)
			}
			return nil
		}
	}
}
