package clock

import (
	"sync"
	"time"
)

// Stamp holds the timing metadata attached to one outgoing buffer.
type Stamp struct {
	PTS       time.Duration
	DTS       time.Duration
	Duration  time.Duration
	Offset    uint64
	OffsetEnd uint64
}

// Synchronizer produces timestamps for a single channel.
//
// The first call only establishes the baseline and yields nothing. Every
// later call stamps the frame with the current running time, a duration
// equal to the gap since the previous call and a sequence number that
// starts at 0 and grows by one per emitted frame.
type Synchronizer struct {
	mu      sync.Mutex
	started bool
	prev    time.Duration
	seq     uint64
}

// NewSynchronizer returns a synchronizer in its initial, baseline-pending state.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// Stamp computes the timestamps for a frame produced at running time now.
//
// Returns false on the first call, in which case the caller must not emit
// the frame.
func (s *Synchronizer) Stamp(now time.Duration) (Stamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.prev = now
		return Stamp{}, false
	}

	st := Stamp{
		PTS:       now,
		DTS:       now,
		Duration:  now - s.prev,
		Offset:    s.seq,
		OffsetEnd: s.seq + 1,
	}
	s.seq++
	s.prev = now
	return st, true
}

// Emitted returns how many frames have been stamped so far.
func (s *Synchronizer) Emitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
