package bufferpool

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Set owns the pools of one server, one per key.
type Set struct {
	cfg   Config
	mu    sync.Mutex
	pools map[Key]*Pool
}

// NewSet returns an empty set whose pools share cfg.
func NewSet(cfg Config) *Set {
	return &Set{
		cfg:   cfg.normalized(),
		pools: make(map[Key]*Pool),
	}
}

// Pool returns the pool for key, creating it on first use.
func (s *Set) Pool(key Key) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pools[key]; ok {
		return p, nil
	}
	p, err := NewPool(key, s.cfg)
	if err != nil {
		return nil, err
	}
	s.pools[key] = p
	return p, nil
}

// Stats returns a snapshot of every pool in the set.
func (s *Set) Stats() map[Key]Stats {
	s.mu.Lock()
	pools := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()

	out := make(map[Key]Stats, len(pools))
	for _, p := range pools {
		out[p.key] = p.Stats()
	}
	return out
}

// Drain waits for every pool in the set to have no buffers in flight.
func (s *Set) Drain(ctx context.Context) error {
	s.mu.Lock()
	pools := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.Unlock()

	for _, p := range pools {
		if err := p.Drain(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Drain",
				"key":      p.key.String(),
				"error":    err.Error(),
			}).Error("Buffer pool did not drain")
			return err
		}
	}
	return nil
}
