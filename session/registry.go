package session

import (
	"fmt"
	"sync"

	"github.com/opd-ai/rtpserver/media"
	"github.com/sirupsen/logrus"
)

// Registry allocates session ids and keeps the registered sessions.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint32
	frozen   bool
	sessions []*Session
	byKind   map[media.Kind]*Session
	byStream map[streamKey]*Session
}

// streamKey identifies an ICE stream. Each stream carries one session.
type streamKey struct {
	agent string
	id    uint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   make(map[media.Kind]*Session),
		byStream: make(map[streamKey]*Session),
	}
}

// Register creates the session for ch.
//
// Parameters:
//   - ch: Channel description; a non-nil Stream selects ICE delivery
//
// Returns:
//   - *Session: The new session
//   - error: ErrRegistryFrozen, ErrDuplicateChannel or ErrInvalidChannel
//     (also returned when ch.Stream already carries another session);
//     no state changes on error
func (r *Registry) Register(ch Channel) (*Session, error) {
	if err := ch.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Register",
			"kind":     ch.Kind.String(),
			"error":    err.Error(),
		}).Error("Channel validation failed")
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, fmt.Errorf("register %s: %w", ch.Kind, ErrRegistryFrozen)
	}
	if _, exists := r.byKind[ch.Kind]; exists {
		return nil, fmt.Errorf("register %s: %w", ch.Kind, ErrDuplicateChannel)
	}
	var key streamKey
	if ch.Stream != nil {
		key = streamKey{agent: ch.Stream.AgentName(), id: ch.Stream.StreamID()}
		if other, taken := r.byStream[key]; taken {
			return nil, fmt.Errorf("register %s: %w: stream %s/%d already carries %s",
				ch.Kind, ErrInvalidChannel, key.agent, key.id, other.Kind())
		}
	}

	s := &Session{
		id:      r.nextID,
		channel: ch,
		links:   buildLinks(ch.Kind.Prefix(), ch),
	}
	r.nextID++
	r.sessions = append(r.sessions, s)
	r.byKind[ch.Kind] = s
	if ch.Stream != nil {
		r.byStream[key] = s
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Register",
		"session_id": s.id,
		"kind":       ch.Kind.String(),
		"mode":       s.Mode().String(),
		"rtp":        s.links[RoleRTPSink].Address(),
		"rtcp_out":   s.links[RoleRTCPSink].Address(),
		"rtcp_in":    s.links[RoleRTCPSource].Address(),
	}).Info("Session registered")

	return s, nil
}

// Lookup returns the session registered for kind.
func (r *Registry) Lookup(kind media.Kind) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrChannelNotRegistered)
	}
	return s, nil
}

// Freeze rejects every later registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Sessions returns the registered sessions in id order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Topology returns the pipeline description of every registered session.
func (r *Registry) Topology() Topology {
	return Topology{Sessions: r.Sessions()}
}
