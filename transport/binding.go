package transport

import (
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
)

// Binding holds the three connections of one session.
//
// UDP connections are owned by the binding and closed by Close. ICE
// connections belong to the signaling layer and are left open.
type Binding struct {
	SessionID uint32
	Kind      media.Kind
	Mode      session.Mode
	RTP       net.Conn
	RTCPOut   net.Conn
	RTCPIn    net.Conn

	closeOnce sync.Once
}

// Conn returns the connection for a link role.
func (b *Binding) Conn(role session.Role) net.Conn {
	switch role {
	case session.RoleRTPSink:
		return b.RTP
	case session.RoleRTCPSink:
		return b.RTCPOut
	case session.RoleRTCPSource:
		return b.RTCPIn
	default:
		return nil
	}
}

func (b *Binding) set(role session.Role, c net.Conn) {
	switch role {
	case session.RoleRTPSink:
		b.RTP = c
	case session.RoleRTCPSink:
		b.RTCPOut = c
	case session.RoleRTCPSource:
		b.RTCPIn = c
	}
}

// Close releases the connections the binding owns.
func (b *Binding) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		if b.Mode != session.ModeUDP {
			return
		}
		for _, c := range []net.Conn{b.RTP, b.RTCPOut, b.RTCPIn} {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Bindings is the set of bindings produced by one Bind call.
type Bindings struct {
	mu        sync.RWMutex
	bySession map[uint32]*Binding
}

func newBindings() *Bindings {
	return &Bindings{bySession: make(map[uint32]*Binding)}
}

func (bs *Bindings) add(b *Binding) {
	bs.mu.Lock()
	bs.bySession[b.SessionID] = b
	bs.mu.Unlock()
}

// Get returns the binding of a session.
func (bs *Bindings) Get(sessionID uint32) (*Binding, bool) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	b, ok := bs.bySession[sessionID]
	return b, ok
}

// All returns every binding ordered by session id.
func (bs *Bindings) All() []*Binding {
	bs.mu.RLock()
	out := make([]*Binding, 0, len(bs.bySession))
	for _, b := range bs.bySession {
		out = append(out, b)
	}
	bs.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of bindings.
func (bs *Bindings) Len() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.bySession)
}

// Close closes every binding.
func (bs *Bindings) Close() error {
	var errs []error
	for _, b := range bs.All() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
