package pipeline

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/limits"
	"github.com/opd-ai/rtpserver/session"
)

// Element is a named node of the realized pipeline.
type Element interface {
	Name() string
}

// App source properties fixed for every session.
const (
	SourceFormat     = "time"
	SourceStreamType = "stream"
)

// AppSource is the entry point through which producers push buffers.
type AppSource struct {
	name   string
	engine *Engine
	chain  *chain
}

// Name returns the element name.
func (s *AppSource) Name() string {
	return s.name
}

// IsLive reports that the source produces live data.
func (s *AppSource) IsLive() bool {
	return true
}

// Format returns the segment format of pushed buffers.
func (s *AppSource) Format() string {
	return SourceFormat
}

// StreamType returns the stream type of the source.
func (s *AppSource) StreamType() string {
	return SourceStreamType
}

// PushBuffer hands b to the pipeline.
//
// On FlowOK the pipeline owns b and releases it once sent or dropped. Any
// other result leaves ownership with the caller.
func (s *AppSource) PushBuffer(b *bufferpool.Buffer) FlowReturn {
	if b == nil {
		return FlowError
	}
	return s.engine.push(s.chain, b)
}

// Sink writes packets to one connection.
type Sink struct {
	link session.Link

	mu      sync.RWMutex
	conn    net.Conn
	packets atomic.Uint64
	octets  atomic.Uint64
	errors  atomic.Uint64
}

// Name returns the element name.
func (s *Sink) Name() string {
	return s.link.Name
}

// Link returns the descriptor the sink was realized from.
func (s *Sink) Link() session.Link {
	return s.link
}

// Attach sets the connection packets are written to.
func (s *Sink) Attach(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Attached reports whether a connection is set.
func (s *Sink) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Write sends one packet.
func (s *Sink) Write(pkt []byte) error {
	return s.write(pkt, 0)
}

// WriteWithin sends one packet and gives up after timeout when the
// connection blocks. The deadline is cleared afterwards.
func (s *Sink) WriteWithin(pkt []byte, timeout time.Duration) error {
	return s.write(pkt, timeout)
}

func (s *Sink) write(pkt []byte, timeout time.Duration) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", s.link.Name, ErrNotLinked)
	}
	if err := limits.ValidateDatagram(pkt); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("%s: %w", s.link.Name, err)
	}

	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := conn.Write(pkt); err != nil {
		s.errors.Add(1)
		return err
	}
	s.packets.Add(1)
	s.octets.Add(uint64(len(pkt)))
	return nil
}

// Counters returns packets and bytes written and the number of failed writes.
func (s *Sink) Counters() (packets, octets, errors uint64) {
	return s.packets.Load(), s.octets.Load(), s.errors.Load()
}

// Source reads packets from one connection.
type Source struct {
	link session.Link

	mu   sync.RWMutex
	conn net.Conn
}

// Name returns the element name.
func (s *Source) Name() string {
	return s.link.Name
}

// Link returns the descriptor the source was realized from.
func (s *Source) Link() session.Link {
	return s.link
}

// Attach sets the connection packets are read from.
func (s *Source) Attach(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Attached reports whether a connection is set.
func (s *Source) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

func (s *Source) current() net.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}
