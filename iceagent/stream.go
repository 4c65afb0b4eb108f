// Package iceagent adapts externally negotiated ICE connections to the
// transport binder.
//
// Candidate gathering, connectivity checks and signaling are owned by the
// caller. The server only needs a non-owning handle to a negotiated stream
// and the connection behind each of its three components: 1 carries RTP,
// 2 carries outgoing RTCP and 3 carries incoming RTCP.
package iceagent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/ice/v2"
	"github.com/sirupsen/logrus"
)

// ComponentID identifies one component of an ICE stream.
type ComponentID uint16

const (
	// ComponentRTP carries outgoing RTP packets.
	ComponentRTP ComponentID = 1
	// ComponentRTCPOut carries outgoing RTCP reports.
	ComponentRTCPOut ComponentID = 2
	// ComponentRTCPIn carries incoming RTCP feedback.
	ComponentRTCPIn ComponentID = 3
)

// String returns the string representation of ComponentID.
func (c ComponentID) String() string {
	switch c {
	case ComponentRTP:
		return "rtp"
	case ComponentRTCPOut:
		return "rtcp-out"
	case ComponentRTCPIn:
		return "rtcp-in"
	default:
		return fmt.Sprintf("component(%d)", uint16(c))
	}
}

var (
	// ErrComponentNotReady indicates the component has no usable connection.
	ErrComponentNotReady = errors.New("ice component not ready")

	// ErrInvalidComponent indicates a component id outside 1..3.
	ErrInvalidComponent = errors.New("invalid ice component")
)

// Stream is a negotiated ICE stream owned by the signaling layer.
type Stream interface {
	// AgentName identifies the agent that owns the stream.
	AgentName() string
	// StreamID returns the stream id within the agent.
	StreamID() uint
	// Component returns the connection of a component, or
	// ErrComponentNotReady if it has not been negotiated.
	Component(id ComponentID) (net.Conn, error)
}

type component struct {
	agent *ice.Agent
	conn  net.Conn
	state ice.ConnectionState
}

// PionStream implements Stream on top of pion/ice agents.
//
// pion agents negotiate a single component each, so one agent is attached
// per component.
type PionStream struct {
	name string
	id   uint

	mu         sync.RWMutex
	components map[ComponentID]*component
}

// NewPionStream creates an empty stream. Components are added with Attach
// or Connect once negotiated.
func NewPionStream(agentName string, streamID uint) *PionStream {
	return &PionStream{
		name:       agentName,
		id:         streamID,
		components: make(map[ComponentID]*component),
	}
}

// AgentName returns the agent name given at creation.
func (s *PionStream) AgentName() string {
	return s.name
}

// StreamID returns the stream id given at creation.
func (s *PionStream) StreamID() uint {
	return s.id
}

// Attach registers the connection of a negotiated component.
//
// When agent is non-nil its connection state handler is replaced so that a
// failed or closed agent marks the component as not ready.
func (s *PionStream) Attach(id ComponentID, agent *ice.Agent, conn net.Conn) error {
	if id < ComponentRTP || id > ComponentRTCPIn {
		return fmt.Errorf("%w: %d", ErrInvalidComponent, id)
	}
	if conn == nil {
		return fmt.Errorf("conn cannot be nil")
	}

	s.mu.Lock()
	s.components[id] = &component{
		agent: agent,
		conn:  conn,
		state: ice.ConnectionStateConnected,
	}
	s.mu.Unlock()

	if agent != nil {
		if err := agent.OnConnectionStateChange(func(state ice.ConnectionState) {
			s.setState(id, state)
		}); err != nil {
			return fmt.Errorf("watch agent state: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Attach",
		"agent":     s.name,
		"stream_id": s.id,
		"component": id.String(),
	}).Debug("ICE component attached")

	return nil
}

// Connect completes connectivity for one component using the remote
// credentials obtained by the signaling layer, then attaches it.
func (s *PionStream) Connect(ctx context.Context, id ComponentID, agent *ice.Agent, controlling bool, remoteUfrag, remotePwd string) error {
	if agent == nil {
		return fmt.Errorf("agent cannot be nil")
	}

	var (
		conn *ice.Conn
		err  error
	)
	if controlling {
		conn, err = agent.Dial(ctx, remoteUfrag, remotePwd)
	} else {
		conn, err = agent.Accept(ctx, remoteUfrag, remotePwd)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Connect",
			"agent":       s.name,
			"component":   id.String(),
			"controlling": controlling,
			"error":       err.Error(),
		}).Error("ICE connectivity failed")
		return fmt.Errorf("connect %s: %w", id, err)
	}
	return s.Attach(id, agent, conn)
}

func (s *PionStream) setState(id ComponentID, state ice.ConnectionState) {
	s.mu.Lock()
	c, ok := s.components[id]
	if ok {
		c.state = state
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "setState",
		"agent":     s.name,
		"stream_id": s.id,
		"component": id.String(),
		"state":     state.String(),
	}).Info("ICE component state changed")
}

// State returns the last known state of a component.
func (s *PionStream) State(id ComponentID) ice.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.components[id]; ok {
		return c.state
	}
	return ice.ConnectionStateNew
}

// Component returns the connection of a ready component.
func (s *PionStream) Component(id ComponentID) (net.Conn, error) {
	if id < ComponentRTP || id > ComponentRTCPIn {
		return nil, fmt.Errorf("%w: %d", ErrInvalidComponent, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.components[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotReady, id)
	}
	switch c.state {
	case ice.ConnectionStateFailed, ice.ConnectionStateClosed:
		return nil, fmt.Errorf("%w: %s is %s", ErrComponentNotReady, id, c.state)
	}
	return c.conn, nil
}
