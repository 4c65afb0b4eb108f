package iceagent

import (
	"net"
	"testing"

	"github.com/pion/ice/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentIDString(t *testing.T) {
	assert.Equal(t, "rtp", ComponentRTP.String())
	assert.Equal(t, "rtcp-out", ComponentRTCPOut.String())
	assert.Equal(t, "rtcp-in", ComponentRTCPIn.String())
	assert.Equal(t, "component(7)", ComponentID(7).String())
}

func TestPionStreamComponentNotReady(t *testing.T) {
	s := NewPionStream("agent0", 3)
	assert.Equal(t, "agent0", s.AgentName())
	assert.Equal(t, uint(3), s.StreamID())

	_, err := s.Component(ComponentRTP)
	assert.ErrorIs(t, err, ErrComponentNotReady)

	_, err = s.Component(ComponentID(0))
	assert.ErrorIs(t, err, ErrInvalidComponent)
	assert.Equal(t, ice.ConnectionStateNew, s.State(ComponentRTP))
}

func TestPionStreamAttach(t *testing.T) {
	s := NewPionStream("agent0", 1)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	require.NoError(t, s.Attach(ComponentRTCPOut, nil, a))
	conn, err := s.Component(ComponentRTCPOut)
	require.NoError(t, err)
	assert.Same(t, a, conn)
	assert.Equal(t, ice.ConnectionStateConnected, s.State(ComponentRTCPOut))

	assert.Error(t, s.Attach(ComponentRTP, nil, nil))
	assert.ErrorIs(t, s.Attach(ComponentID(4), nil, a), ErrInvalidComponent)
}

func TestPionStreamFailedComponent(t *testing.T) {
	s := NewPionStream("agent0", 1)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	require.NoError(t, s.Attach(ComponentRTP, nil, a))
	s.setState(ComponentRTP, ice.ConnectionStateFailed)

	_, err := s.Component(ComponentRTP)
	assert.ErrorIs(t, err, ErrComponentNotReady)

	s.setState(ComponentRTP, ice.ConnectionStateConnected)
	_, err = s.Component(ComponentRTP)
	assert.NoError(t, err)
}

func TestPionStreamAttachWithAgent(t *testing.T) {
	agent, err := ice.NewAgent(&ice.AgentConfig{
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4},
	})
	require.NoError(t, err)
	defer agent.Close()

	s := NewPionStream("agent0", 1)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	require.NoError(t, s.Attach(ComponentRTCPIn, agent, a))
	_, err = s.Component(ComponentRTCPIn)
	assert.NoError(t, err)
}
