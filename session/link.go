package session

import (
	"fmt"
	"time"

	"github.com/opd-ai/rtpserver/iceagent"
)

// Mode selects how a session reaches the network.
type Mode int

const (
	// ModeUDP sends to a static host and port.
	ModeUDP Mode = iota
	// ModeICE sends over the components of a negotiated ICE stream.
	ModeICE
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeUDP:
		return "udp"
	case ModeICE:
		return "ice"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Role identifies which of a session's three links a descriptor describes.
type Role int

const (
	// RoleRTPSink sends RTP packets.
	RoleRTPSink Role = iota
	// RoleRTCPSink sends RTCP reports.
	RoleRTCPSink
	// RoleRTCPSource receives RTCP feedback.
	RoleRTCPSource
)

// Roles lists the link roles in component order.
var Roles = []Role{RoleRTPSink, RoleRTCPSink, RoleRTCPSource}

// String returns the string representation of Role.
func (r Role) String() string {
	switch r {
	case RoleRTPSink:
		return "rtp-sink"
	case RoleRTCPSink:
		return "rtcp-sink"
	case RoleRTCPSource:
		return "rtcp-source"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Component returns the ICE component that carries the role.
func (r Role) Component() iceagent.ComponentID {
	return iceagent.ComponentID(int(r) + 1)
}

// PortOffset returns the offset from the base port used by the role in UDP
// mode. Offset 2 is intentionally skipped.
func (r Role) PortOffset() int {
	switch r {
	case RoleRTCPSink:
		return 1
	case RoleRTCPSource:
		return 3
	default:
		return 0
	}
}

// Link describes one network element of a session.
//
// In UDP mode Host (sinks only) and Port are set. In ICE mode Agent,
// StreamID and Component are set and the host/port fields stay empty.
type Link struct {
	Role     Role
	Name     string
	Mode     Mode
	Host     string
	Port     int
	IPv4Only bool
	Sync     bool
	Async    bool
	TSOffset time.Duration

	Agent     string
	StreamID  uint
	Component iceagent.ComponentID
}

// IsSink reports whether the link sends packets.
func (l Link) IsSink() bool {
	return l.Role != RoleRTCPSource
}

// Address returns host:port for UDP links, or agent/stream/component for ICE.
func (l Link) Address() string {
	if l.Mode == ModeICE {
		return fmt.Sprintf("%s/%d/%d", l.Agent, l.StreamID, l.Component)
	}
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

func buildLinks(prefix string, ch Channel) [3]Link {
	var links [3]Link
	for _, role := range Roles {
		l := Link{
			Role:  role,
			Name:  prefix + linkSuffix(role),
			Mode:  ch.Mode(),
			Sync:  true,
			Async: true,
		}
		if role != RoleRTPSink {
			l.Sync = false
			l.Async = false
		}

		if l.Mode == ModeICE {
			l.Agent = ch.Stream.AgentName()
			l.StreamID = ch.Stream.StreamID()
			l.Component = role.Component()
		} else {
			l.Port = ch.Port + role.PortOffset()
			if l.IsSink() {
				l.Host = ch.Host
				l.IPv4Only = true
			}
		}
		links[role] = l
	}
	return links
}

func linkSuffix(r Role) string {
	switch r {
	case RoleRTPSink:
		return "rtpsink"
	case RoleRTCPSink:
		return "rtcpsink"
	default:
		return "rtcpsrc"
	}
}
