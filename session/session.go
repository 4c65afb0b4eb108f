// Package session assigns every media channel its RTP/RTCP session and
// describes the pipeline elements that carry it.
//
// Sessions are created by a Registry before playback starts. Ids begin at
// 0 and grow by one per registration regardless of the channel kind, and
// each kind may be registered at most once. Once the registry is frozen
// the set of sessions and their transport bindings never change.
package session

import (
	"github.com/opd-ai/rtpserver/media"
)

// Session is one registered channel together with its transport links.
type Session struct {
	id      uint32
	channel Channel
	links   [3]Link
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// Kind returns the channel kind.
func (s *Session) Kind() media.Kind {
	return s.channel.Kind
}

// Mode returns the transport mode.
func (s *Session) Mode() Mode {
	return s.channel.Mode()
}

// Channel returns the channel description the session was registered with.
func (s *Session) Channel() Channel {
	return s.channel
}

// Shape returns the frame shape of the channel.
func (s *Session) Shape() media.Shape {
	return s.channel.Shape()
}

// Link returns the descriptor of one link.
func (s *Session) Link(role Role) Link {
	return s.links[role]
}

// Links returns the three link descriptors in component order.
func (s *Session) Links() []Link {
	out := make([]Link, len(s.links))
	copy(out, s.links[:])
	return out
}

// SourceName returns the name of the application source element.
func (s *Session) SourceName() string {
	return "appsrc" + s.channel.Kind.String()
}

// QueueName returns the name of the drop-oldest queue element.
func (s *Session) QueueName() string {
	return s.channel.Kind.Prefix() + "queue"
}

// EncoderName returns the name of the encoder element.
func (s *Session) EncoderName() string {
	return s.channel.Kind.Prefix() + "encoder"
}

// PayloaderName returns the name of the RTP payloader element.
func (s *Session) PayloaderName() string {
	return s.channel.Kind.Prefix() + "pay"
}

// Topology is the description of every session the pipeline must realize.
type Topology struct {
	Sessions []*Session
}

// ElementNames returns every element name in the topology.
func (t Topology) ElementNames() []string {
	var names []string
	for _, s := range t.Sessions {
		names = append(names, s.SourceName(), s.QueueName(), s.EncoderName(), s.PayloaderName())
		for _, l := range s.links {
			names = append(names, l.Name)
		}
	}
	return names
}
