package session

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/rtpserver/iceagent"
	"github.com/opd-ai/rtpserver/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	name string
	id   uint
}

func (f *fakeStream) AgentName() string { return f.name }
func (f *fakeStream) StreamID() uint    { return f.id }
func (f *fakeStream) Component(id iceagent.ComponentID) (net.Conn, error) {
	return nil, iceagent.ErrComponentNotReady
}

func videoChannel(port int) Channel {
	return Channel{Kind: media.KindVideo, Width: 640, Height: 480, FPS: 30, Host: "127.0.0.1", Port: port}
}

func TestRegisterAssignsSequentialIDsAcrossKinds(t *testing.T) {
	r := NewRegistry()
	channels := []Channel{
		videoChannel(5000),
		{Kind: media.KindDepth, Width: 320, Height: 240, Host: "127.0.0.1", Port: 5004},
		{Kind: media.KindAudio, Host: "127.0.0.1", Port: 5008},
		{Kind: media.KindEvent, Host: "127.0.0.1", Port: 5012},
	}

	for i, ch := range channels {
		s, err := r.Register(ch)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), s.ID())
		assert.Equal(t, ch.Kind, s.Kind())
	}

	sessions := r.Sessions()
	require.Len(t, sessions, 4)
	for i, s := range sessions {
		assert.Equal(t, uint32(i), s.ID())
	}
}

func TestRegisterUDPLinks(t *testing.T) {
	for _, kind := range media.Kinds {
		t.Run(kind.String(), func(t *testing.T) {
			r := NewRegistry()
			ch := Channel{Kind: kind, Host: "10.0.0.2", Port: 6000}
			if kind.IsImage() {
				ch.Width, ch.Height = 8, 8
			}
			s, err := r.Register(ch)
			require.NoError(t, err)
			assert.Equal(t, ModeUDP, s.Mode())

			rtp := s.Link(RoleRTPSink)
			assert.Equal(t, "10.0.0.2", rtp.Host)
			assert.Equal(t, 6000, rtp.Port)
			assert.True(t, rtp.IPv4Only)
			assert.Equal(t, kind.Prefix()+"rtpsink", rtp.Name)

			out := s.Link(RoleRTCPSink)
			assert.Equal(t, "10.0.0.2", out.Host)
			assert.Equal(t, 6001, out.Port)
			assert.False(t, out.Sync)
			assert.False(t, out.Async)
			assert.Equal(t, kind.Prefix()+"rtcpsink", out.Name)

			in := s.Link(RoleRTCPSource)
			assert.Empty(t, in.Host, "rtcp source listens without a host")
			assert.Equal(t, 6003, in.Port)
			assert.Equal(t, kind.Prefix()+"rtcpsrc", in.Name)
		})
	}
}

func TestRegisterICELinks(t *testing.T) {
	r := NewRegistry()
	stream := &fakeStream{name: "agent0", id: 7}
	ch := videoChannel(5000)
	ch.Stream = stream

	s, err := r.Register(ch)
	require.NoError(t, err)
	assert.Equal(t, ModeICE, s.Mode())

	for i, l := range s.Links() {
		assert.Equal(t, ModeICE, l.Mode)
		assert.Equal(t, "agent0", l.Agent)
		assert.Equal(t, uint(7), l.StreamID)
		assert.Equal(t, iceagent.ComponentID(i+1), l.Component)
		assert.Empty(t, l.Host)
		assert.Zero(t, l.Port)
	}
	assert.Equal(t, time.Duration(0), s.Link(RoleRTPSink).TSOffset)
}

func TestRegisterRejectsSharedICEStream(t *testing.T) {
	r := NewRegistry()
	stream := &fakeStream{name: "agent0", id: 7}
	ch := videoChannel(5000)
	ch.Stream = stream
	_, err := r.Register(ch)
	require.NoError(t, err)

	_, err = r.Register(Channel{Kind: media.KindAudio, Stream: &fakeStream{name: "agent0", id: 7}})
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Len(t, r.Sessions(), 1)

	s, err := r.Register(Channel{Kind: media.KindAudio, Stream: &fakeStream{name: "agent0", id: 8}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.ID())

	s, err = r.Register(Channel{Kind: media.KindEvent, Stream: &fakeStream{name: "agent1", id: 7}})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s.ID())
}

func TestRegisterErrorsDoNotMutateState(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(videoChannel(5000))
	require.NoError(t, err)

	_, err = r.Register(videoChannel(5100))
	assert.ErrorIs(t, err, ErrDuplicateChannel)

	_, err = r.Register(Channel{Kind: media.KindDepth, Host: "127.0.0.1", Port: 5004})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	s, err := r.Register(Channel{Kind: media.KindAudio, Host: "127.0.0.1", Port: 5008})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.ID(), "failed registrations must not consume ids")

	r.Freeze()
	assert.True(t, r.Frozen())
	_, err = r.Register(Channel{Kind: media.KindEvent, Host: "127.0.0.1", Port: 5012})
	assert.ErrorIs(t, err, ErrRegistryFrozen)
	assert.Len(t, r.Sessions(), 2)
}

func TestChannelValidate(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
		ok   bool
	}{
		{"valid video", videoChannel(5000), true},
		{"unknown kind", Channel{Kind: media.Kind(12), Host: "h", Port: 1}, false},
		{"missing host", Channel{Kind: media.KindAudio, Port: 5000}, false},
		{"port zero", Channel{Kind: media.KindAudio, Host: "h"}, false},
		{"port too high", Channel{Kind: media.KindAudio, Host: "h", Port: 65533}, false},
		{"highest port", Channel{Kind: media.KindAudio, Host: "h", Port: 65532}, true},
		{"depth16 on video", Channel{Kind: media.KindVideo, Width: 1, Height: 1, Depth16: true, Host: "h", Port: 1}, false},
		{"ice ignores port", Channel{Kind: media.KindEvent, Stream: &fakeStream{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ch.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidChannel)
			}
		})
	}
}

func TestChannelShape(t *testing.T) {
	assert.Equal(t, media.Shape{Width: 4, Height: 2, BytesPerPixel: 3},
		Channel{Kind: media.KindVideo, Width: 4, Height: 2}.Shape())
	assert.Equal(t, media.Shape{Width: 4, Height: 2, BytesPerPixel: 1},
		Channel{Kind: media.KindDepth, Width: 4, Height: 2}.Shape())
	assert.Equal(t, media.Shape{Width: 4, Height: 2, BytesPerPixel: 3},
		Channel{Kind: media.KindDepth, Width: 4, Height: 2, Depth16: true}.Shape())
	assert.True(t, Channel{Kind: media.KindAudio}.Shape().IsZero())
}

func TestLookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(media.KindVideo)
	assert.ErrorIs(t, err, ErrChannelNotRegistered)

	s, err := r.Register(videoChannel(5000))
	require.NoError(t, err)
	got, err := r.Lookup(media.KindVideo)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestTopologyElementNames(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(videoChannel(5000))
	require.NoError(t, err)

	names := r.Topology().ElementNames()
	assert.ElementsMatch(t, []string{
		"appsrcvideo", "vqueue", "vencoder", "vpay",
		"vrtpsink", "vrtcpsink", "vrtcpsrc",
	}, names)
}
