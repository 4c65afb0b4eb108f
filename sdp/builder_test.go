package sdp

import (
	"net"
	"strings"
	"testing"

	"github.com/opd-ai/rtpserver/iceagent"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type iceStream struct{}

func (iceStream) AgentName() string { return "agent" }
func (iceStream) StreamID() uint    { return 1 }
func (iceStream) Component(iceagent.ComponentID) (net.Conn, error) {
	return nil, iceagent.ErrComponentNotReady
}

func registerAll(t *testing.T) []*session.Session {
	t.Helper()
	r := session.NewRegistry()
	channels := []session.Channel{
		{Kind: media.KindVideo, Width: 640, Height: 480, FPS: 30, Bitrate: 1024, Host: "192.168.1.20", Port: 5000},
		{Kind: media.KindDepth, Width: 320, Height: 240, FPS: 30, Host: "192.168.1.20", Port: 5004},
		{Kind: media.KindAudio, Bitrate: 64000, Host: "192.168.1.20", Port: 5008},
		{Kind: media.KindEvent, Host: "192.168.1.30", Port: 5012},
	}
	for _, ch := range channels {
		_, err := r.Register(ch)
		require.NoError(t, err)
	}
	return r.Sessions()
}

func attribute(md *sdp.MediaDescription, key string) string {
	v, _ := md.Attribute(key)
	return v
}

func TestBuildDescribesEveryUDPSession(t *testing.T) {
	desc, err := Build(registerAll(t), Options{Origin: "192.168.1.10", SessionID: 42})
	require.NoError(t, err)

	assert.Equal(t, uint64(42), desc.Origin.SessionID)
	assert.Equal(t, "192.168.1.10", desc.Origin.UnicastAddress)
	require.NotNil(t, desc.ConnectionInformation)
	assert.Equal(t, "192.168.1.20", desc.ConnectionInformation.Address.Address)
	require.Len(t, desc.MediaDescriptions, 4)

	video := desc.MediaDescriptions[0]
	assert.Equal(t, "video", video.MediaName.Media)
	assert.Equal(t, 5000, video.MediaName.Port.Value)
	assert.Equal(t, []string{"96"}, video.MediaName.Formats)
	assert.Equal(t, "96 RAW/90000", attribute(video, "rtpmap"))
	assert.Equal(t, "96 sampling=RGB; width=640; height=480; depth=8", attribute(video, "fmtp"))
	assert.Equal(t, "5001", attribute(video, "rtcp"))
	require.Len(t, video.Bandwidth, 1)
	assert.Equal(t, uint64(1024), video.Bandwidth[0].Bandwidth)

	depth := desc.MediaDescriptions[1]
	assert.Equal(t, "98 sampling=GRAYSCALE; width=320; height=240; depth=8", attribute(depth, "fmtp"))
	assert.Empty(t, depth.Bandwidth)

	audio := desc.MediaDescriptions[2]
	assert.Equal(t, "audio", audio.MediaName.Media)
	assert.Equal(t, "97 OPUS/48000/2", attribute(audio, "rtpmap"))
	require.Len(t, audio.Bandwidth, 1)
	assert.Equal(t, uint64(64), audio.Bandwidth[0].Bandwidth)

	event := desc.MediaDescriptions[3]
	assert.Equal(t, "application", event.MediaName.Media)
	assert.Equal(t, "99 X-OSC/90000", attribute(event, "rtpmap"))
	require.NotNil(t, event.ConnectionInformation, "event session targets a different host")
	assert.Equal(t, "192.168.1.30", event.ConnectionInformation.Address.Address)
}

func TestBuildVideoEncodingOverride(t *testing.T) {
	desc, err := Build(registerAll(t), Options{VideoEncoding: "H264"})
	require.NoError(t, err)

	video := desc.MediaDescriptions[0]
	assert.Equal(t, "96 H264/90000", attribute(video, "rtpmap"))
	assert.Empty(t, attribute(video, "fmtp"))
}

func TestBuildSkipsICESessions(t *testing.T) {
	r := session.NewRegistry()
	_, err := r.Register(session.Channel{Kind: media.KindAudio, Stream: iceStream{}})
	require.NoError(t, err)

	_, err = Build(r.Sessions(), Options{})
	assert.ErrorIs(t, err, ErrNoSessions)
}

func TestMarshalRoundTrip(t *testing.T) {
	raw, err := Marshal(registerAll(t), Options{SessionName: "stage", SessionID: 7})
	require.NoError(t, err)

	text := string(raw)
	assert.True(t, strings.HasPrefix(text, "v=0"))
	assert.Contains(t, text, "s=stage")
	assert.Contains(t, text, "m=video 5000 RTP/AVP 96")
	assert.Contains(t, text, "a=sendonly")

	var parsed sdp.SessionDescription
	require.NoError(t, parsed.Unmarshal(raw))
	assert.Len(t, parsed.MediaDescriptions, 4)
}
