package pipeline

import (
	"testing"
	"time"

	"github.com/opd-ai/rtpserver/media"
	"github.com/pion/rtp/codecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentPayloader(t *testing.T) {
	payload := make([]byte, 25)
	chunks := fragmentPayloader{}.Payload(10, payload)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)

	assert.Nil(t, fragmentPayloader{}.Payload(10, nil))
	assert.Nil(t, fragmentPayloader{}.Payload(0, payload))
}

func TestPayloaderSelection(t *testing.T) {
	audio, err := newPayloader("apay", media.KindAudio, DefaultMTU, CodecRaw)
	require.NoError(t, err)
	assert.IsType(t, &codecs.OpusPayloader{}, audio.payloader)
	assert.False(t, audio.markLast)

	h264, err := newPayloader("vpay", media.KindVideo, DefaultMTU, CodecH264)
	require.NoError(t, err)
	assert.IsType(t, &codecs.H264Payloader{}, h264.payloader)

	depth, err := newPayloader("dpay", media.KindDepth, DefaultMTU, CodecH264)
	require.NoError(t, err)
	assert.IsType(t, fragmentPayloader{}, depth.payloader, "depth frames are always sent raw")
}

func TestPayloaderTimestamps(t *testing.T) {
	p, err := newPayloader("opay", media.KindEvent, DefaultMTU, CodecRaw)
	require.NoError(t, err)

	a := p.Packetize([]byte("a"), time.Second)
	b := p.Packetize([]byte("b"), 2*time.Second)
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	assert.Equal(t, uint8(99), a[0].PayloadType)
	assert.Equal(t, uint32(90000), b[0].Timestamp-a[0].Timestamp)
	assert.Equal(t, p.RTPTime(time.Second), a[0].Timestamp)
	assert.Equal(t, a[0].SequenceNumber+1, b[0].SequenceNumber)
	assert.Nil(t, p.Packetize(nil, 0))
}

func TestNTPTime(t *testing.T) {
	assert.Equal(t, uint64(ntpEpochOffset)<<32, ntpTime(time.Unix(0, 0)))
	half := ntpTime(time.Unix(0, int64(500*time.Millisecond)))
	assert.Equal(t, uint64(1)<<31, half&0xFFFFFFFF)
}
