package pipeline

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/rtpserver/media"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// rtpHeaderSize is the size of an RTP header without CSRCs or extensions.
const rtpHeaderSize = 12

// Video codecs understood by the payloader.
const (
	CodecRaw  = "raw"
	CodecH264 = "h264"
)

// fragmentPayloader splits a frame into MTU-sized chunks without copying.
type fragmentPayloader struct{}

// Payload implements rtp.Payloader.
func (fragmentPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	size := int(mtu)
	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := off + size
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[off:end])
	}
	return out
}

// Payloader turns encoded frames into RTP packets for one session.
type Payloader struct {
	name        string
	kind        media.Kind
	payloadType uint8
	ssrc        uint32
	baseTS      uint32
	mtu         uint16
	payloader   rtp.Payloader
	sequencer   rtp.Sequencer
	markLast    bool

	mu sync.Mutex
}

func newPayloader(name string, kind media.Kind, mtu uint16, codec string) (*Payloader, error) {
	ssrc, err := randomUint32()
	if err != nil {
		return nil, fmt.Errorf("generate ssrc: %w", err)
	}
	baseTS, err := randomUint32()
	if err != nil {
		return nil, fmt.Errorf("generate timestamp base: %w", err)
	}

	p := &Payloader{
		name:        name,
		kind:        kind,
		payloadType: kind.PayloadType(),
		ssrc:        ssrc,
		baseTS:      baseTS,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		markLast:    kind != media.KindAudio,
	}

	switch {
	case kind == media.KindAudio:
		p.payloader = &codecs.OpusPayloader{}
	case kind == media.KindVideo && codec == CodecH264:
		p.payloader = &codecs.H264Payloader{}
	default:
		p.payloader = fragmentPayloader{}
	}
	return p, nil
}

// Name returns the element name.
func (p *Payloader) Name() string {
	return p.name
}

// SSRC returns the synchronization source of the session.
func (p *Payloader) SSRC() uint32 {
	return p.ssrc
}

// RTPTime converts a running time into the session's RTP timestamp.
func (p *Payloader) RTPTime(running time.Duration) uint32 {
	return p.baseTS + p.kind.RTPTime(running)
}

// Packetize splits payload into RTP packets stamped with pts. The packets
// reference payload memory, so they must be sent before the buffer is
// released.
func (p *Payloader) Packetize(payload []byte, pts time.Duration) []*rtp.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	chunks := p.payloader.Payload(p.mtu-rtpHeaderSize, payload)
	if len(chunks) == 0 {
		return nil
	}

	ts := p.RTPTime(pts)
	packets := make([]*rtp.Packet, len(chunks))
	for i, chunk := range chunks {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         p.markLast && i == len(chunks)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: chunk,
		}
	}
	return packets
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
