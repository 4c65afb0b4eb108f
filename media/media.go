// Package media defines the channel kinds and frame shapes shared by the
// session registry, the buffer pool and the pipeline engine.
//
// Every media channel carried by the server is one of four kinds. Each kind
// owns a fixed RTP payload type, an RTP clock rate and a single-letter prefix
// used to name the pipeline elements that belong to its session.
package media

import (
	"fmt"
	"time"
)

// Kind identifies the type of media carried by a channel.
type Kind int

const (
	// KindVideo carries raw or encoded color video frames.
	KindVideo Kind = iota
	// KindDepth carries depth frames, either 8-bit gray or colorized 16-bit.
	KindDepth
	// KindAudio carries encoded audio packets.
	KindAudio
	// KindEvent carries out-of-band structured event records.
	KindEvent
)

// Kinds lists every supported kind in registration-name order.
var Kinds = []Kind{KindVideo, KindDepth, KindAudio, KindEvent}

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindDepth:
		return "depth"
	case KindAudio:
		return "audio"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k >= KindVideo && k <= KindEvent
}

// IsImage reports whether frames of this kind have a width/height shape.
func (k Kind) IsImage() bool {
	return k == KindVideo || k == KindDepth
}

// Prefix returns the single-letter prefix used in element names
// ("v" for video, "d" for depth, "a" for audio, "o" for events).
func (k Kind) Prefix() string {
	switch k {
	case KindVideo:
		return "v"
	case KindDepth:
		return "d"
	case KindAudio:
		return "a"
	case KindEvent:
		return "o"
	default:
		return "x"
	}
}

// PayloadType returns the RTP payload type negotiated for the kind.
func (k Kind) PayloadType() uint8 {
	switch k {
	case KindVideo:
		return 96
	case KindAudio:
		return 97
	case KindDepth:
		return 98
	case KindEvent:
		return 99
	default:
		return 0
	}
}

// ClockRate returns the RTP clock rate in Hz for the kind.
func (k Kind) ClockRate() uint32 {
	if k == KindAudio {
		return 48000
	}
	return 90000
}

// EncodingName returns the SDP encoding name advertised for the kind.
func (k Kind) EncodingName() string {
	switch k {
	case KindVideo, KindDepth:
		return "RAW"
	case KindAudio:
		return "OPUS"
	case KindEvent:
		return "X-OSC"
	default:
		return ""
	}
}

// RTPTime converts a running-time duration into RTP clock units for the kind.
func (k Kind) RTPTime(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	rate := uint64(k.ClockRate())
	secs := uint64(d / time.Second)
	frac := uint64(d % time.Second)
	return uint32(secs*rate + frac*rate/uint64(time.Second))
}

// Shape describes the memory layout of one image frame.
type Shape struct {
	Width         int
	Height        int
	BytesPerPixel int
}

// Size returns the number of bytes one frame of this shape occupies.
func (s Shape) Size() int {
	return s.Width * s.Height * s.BytesPerPixel
}

// Pixels returns the number of pixels in one frame.
func (s Shape) Pixels() int {
	return s.Width * s.Height
}

// IsZero reports whether the shape is unset.
func (s Shape) IsZero() bool {
	return s.Width == 0 && s.Height == 0 && s.BytesPerPixel == 0
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.Width > 0 && s.Height > 0 && s.BytesPerPixel > 0
}

// String returns a WxHxB rendering of the shape.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.BytesPerPixel)
}
