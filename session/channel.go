package session

import (
	"fmt"

	"github.com/opd-ai/rtpserver/iceagent"
	"github.com/opd-ai/rtpserver/media"
)

// MaxBasePort is the highest usable base port; P+3 must still be a valid port.
const MaxBasePort = 65532

// AudioMode selects the audio encoder tuning.
type AudioMode int

const (
	// AudioVoice tunes the encoder for speech.
	AudioVoice AudioMode = iota
	// AudioMusic tunes the encoder for general audio.
	AudioMusic
)

// String returns the string representation of AudioMode.
func (m AudioMode) String() string {
	switch m {
	case AudioVoice:
		return "voice"
	case AudioMusic:
		return "music"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Channel describes one media stream before it is registered.
//
// Host and Port select direct UDP delivery. A non-nil Stream selects ICE
// delivery, in which case Host and Port are ignored.
type Channel struct {
	Kind    media.Kind
	Width   int
	Height  int
	FPS     int
	Bitrate uint32
	Depth16 bool
	Audio   AudioMode
	Host    string
	Port    int
	Stream  iceagent.Stream
}

// Shape returns the frame shape pushed into the channel's pool.
//
// Video frames are RGB. Depth frames are GRAY8, or RGB when 16-bit depth is
// colorized before sending. Audio and event channels have no shape.
func (c Channel) Shape() media.Shape {
	switch c.Kind {
	case media.KindVideo:
		return media.Shape{Width: c.Width, Height: c.Height, BytesPerPixel: 3}
	case media.KindDepth:
		bpp := 1
		if c.Depth16 {
			bpp = 3
		}
		return media.Shape{Width: c.Width, Height: c.Height, BytesPerPixel: bpp}
	default:
		return media.Shape{}
	}
}

// Mode returns the transport mode the channel will be bound with.
func (c Channel) Mode() Mode {
	if c.Stream != nil {
		return ModeICE
	}
	return ModeUDP
}

// Validate checks the channel description.
func (c Channel) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidChannel, int(c.Kind))
	}
	if c.Kind.IsImage() {
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("%w: %s frame size %dx%d", ErrInvalidChannel, c.Kind, c.Width, c.Height)
		}
		if c.FPS < 0 {
			return fmt.Errorf("%w: %s fps %d", ErrInvalidChannel, c.Kind, c.FPS)
		}
	}
	if c.Depth16 && c.Kind != media.KindDepth {
		return fmt.Errorf("%w: 16-bit flag on %s channel", ErrInvalidChannel, c.Kind)
	}
	if c.Stream == nil {
		if c.Host == "" {
			return fmt.Errorf("%w: %s channel has no destination host", ErrInvalidChannel, c.Kind)
		}
		if c.Port <= 0 || c.Port > MaxBasePort {
			return fmt.Errorf("%w: %s base port %d outside 1..%d", ErrInvalidChannel, c.Kind, c.Port, MaxBasePort)
		}
	}
	return nil
}
