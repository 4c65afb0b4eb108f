package pipeline

import (
	"sync"

	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
)

// EncoderSettings holds the mutable encoder parameters of one session.
type EncoderSettings struct {
	// Bitrate is the target bitrate, in kbit/s for image kinds and in
	// bit/s for audio.
	Bitrate uint32
	// AudioMode tunes audio encoders for voice or music.
	AudioMode session.AudioMode
}

// Encoder turns one pushed frame into the payload handed to the RTP
// payloader. Implementations may return frame itself.
type Encoder interface {
	Encode(frame []byte) ([]byte, error)
}

// Configurable is implemented by encoders that react to setting changes.
// Configure receives the full settings after every SetBitrate; an error
// keeps the previous bitrate.
type Configurable interface {
	Configure(settings EncoderSettings) error
}

// EncoderFactory builds the encoder for a kind.
//
// Bitrate changes reach the built encoder only if it implements
// Configurable. Otherwise SetBitrate just records the value, which is the
// case for Passthrough.
type EncoderFactory func(kind media.Kind) Encoder

// Passthrough sends frames unchanged. It is used for raw image channels
// and for producers that push pre-encoded audio.
type Passthrough struct{}

// Encode returns frame.
func (Passthrough) Encode(frame []byte) ([]byte, error) {
	return frame, nil
}

// PassthroughFactory returns a Passthrough encoder for every kind.
func PassthroughFactory(media.Kind) Encoder {
	return Passthrough{}
}

// EncoderElement wraps an Encoder with its settings.
type EncoderElement struct {
	name string
	kind media.Kind
	enc  Encoder

	mu       sync.RWMutex
	settings EncoderSettings
}

func newEncoderElement(name string, kind media.Kind, enc Encoder, settings EncoderSettings) *EncoderElement {
	return &EncoderElement{
		name:     name,
		kind:     kind,
		enc:      enc,
		settings: settings,
	}
}

// Name returns the element name.
func (e *EncoderElement) Name() string {
	return e.name
}

// Settings returns a copy of the current settings.
func (e *EncoderElement) Settings() EncoderSettings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// SetBitrate updates the target bitrate.
func (e *EncoderElement) SetBitrate(bitrate uint32) error {
	e.mu.Lock()
	old := e.settings.Bitrate
	e.settings.Bitrate = bitrate
	settings := e.settings
	e.mu.Unlock()

	if c, ok := e.enc.(Configurable); ok {
		if err := c.Configure(settings); err != nil {
			e.mu.Lock()
			e.settings.Bitrate = old
			e.mu.Unlock()
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SetBitrate",
		"element":     e.name,
		"old_bitrate": old,
		"new_bitrate": bitrate,
	}).Info("Encoder bitrate updated")
	return nil
}

// Encode runs the wrapped encoder.
func (e *EncoderElement) Encode(frame []byte) ([]byte, error) {
	return e.enc.Encode(frame)
}
