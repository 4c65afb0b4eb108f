package rtpserver

import (
	"time"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/metrics"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/qos"
	"github.com/opd-ai/rtpserver/session"
)

// Bitrate limits and defaults.
const (
	DefaultVideoBitrate = 1024
	MaxVideoBitrate     = 6000
	DefaultAudioBitrate = 4000
	MaxAudioBitrate     = 650000
)

// DefaultDrainTimeout bounds how long Stop waits for in-flight buffers.
const DefaultDrainTimeout = 2 * time.Second

// Options contains server configuration.
type Options struct {
	// Host is the UDP destination of every channel registered through the
	// Add*Channel helpers.
	Host string
	// ListenHost is the local address the incoming RTCP links listen on.
	ListenHost string

	// VideoBitrate in kbit/s, applied to the video and depth encoders.
	VideoBitrate uint32
	// AudioBitrate in bit/s.
	AudioBitrate uint32
	// AudioMode tunes the audio encoder.
	AudioMode session.AudioMode

	Pipeline     pipeline.Config
	Pool         bufferpool.Config
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Thresholds   *qos.Thresholds
	DrainTimeout time.Duration
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Host:         "127.0.0.1",
		VideoBitrate: DefaultVideoBitrate,
		AudioBitrate: DefaultAudioBitrate,
		AudioMode:    session.AudioVoice,
		Pipeline:     pipeline.DefaultConfig(),
		Pool:         bufferpool.DefaultConfig(),
		Thresholds:   qos.DefaultThresholds(),
		DrainTimeout: DefaultDrainTimeout,
	}
}
