// Package config loads the YAML description of a streaming server: the
// destination, the channels to register, pipeline and pool tuning, and the
// logging setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/rtpserver"
	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a configuration value is missing or out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration file.
type Config struct {
	Destination  string          `yaml:"destination"`
	ListenHost   string          `yaml:"listen_host"`
	VideoBitrate uint32          `yaml:"video_bitrate"`
	AudioBitrate uint32          `yaml:"audio_bitrate"`
	Channels     []ChannelConfig `yaml:"channels"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Pool         PoolConfig      `yaml:"pool"`
	Log          LogConfig       `yaml:"log"`
	MetricsAddr  string          `yaml:"metrics_addr"`
}

// ChannelConfig describes one channel to register.
type ChannelConfig struct {
	Kind      string `yaml:"kind"`
	Port      int    `yaml:"port"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FPS       int    `yaml:"fps"`
	Depth16   bool   `yaml:"depth16"`
	AudioMode string `yaml:"audio_mode"`
}

// PipelineConfig tunes the media pipeline.
type PipelineConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	MTU          int           `yaml:"mtu"`
	RTCPInterval time.Duration `yaml:"rtcp_interval"`
	VideoCodec   string        `yaml:"video_codec"`
	CNAME        string        `yaml:"cname"`
}

// PoolConfig tunes the buffer pools.
type PoolConfig struct {
	MaxIdle  int `yaml:"max_idle"`
	Prealloc int `yaml:"prealloc"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: video on
// port 5000 and audio on port 5010 towards localhost.
func Default() *Config {
	return &Config{
		Destination:  "127.0.0.1",
		VideoBitrate: rtpserver.DefaultVideoBitrate,
		AudioBitrate: rtpserver.DefaultAudioBitrate,
		Channels: []ChannelConfig{
			{Kind: "video", Port: 5000, Width: 640, Height: 480, FPS: 30},
			{Kind: "audio", Port: 5010, AudioMode: "voice"},
		},
		Pipeline: PipelineConfig{
			QueueSize:    pipeline.DefaultQueueSize,
			MTU:          pipeline.DefaultMTU,
			RTCPInterval: pipeline.DefaultRTCPInterval,
			VideoCodec:   pipeline.CodecRaw,
		},
		Pool: PoolConfig{
			MaxIdle:  bufferpool.DefaultMaxIdle,
			Prealloc: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result. A
// channels list in data replaces the default channels.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Channels = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Channels == nil {
		cfg.Channels = Default().Channels
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Parse",
		"channels": len(cfg.Channels),
		"dest":     cfg.Destination,
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Validate checks every value that the server would otherwise reject later.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidConfig)
	}
	if c.VideoBitrate > rtpserver.MaxVideoBitrate {
		return fmt.Errorf("%w: video_bitrate %d > %d", ErrInvalidConfig, c.VideoBitrate, rtpserver.MaxVideoBitrate)
	}
	if c.AudioBitrate > rtpserver.MaxAudioBitrate {
		return fmt.Errorf("%w: audio_bitrate %d > %d", ErrInvalidConfig, c.AudioBitrate, rtpserver.MaxAudioBitrate)
	}

	seen := make(map[media.Kind]bool)
	for i, ch := range c.Channels {
		kind, err := ParseKind(ch.Kind)
		if err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if seen[kind] {
			return fmt.Errorf("%w: channels[%d]: duplicate %s channel", ErrInvalidConfig, i, kind)
		}
		seen[kind] = true

		if ch.Port <= 0 || ch.Port > session.MaxBasePort {
			return fmt.Errorf("%w: channels[%d]: port %d outside 1..%d", ErrInvalidConfig, i, ch.Port, session.MaxBasePort)
		}
		if kind.IsImage() && (ch.Width <= 0 || ch.Height <= 0) {
			return fmt.Errorf("%w: channels[%d]: %s needs width and height", ErrInvalidConfig, i, kind)
		}
		if ch.Depth16 && kind != media.KindDepth {
			return fmt.Errorf("%w: channels[%d]: depth16 only applies to depth", ErrInvalidConfig, i)
		}
		if _, err := ParseAudioMode(ch.AudioMode); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
	}

	switch c.Pipeline.VideoCodec {
	case "", pipeline.CodecRaw, pipeline.CodecH264:
	default:
		return fmt.Errorf("%w: video_codec %q", ErrInvalidConfig, c.Pipeline.VideoCodec)
	}
	if c.Pipeline.QueueSize < 0 || c.Pipeline.MTU < 0 || c.Pipeline.RTCPInterval < 0 {
		return fmt.Errorf("%w: negative pipeline value", ErrInvalidConfig)
	}
	if c.Pool.MaxIdle < 0 || c.Pool.Prealloc < 0 {
		return fmt.Errorf("%w: negative pool value", ErrInvalidConfig)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// ParseKind maps a channel kind name to media.Kind.
func ParseKind(name string) (media.Kind, error) {
	for _, k := range media.Kinds {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown channel kind %q", ErrInvalidConfig, name)
}

// ParseAudioMode maps "voice" or "music" to session.AudioMode. Empty
// selects voice.
func ParseAudioMode(name string) (session.AudioMode, error) {
	switch strings.ToLower(name) {
	case "", "voice":
		return session.AudioVoice, nil
	case "music":
		return session.AudioMusic, nil
	default:
		return session.AudioVoice, fmt.Errorf("%w: audio mode %q", ErrInvalidConfig, name)
	}
}

// ServerOptions converts the configuration into server options.
func (c *Config) ServerOptions() *rtpserver.Options {
	opts := rtpserver.NewOptions()
	opts.Host = c.Destination
	opts.ListenHost = c.ListenHost
	opts.VideoBitrate = c.VideoBitrate
	opts.AudioBitrate = c.AudioBitrate

	for _, ch := range c.Channels {
		if kind, _ := ParseKind(ch.Kind); kind == media.KindAudio {
			opts.AudioMode, _ = ParseAudioMode(ch.AudioMode)
		}
	}

	opts.Pipeline.QueueSize = c.Pipeline.QueueSize
	opts.Pipeline.MTU = c.Pipeline.MTU
	opts.Pipeline.RTCPInterval = c.Pipeline.RTCPInterval
	opts.Pipeline.CNAME = c.Pipeline.CNAME
	if c.Pipeline.VideoCodec != "" {
		opts.Pipeline.VideoCodec = c.Pipeline.VideoCodec
	}
	opts.Pool.MaxIdle = c.Pool.MaxIdle
	opts.Pool.Prealloc = c.Pool.Prealloc
	return opts
}

// Register adds every configured channel to srv.
func (c *Config) Register(srv *rtpserver.Server) error {
	for _, ch := range c.Channels {
		kind, err := ParseKind(ch.Kind)
		if err != nil {
			return err
		}
		switch kind {
		case media.KindVideo:
			err = srv.AddVideoChannel(ch.Port, ch.Width, ch.Height, ch.FPS)
		case media.KindDepth:
			err = srv.AddDepthChannel(ch.Port, ch.Width, ch.Height, ch.FPS, ch.Depth16)
		case media.KindAudio:
			err = srv.AddAudioChannel(ch.Port)
		case media.KindEvent:
			err = srv.AddEventChannel(ch.Port)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l LogConfig) level() (logrus.Level, error) {
	if l.Level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return lvl, nil
}

// Apply configures the standard logrus logger.
func (l LogConfig) Apply() error {
	return l.ApplyTo(logrus.StandardLogger())
}

// ApplyTo configures logger.
func (l LogConfig) ApplyTo(logger *logrus.Logger) error {
	lvl, err := l.level()
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(l.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
