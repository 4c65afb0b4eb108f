package rtpserver

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/event"
	"github.com/opd-ai/rtpserver/limits"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/pixels"
	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
)

// ingress is the per-channel push state.
type ingress struct {
	session *session.Session
	source  *pipeline.AppSource
	pool    *bufferpool.Pool
	sync    *clock.Synchronizer
}

// frame describes one validated payload waiting to be copied into a
// pooled buffer. sent, when set, runs once the pipeline accepted it.
type frame struct {
	size int
	fill func(dst []byte) error
	sent func()
}

// PushVideoFrame sends one RGB frame on the video channel.
//
// The first frame after Play only sets the timestamp baseline and is not
// sent.
func (s *Server) PushVideoFrame(rgb []byte) error {
	return s.push(media.KindVideo, func(sess *session.Session, _ int) (frame, error) {
		return rawFrame(sess, rgb)
	})
}

// PushDepthFrame sends one depth frame in the channel's pixel layout:
// GRAY8 for 8-bit channels or already colorized RGB for 16-bit channels.
func (s *Server) PushDepthFrame(data []byte) error {
	return s.push(media.KindDepth, func(sess *session.Session, _ int) (frame, error) {
		return rawFrame(sess, data)
	})
}

// PushDepth16Frame colorizes 16-bit depth samples and sends them on a
// depth channel registered with depth16 set.
func (s *Server) PushDepth16Frame(depth []uint16) error {
	return s.push(media.KindDepth, func(sess *session.Session, _ int) (frame, error) {
		shape := sess.Shape()
		if !sess.Channel().Depth16 {
			return frame{}, fmt.Errorf("%w: depth channel is 8-bit", ErrFrameShape)
		}
		if len(depth) != shape.Pixels() {
			return frame{}, fmt.Errorf("%w: got %d samples, want %d", ErrFrameShape, len(depth), shape.Pixels())
		}
		return frame{
			size: shape.Size(),
			fill: func(dst []byte) error {
				return pixels.ColorizeDepth16(depth, dst, pixels.DefaultDepthRange)
			},
		}, nil
	})
}

// PushAudioPacket sends one encoded audio packet.
func (s *Server) PushAudioPacket(packet []byte) error {
	return s.push(media.KindAudio, func(_ *session.Session, capacity int) (frame, error) {
		if err := limits.ValidateAudioPacket(packet); err != nil {
			return frame{}, fmt.Errorf("%w: %w", ErrFrameShape, err)
		}
		if err := limits.ValidateSize(packet, capacity); err != nil {
			return frame{}, fmt.Errorf("%w: %w", ErrFrameShape, err)
		}
		return frame{
			size: len(packet),
			fill: func(dst []byte) error {
				copy(dst, packet)
				return nil
			},
			sent: func() { s.probe.inspect(packet) },
		}, nil
	})
}

// PushEvent encodes msg as OSC and sends it on the event channel.
// Arguments of unsupported types are logged and skipped.
func (s *Server) PushEvent(msg *osc.Message) error {
	return s.push(media.KindEvent, func(_ *session.Session, capacity int) (frame, error) {
		data, err := event.Encode(msg)
		if err != nil {
			return frame{}, err
		}
		if err := limits.ValidateEventRecord(data); err != nil {
			return frame{}, fmt.Errorf("%w: %w", ErrFrameShape, err)
		}
		if err := limits.ValidateSize(data, capacity); err != nil {
			return frame{}, fmt.Errorf("%w: %w: %w", ErrFrameShape, event.ErrEventTooLarge, err)
		}
		return frame{
			size: len(data),
			fill: func(dst []byte) error {
				copy(dst, data)
				return nil
			},
		}, nil
	})
}

func rawFrame(sess *session.Session, payload []byte) (frame, error) {
	want := sess.Shape().Size()
	if len(payload) != want {
		return frame{}, fmt.Errorf("%w: %s got %d bytes, want %d (%s)", ErrFrameShape, sess.Kind(), len(payload), want, sess.Shape())
	}
	if sess.Kind() == media.KindDepth && !sess.Channel().Depth16 {
		return frame{
			size: want,
			fill: func(dst []byte) error {
				return pixels.CopyGray8(payload, dst)
			},
		}, nil
	}
	return frame{
		size: want,
		fill: func(dst []byte) error {
			copy(dst, payload)
			return nil
		},
	}, nil
}

// push runs the common ingress sequence: lookup, running check, payload
// validation, stamping, buffer fill and hand-off to the pipeline.
func (s *Server) push(kind media.Kind, prepare func(sess *session.Session, capacity int) (frame, error)) error {
	sess, err := s.registry.Lookup(kind)
	if err != nil {
		return err
	}

	s.mu.RLock()
	in := s.ingress[kind]
	running := s.running
	s.mu.RUnlock()
	if !running || in == nil {
		return fmt.Errorf("push %s: %w", kind, ErrNotRunning)
	}

	f, err := prepare(sess, in.pool.BlockSize())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "push",
			"kind":     kind.String(),
			"error":    err.Error(),
		}).Debug("Frame validation failed")
		return err
	}

	now, ok := s.engine.Running()
	if !ok {
		return fmt.Errorf("push %s: %w", kind, ErrNotRunning)
	}

	stamp, emit := in.sync.Stamp(now)
	if !emit {
		s.metrics.FramesSkipped[kind].Add(1)
		logrus.WithFields(logrus.Fields{
			"function":     "push",
			"kind":         kind.String(),
			"running_time": now,
		}).Debug("Timestamp baseline recorded")
		return nil
	}

	buf := in.pool.Acquire()
	if err := buf.SetLen(f.size); err != nil {
		_ = buf.Release()
		return err
	}
	if err := f.fill(buf.Bytes()); err != nil {
		_ = buf.Release()
		return fmt.Errorf("%w: %w", ErrFrameShape, err)
	}
	buf.Stamp = stamp

	if ret := in.source.PushBuffer(buf); ret != pipeline.FlowOK {
		_ = buf.Release()
		s.metrics.FramesRejected[kind].Add(1)
		perr := &PushError{Kind: kind, Flow: ret}
		logrus.WithFields(logrus.Fields{
			"function": "push",
			"kind":     kind.String(),
			"element":  in.source.Name(),
			"flow":     ret.String(),
			"offset":   stamp.Offset,
		}).Warn("Pipeline rejected buffer")
		return perr
	}
	s.metrics.FramesStamped[kind].Add(1)
	if f.sent != nil {
		f.sent()
	}

	logrus.WithFields(logrus.Fields{
		"function": "push",
		"kind":     kind.String(),
		"pts":      stamp.PTS,
		"duration": stamp.Duration,
		"offset":   stamp.Offset,
		"bytes":    f.size,
	}).Trace("Buffer pushed")

	return nil
}

// SetVideoBitrate sets the target bitrate of the video and depth encoders
// in kbit/s (0..6000). Before Play it becomes the bitrate of channels
// registered later.
func (s *Server) SetVideoBitrate(kbps uint32) error {
	if err := checkVideoBitrate(kbps); err != nil {
		return err
	}
	s.bitrateMu.Lock()
	s.videoBitrate = kbps
	s.bitrateMu.Unlock()
	return s.applyBitrate(kbps, media.KindVideo, media.KindDepth)
}

// SetAudioBitrate sets the target bitrate of the audio encoder in bit/s
// (0..650000).
func (s *Server) SetAudioBitrate(bps uint32) error {
	if err := checkAudioBitrate(bps); err != nil {
		return err
	}
	s.bitrateMu.Lock()
	s.audioBitrate = bps
	s.bitrateMu.Unlock()
	return s.applyBitrate(bps, media.KindAudio)
}

// applyBitrates pushes the current bitrates into freshly realized encoders.
func (s *Server) applyBitrates() {
	s.bitrateMu.Lock()
	video, audio := s.videoBitrate, s.audioBitrate
	s.bitrateMu.Unlock()

	if err := s.applyBitrate(video, media.KindVideo, media.KindDepth); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyBitrates",
			"error":    err.Error(),
		}).Warn("Video bitrate not applied")
	}
	if err := s.applyBitrate(audio, media.KindAudio); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyBitrates",
			"error":    err.Error(),
		}).Warn("Audio bitrate not applied")
	}
}

func (s *Server) applyBitrate(bitrate uint32, kinds ...media.Kind) error {
	for _, kind := range kinds {
		sess, err := s.registry.Lookup(kind)
		if err != nil {
			continue
		}
		enc, err := s.engine.Encoder(sess.EncoderName())
		if err != nil {
			// not realized yet
			continue
		}
		if enc.Settings().Bitrate == bitrate {
			continue
		}
		if err := enc.SetBitrate(bitrate); err != nil {
			return fmt.Errorf("set %s bitrate: %w", kind, err)
		}
	}
	return nil
}

func checkVideoBitrate(kbps uint32) error {
	if kbps > MaxVideoBitrate {
		return fmt.Errorf("%w: video %d kbit/s > %d", ErrInvalidBitrate, kbps, MaxVideoBitrate)
	}
	return nil
}

func checkAudioBitrate(bps uint32) error {
	if bps > MaxAudioBitrate {
		return fmt.Errorf("%w: audio %d bit/s > %d", ErrInvalidBitrate, bps, MaxAudioBitrate)
	}
	return nil
}
