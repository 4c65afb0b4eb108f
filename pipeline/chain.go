package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
)

// ChainStats is a snapshot of one session's counters.
type ChainStats struct {
	SessionID     uint32
	Kind          media.Kind
	FramesPushed  uint64
	FramesDropped uint64
	FramesSent    uint64
	PacketsSent   uint64
	OctetsSent    uint64
	SendErrors    uint64
	ReportsSent   uint64
	Jitter        time.Duration
	FractionLost  float64
}

// chain is the realized element graph of one session.
type chain struct {
	session  *session.Session
	src      *AppSource
	queue    *Queue
	encoder  *EncoderElement
	pay      *Payloader
	rtpSink  *Sink
	rtcpSink *Sink
	rtcpSrc  *Source

	framesSent   atomic.Uint64
	payloadSent  atomic.Uint64
	reportsSent  atomic.Uint64
	jitter       atomic.Int64
	fractionLost atomic.Uint32
}

func (e *Engine) newChain(s *session.Session) (*chain, error) {
	ch := s.Channel()
	pay, err := newPayloader(s.PayloaderName(), s.Kind(), uint16(e.cfg.MTU), e.cfg.VideoCodec)
	if err != nil {
		return nil, err
	}

	c := &chain{
		session: s,
		queue:   newQueue(s.QueueName(), e.cfg.QueueSize),
		encoder: newEncoderElement(s.EncoderName(), s.Kind(), e.cfg.NewEncoder(s.Kind()), EncoderSettings{
			Bitrate:   ch.Bitrate,
			AudioMode: ch.Audio,
		}),
		pay:      pay,
		rtpSink:  &Sink{link: s.Link(session.RoleRTPSink)},
		rtcpSink: &Sink{link: s.Link(session.RoleRTCPSink)},
		rtcpSrc:  &Source{link: s.Link(session.RoleRTCPSource)},
	}
	c.src = &AppSource{name: s.SourceName(), engine: e, chain: c}

	logrus.WithFields(logrus.Fields{
		"function":     "newChain",
		"session_id":   s.ID(),
		"kind":         s.Kind().String(),
		"ssrc":         pay.SSRC(),
		"payload_type": s.Kind().PayloadType(),
	}).Debug("Session chain realized")

	return c, nil
}

func (c *chain) elements() []Element {
	return []Element{c.src, c.queue, c.encoder, c.pay, c.rtpSink, c.rtcpSink, c.rtcpSrc}
}

func (c *chain) checkLinked() error {
	for _, s := range []*Sink{c.rtpSink, c.rtcpSink} {
		if !s.Attached() {
			return fmt.Errorf("%s: %w", s.Name(), ErrNotLinked)
		}
	}
	if !c.rtcpSrc.Attached() {
		return fmt.Errorf("%s: %w", c.rtcpSrc.Name(), ErrNotLinked)
	}
	return nil
}

func (c *chain) stats() ChainStats {
	pushed, dropped := c.queue.Counters()
	packets, octets, errs := c.rtpSink.Counters()
	return ChainStats{
		SessionID:     c.session.ID(),
		Kind:          c.session.Kind(),
		FramesPushed:  pushed,
		FramesDropped: dropped,
		FramesSent:    c.framesSent.Load(),
		PacketsSent:   packets,
		OctetsSent:    octets,
		SendErrors:    errs,
		ReportsSent:   c.reportsSent.Load(),
		Jitter:        time.Duration(c.jitter.Load()),
		FractionLost:  float64(c.fractionLost.Load()) / 256,
	}
}

// onDrop reports a buffer evicted by the leaky queue.
func (c *chain) onDrop(e *Engine, lost clock.Stamp, pushed, dropped uint64) {
	running, _ := e.Running()
	processed := pushed - dropped
	quality := 1000000
	if pushed > 0 {
		quality = int(processed * 1000000 / pushed)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "onDrop",
		"element":    c.queue.name,
		"session_id": c.session.ID(),
		"offset":     lost.Offset,
		"dropped":    dropped,
	}).Warn("Queue full, dropped oldest buffer")

	e.post(Message{
		Type:      MessageQoS,
		Source:    c.queue.name,
		SessionID: c.session.ID(),
		Name:      "qos",
		QoS: &QoSStats{
			Format:      "buffers",
			Processed:   processed,
			Dropped:     dropped,
			Jitter:      running - lost.PTS,
			Proportion:  1.0,
			Quality:     quality,
			Live:        true,
			RunningTime: running,
			StreamTime:  running,
			Timestamp:   lost.PTS,
			Duration:    lost.Duration,
		},
	})
}

// runWorker drains the queue until ctx is done.
func (e *Engine) runWorker(ctx context.Context, c *chain) error {
	logrus.WithFields(logrus.Fields{
		"function":   "runWorker",
		"session_id": c.session.ID(),
	}).Debug("Session worker started")

	for {
		b := c.queue.pop(ctx)
		if b == nil {
			return nil
		}
		e.process(ctx, c, b)
	}
}

func (e *Engine) process(ctx context.Context, c *chain, b *bufferpool.Buffer) {
	defer func() { _ = b.Release() }()

	payload, err := c.encoder.Encode(b.Bytes())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "process",
			"element":    c.encoder.name,
			"session_id": c.session.ID(),
			"error":      err.Error(),
		}).Error("Encoder failed")
		e.post(Message{
			Type:      MessageElement,
			Source:    c.encoder.name,
			SessionID: c.session.ID(),
			Name:      "encode-error",
			Fields:    map[string]interface{}{"error": err.Error()},
		})
		return
	}

	if link := c.rtpSink.link; link.Sync {
		if !e.waitUntil(ctx, b.Stamp.PTS+link.TSOffset) {
			return
		}
	}

	packets := c.pay.Packetize(payload, b.Stamp.PTS)
	for _, p := range packets {
		raw, err := p.Marshal()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "process",
				"element":    c.pay.name,
				"session_id": c.session.ID(),
				"error":      err.Error(),
			}).Error("RTP marshal failed")
			return
		}
		if err := c.rtpSink.Write(raw); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "process",
				"element":    c.rtpSink.Name(),
				"session_id": c.session.ID(),
				"sequence":   p.SequenceNumber,
				"error":      err.Error(),
			}).Warn("RTP send failed")
			return
		}
	}
	c.framesSent.Add(1)
	c.payloadSent.Add(uint64(len(payload)))

	logrus.WithFields(logrus.Fields{
		"function":   "process",
		"session_id": c.session.ID(),
		"offset":     b.Stamp.Offset,
		"packets":    len(packets),
		"bytes":      len(payload),
	}).Trace("Frame sent")
}

// waitUntil blocks until the running time reaches t. It returns false if
// ctx ends first.
func (e *Engine) waitUntil(ctx context.Context, t time.Duration) bool {
	running, ok := e.Running()
	if !ok || running >= t {
		return true
	}
	timer := time.NewTimer(t - running)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
