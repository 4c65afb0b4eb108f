package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
)

// feedbackReadTimeout bounds each read so the feedback loop notices
// cancellation on connections that honour deadlines.
const feedbackReadTimeout = 100 * time.Millisecond

// rtcpWriteTimeout bounds each sender report and goodbye write so a
// stalled connection cannot hold up Stop.
const rtcpWriteTimeout = 200 * time.Millisecond

// maxRTCPPacketSize is the largest RTCP datagram read from the network.
const maxRTCPPacketSize = 1500

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// runReports sends a sender report with a CNAME description every
// RTCPInterval and a goodbye when ctx ends.
func (e *Engine) runReports(ctx context.Context, c *chain) error {
	ticker := time.NewTicker(e.cfg.RTCPInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.sendGoodbye(c)
			return nil
		case <-ticker.C:
			e.sendReport(c)
		}
	}
}

func (e *Engine) senderReport(c *chain) *rtcp.SenderReport {
	running, ok := e.Running()
	if !ok {
		return nil
	}
	packets, _, _ := c.rtpSink.Counters()
	return &rtcp.SenderReport{
		SSRC:        c.pay.SSRC(),
		NTPTime:     ntpTime(e.ref.Wall(running)),
		RTPTime:     c.pay.RTPTime(running),
		PacketCount: uint32(packets),
		OctetCount:  uint32(c.payloadSent.Load()),
	}
}

func (e *Engine) sendReport(c *chain) {
	sr := e.senderReport(c)
	if sr == nil {
		return
	}
	raw, err := rtcp.Marshal([]rtcp.Packet{
		sr,
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: c.pay.SSRC(),
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: e.cfg.CNAME,
				}},
			}},
		},
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendReport",
			"session_id": c.session.ID(),
			"error":      err.Error(),
		}).Error("RTCP marshal failed")
		return
	}
	if err := c.rtcpSink.WriteWithin(raw, rtcpWriteTimeout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendReport",
			"element":    c.rtcpSink.Name(),
			"session_id": c.session.ID(),
			"error":      err.Error(),
		}).Warn("RTCP send failed")
		return
	}
	c.reportsSent.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":     "sendReport",
		"session_id":   c.session.ID(),
		"packet_count": sr.PacketCount,
		"octet_count":  sr.OctetCount,
	}).Trace("Sender report sent")
}

func (e *Engine) sendGoodbye(c *chain) {
	raw, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{
		Sources: []uint32{c.pay.SSRC()},
		Reason:  "stopped",
	}})
	if err != nil {
		return
	}
	if err := c.rtcpSink.WriteWithin(raw, rtcpWriteTimeout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "sendGoodbye",
			"session_id": c.session.ID(),
			"error":      err.Error(),
		}).Debug("RTCP goodbye not sent")
	}
}

// runFeedback reads incoming RTCP until ctx ends or the connection closes.
// It is not awaited by Stop: connections owned by the signaling layer may
// ignore deadlines, so every message it produces goes through post, which
// is closed by Stop.
func (e *Engine) runFeedback(ctx context.Context, c *chain) {
	conn := c.rtcpSrc.current()
	if conn == nil {
		return
	}
	buf := make([]byte, maxRTCPPacketSize)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedbackReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logrus.WithFields(logrus.Fields{
					"function":   "runFeedback",
					"element":    c.rtcpSrc.Name(),
					"session_id": c.session.ID(),
					"error":      err.Error(),
				}).Error("RTCP read failed")
			}
			return
		}
		e.handleFeedback(c, buf[:n])
	}
}

func (e *Engine) handleFeedback(c *chain, raw []byte) {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleFeedback",
			"session_id": c.session.ID(),
			"size":       len(raw),
			"error":      err.Error(),
		}).Debug("Ignoring malformed RTCP")
		return
	}

	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.ReceiverReport:
			e.handleReceptionReports(c, p.Reports)
		case *rtcp.SenderReport:
			e.handleReceptionReports(c, p.Reports)
		case *rtcp.PictureLossIndication:
			e.postFeedback(c, "rtcp-pli", map[string]interface{}{"media_ssrc": p.MediaSSRC})
		case *rtcp.FullIntraRequest:
			e.postFeedback(c, "rtcp-fir", map[string]interface{}{"media_ssrc": p.MediaSSRC})
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			e.postFeedback(c, "rtcp-remb", map[string]interface{}{"bitrate": p.Bitrate, "ssrcs": p.SSRCs})
		case *rtcp.TransportLayerNack:
			e.postFeedback(c, "rtcp-nack", map[string]interface{}{"media_ssrc": p.MediaSSRC, "pairs": len(p.Nacks)})
		case *rtcp.Goodbye:
			e.postFeedback(c, "rtcp-bye", map[string]interface{}{"reason": p.Reason})
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "handleFeedback",
				"session_id": c.session.ID(),
				"type":       fmt.Sprintf("%T", pkt),
			}).Trace("Unhandled RTCP packet")
		}
	}
}

func (e *Engine) handleReceptionReports(c *chain, reports []rtcp.ReceptionReport) {
	ssrc := c.pay.SSRC()
	clockRate := int64(c.session.Kind().ClockRate())

	for _, r := range reports {
		if r.SSRC != ssrc {
			continue
		}
		jitter := time.Duration(int64(r.Jitter) * int64(time.Second) / clockRate)
		c.jitter.Store(int64(jitter))
		c.fractionLost.Store(uint32(r.FractionLost))

		running, _ := e.Running()
		packets, _, _ := c.rtpSink.Counters()
		e.post(Message{
			Type:      MessageQoS,
			Source:    c.rtcpSrc.Name(),
			SessionID: c.session.ID(),
			Name:      "rtcp-rr",
			QoS: &QoSStats{
				Format:       "rtcp",
				Processed:    packets,
				Dropped:      uint64(r.TotalLost),
				Jitter:       jitter,
				Proportion:   1.0,
				Quality:      int((256 - uint32(r.FractionLost)) * 1000000 / 256),
				Live:         true,
				RunningTime:  running,
				StreamTime:   running,
				FractionLost: float64(r.FractionLost) / 256,
				PacketsLost:  r.TotalLost,
			},
		})
	}
}

func (e *Engine) postFeedback(c *chain, name string, fields map[string]interface{}) {
	e.post(Message{
		Type:      MessageElement,
		Source:    c.rtcpSrc.Name(),
		SessionID: c.session.ID(),
		Name:      name,
		Fields:    fields,
	})
}
