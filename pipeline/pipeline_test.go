package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/limits"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/session"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShape = media.Shape{Width: 4, Height: 4, BytesPerPixel: 3}

type harness struct {
	engine   *Engine
	session  *session.Session
	pool     *bufferpool.Pool
	clock    *clock.ManualClock
	rtpRx    net.PacketConn
	rtcpRx   net.PacketConn
	feedback net.Conn
	messages chan Message
	conns    []net.Conn
}

// blockingEncoder holds every frame until release is closed.
type blockingEncoder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEncoder) Encode(frame []byte) ([]byte, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return frame, nil
}

// rateEncoder records every settings change it is configured with.
type rateEncoder struct {
	mu      sync.Mutex
	applied []EncoderSettings
	fail    error
}

func (r *rateEncoder) Encode(frame []byte) ([]byte, error) {
	return frame, nil
}

func (r *rateEncoder) Configure(settings EncoderSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.applied = append(r.applied, settings)
	return nil
}

func listenLoopback(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	return pc
}

func dialLoopback(t *testing.T, to net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("udp4", to.String())
	require.NoError(t, err)
	return c
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	r := session.NewRegistry()
	s, err := r.Register(session.Channel{
		Kind: media.KindVideo, Width: testShape.Width, Height: testShape.Height,
		FPS: 30, Bitrate: 1024, Host: "127.0.0.1", Port: 5000,
	})
	require.NoError(t, err)

	h := &harness{
		session:  s,
		clock:    clock.NewManualClock(time.Second),
		messages: make(chan Message, 64),
	}
	if cfg.Clock == nil {
		cfg.Clock = h.clock
	}
	h.engine = NewEngine(cfg)
	h.engine.OnMessage(func(m Message) {
		select {
		case h.messages <- m:
		default:
		}
	})
	require.NoError(t, h.engine.Realize(r.Topology()))

	h.pool, err = bufferpool.NewPool(bufferpool.Key{Kind: media.KindVideo, Shape: testShape}, bufferpool.Config{MaxIdle: 8})
	require.NoError(t, err)

	h.rtpRx = listenLoopback(t)
	h.rtcpRx = listenLoopback(t)
	src := listenLoopback(t)

	rtpConn := dialLoopback(t, h.rtpRx.LocalAddr())
	rtcpConn := dialLoopback(t, h.rtcpRx.LocalAddr())
	h.feedback = dialLoopback(t, src.LocalAddr())
	h.conns = []net.Conn{rtpConn, rtcpConn, src.(net.Conn), h.feedback}

	sink, err := h.engine.Sink("vrtpsink")
	require.NoError(t, err)
	sink.Attach(rtpConn)
	rtcpSink, err := h.engine.Sink("vrtcpsink")
	require.NoError(t, err)
	rtcpSink.Attach(rtcpConn)
	source, err := h.engine.Source("vrtcpsrc")
	require.NoError(t, err)
	source.Attach(src.(net.Conn))

	t.Cleanup(func() {
		_ = h.engine.Stop()
		for _, c := range h.conns {
			_ = c.Close()
		}
		_ = h.rtpRx.Close()
		_ = h.rtcpRx.Close()
	})
	return h
}

func (h *harness) play(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Play())
}

func (h *harness) frame(t *testing.T, fill byte, stamp clock.Stamp) *bufferpool.Buffer {
	t.Helper()
	b := h.pool.Acquire()
	for i := range b.Bytes() {
		b.Bytes()[i] = fill
	}
	b.Stamp = stamp
	return b
}

func (h *harness) readRTP(t *testing.T) *rtp.Packet {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, h.rtpRx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := h.rtpRx.ReadFrom(buf)
	require.NoError(t, err)
	pkt := &rtp.Packet{}
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	return pkt
}

func (h *harness) waitMessage(t *testing.T, match func(Message) bool) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-h.messages:
			if match(m) {
				return m
			}
		case <-deadline:
			t.Fatal("expected message not received")
			return Message{}
		}
	}
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.pool.Stats().InFlight == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngineLifecycleErrors(t *testing.T) {
	e := NewEngine(DefaultConfig())
	assert.ErrorIs(t, e.Start(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, e.Play(), ErrInvalidState)
	assert.ErrorIs(t, e.Realize(session.Topology{}), ErrEmptyTopology)
	assert.NoError(t, e.Stop(), "stopping an idle engine is a no-op")
}

func TestEngineStartRequiresLinks(t *testing.T) {
	r := session.NewRegistry()
	_, err := r.Register(session.Channel{Kind: media.KindAudio, Host: "127.0.0.1", Port: 5000})
	require.NoError(t, err)

	e := NewEngine(DefaultConfig())
	require.NoError(t, e.Realize(r.Topology()))
	assert.ErrorIs(t, e.Realize(r.Topology()), ErrInvalidState)
	assert.ErrorIs(t, e.Start(context.Background()), ErrNotLinked)
	assert.Equal(t, StateReady, e.State())
}

func TestEngineElements(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	for _, name := range []string{"appsrcvideo", "vqueue", "vencoder", "vpay", "vrtpsink", "vrtcpsink", "vrtcpsrc"} {
		el, err := h.engine.Element(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, el.Name())
	}

	_, err := h.engine.Element("missing")
	assert.ErrorIs(t, err, ErrNoSuchElement)
	_, err = h.engine.Sink("appsrcvideo")
	assert.ErrorIs(t, err, ErrWrongElementType)

	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)
	assert.True(t, src.IsLive())
	assert.Equal(t, "time", src.Format())
	assert.Equal(t, "stream", src.StreamType())

	sink, err := h.engine.Sink("vrtcpsink")
	require.NoError(t, err)
	assert.False(t, sink.Link().Sync)
	assert.False(t, sink.Link().Async)

	queue, err := h.engine.Element("vqueue")
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueSize, queue.(*Queue).MaxSizeBuffers())

	enc, err := h.engine.Encoder("vencoder")
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), enc.Settings().Bitrate)
	require.NoError(t, enc.SetBitrate(2000))
	assert.Equal(t, uint32(2000), enc.Settings().Bitrate)
}

func TestSetBitrateConfiguresEncoder(t *testing.T) {
	rate := &rateEncoder{}
	cfg := DefaultConfig()
	cfg.NewEncoder = func(media.Kind) Encoder { return rate }
	h := newHarness(t, cfg)

	enc, err := h.engine.Encoder("vencoder")
	require.NoError(t, err)
	require.NoError(t, enc.SetBitrate(3000))

	require.Len(t, rate.applied, 1)
	assert.Equal(t, uint32(3000), rate.applied[0].Bitrate)

	rate.fail = errors.New("rate not supported")
	assert.Error(t, enc.SetBitrate(5000))
	assert.Equal(t, uint32(3000), enc.Settings().Bitrate)
}

func TestPushBeforePlayIsFlushing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)

	b := h.frame(t, 1, clock.Stamp{})
	assert.Equal(t, FlowFlushing, src.PushBuffer(b))
	assert.Equal(t, 1, h.pool.Stats().InFlight, "caller keeps ownership on rejection")
	require.NoError(t, b.Release())

	assert.Equal(t, FlowError, src.PushBuffer(nil))
}

func TestPushSendsRTP(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.play(t)
	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)
	pay, err := h.engine.Element("vpay")
	require.NoError(t, err)
	ssrc := pay.(*Payloader).SSRC()

	first := clock.Stamp{PTS: 100 * time.Millisecond, DTS: 100 * time.Millisecond, Duration: 33 * time.Millisecond, Offset: 0, OffsetEnd: 1}
	second := clock.Stamp{PTS: 133 * time.Millisecond, DTS: 133 * time.Millisecond, Duration: 33 * time.Millisecond, Offset: 1, OffsetEnd: 2}

	require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 0xAA, first)))
	p1 := h.readRTP(t)
	require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 0xBB, second)))
	p2 := h.readRTP(t)

	assert.Equal(t, uint8(96), p1.PayloadType)
	assert.Equal(t, ssrc, p1.SSRC)
	assert.True(t, p1.Marker)
	assert.Len(t, p1.Payload, testShape.Size())
	assert.Equal(t, byte(0xAA), p1.Payload[0])
	assert.Equal(t, byte(0xBB), p2.Payload[0])
	assert.Equal(t, p1.SequenceNumber+1, p2.SequenceNumber)
	assert.Equal(t, uint32(2970), p2.Timestamp-p1.Timestamp, "33ms at 90kHz")

	h.waitIdle(t)
	stats := h.engine.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(2), stats[0].FramesSent)
	assert.Equal(t, uint64(2), stats[0].PacketsSent)
}

func TestPushFragmentsAtMTU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MTU = rtpHeaderSize + 20
	h := newHarness(t, cfg)
	h.play(t)
	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)

	require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 7, clock.Stamp{PTS: time.Millisecond})))

	var total int
	for i := 0; i < 3; i++ {
		p := h.readRTP(t)
		total += len(p.Payload)
		assert.Equal(t, i == 2, p.Marker, "marker only on the last fragment")
	}
	assert.Equal(t, testShape.Size(), total)
}

func TestQueueDropsOldestAndReportsQoS(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{}), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.NewEncoder = func(media.Kind) Encoder { return enc }
	h := newHarness(t, cfg)
	h.play(t)
	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)

	require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 0, clock.Stamp{PTS: 0})))
	<-enc.started

	for i := 1; i <= DefaultQueueSize+2; i++ {
		st := clock.Stamp{PTS: time.Duration(i) * 10 * time.Millisecond, Offset: uint64(i)}
		require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, byte(i), st)))
	}

	msg := h.waitMessage(t, func(m Message) bool { return m.Type == MessageQoS && m.Source == "vqueue" })
	require.NotNil(t, msg.QoS)
	assert.Equal(t, "buffers", msg.QoS.Format)
	assert.True(t, msg.QoS.Live)
	assert.GreaterOrEqual(t, msg.QoS.Dropped, uint64(1))

	stats := h.engine.Stats()[0]
	assert.Equal(t, uint64(2), stats.FramesDropped)
	assert.Equal(t, uint64(DefaultQueueSize+3), stats.FramesPushed)

	close(enc.release)
	h.waitIdle(t)
}

func TestStopReleasesQueuedBuffers(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{}), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.NewEncoder = func(media.Kind) Encoder { return enc }
	h := newHarness(t, cfg)
	h.play(t)
	src, err := h.engine.AppSource("appsrcvideo")
	require.NoError(t, err)

	require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 0, clock.Stamp{})))
	<-enc.started
	for i := 0; i < 3; i++ {
		require.Equal(t, FlowOK, src.PushBuffer(h.frame(t, 1, clock.Stamp{})))
	}
	assert.Equal(t, 4, h.pool.Stats().InFlight)

	close(enc.release)
	require.NoError(t, h.engine.Stop())
	assert.Equal(t, 0, h.pool.Stats().InFlight)
	assert.Equal(t, StateNull, h.engine.State())

	b := h.frame(t, 0, clock.Stamp{})
	assert.Equal(t, FlowFlushing, src.PushBuffer(b))
	require.NoError(t, b.Release())
}

func TestReceiverReportBecomesQoS(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.play(t)
	pay, err := h.engine.Element("vpay")
	require.NoError(t, err)
	ssrc := pay.(*Payloader).SSRC()

	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.ReceiverReport{
			SSRC: 1,
			Reports: []rtcp.ReceptionReport{{
				SSRC:         ssrc,
				FractionLost: 64,
				TotalLost:    12,
				Jitter:       9000,
			}},
		},
		&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: ssrc},
	})
	require.NoError(t, err)
	_, err = h.feedback.Write(raw)
	require.NoError(t, err)

	msg := h.waitMessage(t, func(m Message) bool { return m.Name == "rtcp-rr" })
	require.NotNil(t, msg.QoS)
	assert.Equal(t, "vrtcpsrc", msg.Source)
	assert.Equal(t, 100*time.Millisecond, msg.QoS.Jitter)
	assert.InDelta(t, 0.25, msg.QoS.FractionLost, 1e-9)
	assert.Equal(t, uint32(12), msg.QoS.PacketsLost)

	pli := h.waitMessage(t, func(m Message) bool { return m.Name == "rtcp-pli" })
	assert.Equal(t, MessageElement, pli.Type)
	assert.Equal(t, ssrc, pli.Fields["media_ssrc"])

	stats := h.engine.Stats()[0]
	assert.Equal(t, 100*time.Millisecond, stats.Jitter)
}

func TestSenderReportsAndGoodbye(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTCPInterval = 20 * time.Millisecond
	cfg.CNAME = "test-cname"
	h := newHarness(t, cfg)
	h.play(t)
	pay, err := h.engine.Element("vpay")
	require.NoError(t, err)
	ssrc := pay.(*Payloader).SSRC()

	buf := make([]byte, 1500)
	require.NoError(t, h.rtcpRx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := h.rtcpRx.ReadFrom(buf)
	require.NoError(t, err)

	packets, err := rtcp.Unmarshal(buf[:n])
	require.NoError(t, err)
	require.Len(t, packets, 2)
	sr, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, ssrc, sr.SSRC)
	sdes, ok := packets[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	assert.Equal(t, "test-cname", sdes.Chunks[0].Items[0].Text)

	require.NoError(t, h.engine.Stop())
	for {
		require.NoError(t, h.rtcpRx.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err = h.rtcpRx.ReadFrom(buf)
		require.NoError(t, err)
		packets, err = rtcp.Unmarshal(buf[:n])
		require.NoError(t, err)
		if bye, ok := packets[0].(*rtcp.Goodbye); ok {
			assert.Equal(t, []uint32{ssrc}, bye.Sources)
			return
		}
	}
}

func TestSinkRejectsOversizedDatagram(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sink, err := h.engine.Sink("vrtpsink")
	require.NoError(t, err)

	err = sink.Write(make([]byte, limits.MaxUDPPayload+1))
	assert.ErrorIs(t, err, limits.ErrPayloadTooLarge)
	assert.ErrorIs(t, sink.Write(nil), limits.ErrPayloadEmpty)

	packets, _, errs := sink.Counters()
	assert.Zero(t, packets)
	assert.Equal(t, uint64(2), errs)
}

func TestStopClearsRunningTime(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.play(t)
	_, ok := h.engine.Running()
	require.True(t, ok)

	require.NoError(t, h.engine.Stop())
	_, ok = h.engine.Running()
	assert.False(t, ok)
}

func TestStopWithStalledRTCPConnection(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	local, remote := net.Pipe()
	h.conns = append(h.conns, local, remote)
	rtcpSink, err := h.engine.Sink("vrtcpsink")
	require.NoError(t, err)
	rtcpSink.Attach(local)
	h.play(t)

	done := make(chan error, 1)
	go func() { done <- h.engine.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on the goodbye write")
	}
	_, _, errs := rtcpSink.Counters()
	assert.NotZero(t, errs, "the goodbye write timed out")
}

func TestNoMessagesAfterStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.play(t)
	require.NoError(t, h.engine.Stop())

	raw, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}})
	require.NoError(t, err)
	_, _ = h.feedback.Write(raw)

	select {
	case m := <-h.messages:
		t.Fatalf("unexpected message after stop: %+v", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestQueueUnit(t *testing.T) {
	pool, err := bufferpool.NewPool(bufferpool.Key{Kind: media.KindEvent}, bufferpool.Config{MaxIdle: 8})
	require.NoError(t, err)
	q := newQueue("oqueue", 2)

	a, b, c := pool.Acquire(), pool.Acquire(), pool.Acquire()
	ev, _, _ := q.push(a)
	assert.Nil(t, ev)
	ev, _, _ = q.push(b)
	assert.Nil(t, ev)
	ev, pushed, dropped := q.push(c)
	assert.Same(t, a, ev, "oldest buffer is evicted")
	assert.Equal(t, uint64(3), pushed)
	assert.Equal(t, uint64(1), dropped)
	require.NoError(t, ev.Release())

	assert.Same(t, b, q.pop(context.Background()))
	rest := q.flush()
	require.Len(t, rest, 1)
	assert.Same(t, c, rest[0])
	assert.Equal(t, 0, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, q.pop(ctx))

	require.NoError(t, b.Release())
	require.NoError(t, c.Release())
}
