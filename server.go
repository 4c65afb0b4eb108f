package rtpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/iceagent"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/metrics"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/qos"
	"github.com/opd-ai/rtpserver/sdp"
	"github.com/opd-ai/rtpserver/session"
	"github.com/opd-ai/rtpserver/transport"
	"github.com/sirupsen/logrus"
)

// DiagnosticCallback receives every diagnostic posted by the pipeline.
type DiagnosticCallback func(msg pipeline.Message)

// Server owns the channel registry, the media pipeline and the transport
// bindings of one streaming endpoint.
type Server struct {
	options *Options

	registry *session.Registry
	engine   *pipeline.Engine
	pools    *bufferpool.Set
	binder   *transport.Binder
	monitor  *qos.Monitor
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	running  bool
	stopped  bool
	ingress  map[media.Kind]*ingress
	bindings *transport.Bindings

	bitrateMu    sync.Mutex
	videoBitrate uint32
	audioBitrate uint32

	callbackMu         sync.RWMutex
	diagnosticCallback DiagnosticCallback

	probe audioProbe
}

// NewServer creates a server with no channels.
//
// Parameters:
//   - options: Server configuration (nil selects NewOptions())
//
// Returns:
//   - *Server: New server instance
//   - error: ErrInvalidBitrate if a configured bitrate is out of range
func NewServer(options *Options) (*Server, error) {
	if options == nil {
		options = NewOptions()
	}
	opts := *options
	if opts.Clock == nil {
		opts.Clock = clock.NewSystemClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if err := checkVideoBitrate(opts.VideoBitrate); err != nil {
		return nil, err
	}
	if err := checkAudioBitrate(opts.AudioBitrate); err != nil {
		return nil, err
	}
	opts.Pipeline.Clock = opts.Clock

	binder := transport.NewBinder()
	binder.ListenHost = opts.ListenHost

	monitor := qos.NewMonitor(opts.Thresholds)
	monitor.SetRecorder(opts.Metrics)

	s := &Server{
		options:      &opts,
		registry:     session.NewRegistry(),
		engine:       pipeline.NewEngine(opts.Pipeline),
		pools:        bufferpool.NewSet(opts.Pool),
		binder:       binder,
		monitor:      monitor,
		metrics:      opts.Metrics,
		ingress:      make(map[media.Kind]*ingress),
		videoBitrate: opts.VideoBitrate,
		audioBitrate: opts.AudioBitrate,
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewServer",
		"host":          opts.Host,
		"video_bitrate": opts.VideoBitrate,
		"audio_bitrate": opts.AudioBitrate,
	}).Info("Server created")

	return s, nil
}

// AddVideoChannel registers the RGB video channel.
func (s *Server) AddVideoChannel(port, width, height, fps int) error {
	return s.AddChannel(s.channel(media.KindVideo, port, nil, width, height, fps))
}

// AddDepthChannel registers the depth channel. With depth16 set the
// channel accepts 16-bit samples through PushDepth16Frame and sends them
// as a colorized RGB image, otherwise it sends 8-bit gray frames.
func (s *Server) AddDepthChannel(port, width, height, fps int, depth16 bool) error {
	ch := s.channel(media.KindDepth, port, nil, width, height, fps)
	ch.Depth16 = depth16
	return s.AddChannel(ch)
}

// AddAudioChannel registers the audio channel.
func (s *Server) AddAudioChannel(port int) error {
	return s.AddChannel(s.channel(media.KindAudio, port, nil, 0, 0, 0))
}

// AddEventChannel registers the OSC event channel.
func (s *Server) AddEventChannel(port int) error {
	return s.AddChannel(s.channel(media.KindEvent, port, nil, 0, 0, 0))
}

// AddVideoChannelICE registers the RGB video channel on its own ICE
// stream. Components 1, 2 and 3 of stream carry RTP, RTCP out and RTCP in.
// A stream carries one channel only.
func (s *Server) AddVideoChannelICE(stream iceagent.Stream, width, height, fps int) error {
	return s.AddChannel(s.channel(media.KindVideo, 0, stream, width, height, fps))
}

// AddDepthChannelICE registers the depth channel on its own ICE stream.
func (s *Server) AddDepthChannelICE(stream iceagent.Stream, width, height, fps int, depth16 bool) error {
	ch := s.channel(media.KindDepth, 0, stream, width, height, fps)
	ch.Depth16 = depth16
	return s.AddChannel(ch)
}

// AddAudioChannelICE registers the audio channel on its own ICE stream.
func (s *Server) AddAudioChannelICE(stream iceagent.Stream) error {
	return s.AddChannel(s.channel(media.KindAudio, 0, stream, 0, 0, 0))
}

// AddEventChannelICE registers the OSC event channel on its own ICE stream.
func (s *Server) AddEventChannelICE(stream iceagent.Stream) error {
	return s.AddChannel(s.channel(media.KindEvent, 0, stream, 0, 0, 0))
}

func (s *Server) channel(kind media.Kind, port int, stream iceagent.Stream, width, height, fps int) session.Channel {
	s.bitrateMu.Lock()
	video, audio := s.videoBitrate, s.audioBitrate
	s.bitrateMu.Unlock()

	ch := session.Channel{
		Kind:   kind,
		Width:  width,
		Height: height,
		FPS:    fps,
		Audio:  s.options.AudioMode,
		Stream: stream,
	}
	if stream == nil {
		ch.Host = s.options.Host
		ch.Port = port
	}
	switch kind {
	case media.KindVideo, media.KindDepth:
		ch.Bitrate = video
	case media.KindAudio:
		ch.Bitrate = audio
	}
	return ch
}

// AddChannel registers a fully described channel. It must be called
// before Play.
func (s *Server) AddChannel(ch session.Channel) error {
	sess, err := s.registry.Register(ch)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AddChannel",
			"kind":     ch.Kind.String(),
			"port":     ch.Port,
			"error":    err.Error(),
		}).Error("Channel registration failed")
		return fmt.Errorf("add %s channel: %w", ch.Kind, err)
	}

	s.metrics.TrackSession(sess.ID(), sess.Kind())
	return nil
}

// Sessions returns the registered sessions in id order.
func (s *Server) Sessions() []*session.Session {
	return s.registry.Sessions()
}

// Play binds every session, starts the pipeline and captures the shared
// clock reference. Registration is closed afterwards.
//
// A failed Play leaves the server stopped: bindings are never retried.
func (s *Server) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyRunning
	}

	s.registry.Freeze()
	sessions := s.registry.Sessions()

	if err := s.start(ctx, sessions); err != nil {
		s.stopped = true
		logrus.WithFields(logrus.Fields{
			"function": "Play",
			"sessions": len(sessions),
			"error":    err.Error(),
		}).Error("Failed to start playback")
		return err
	}
	s.running = true

	logrus.WithFields(logrus.Fields{
		"function":  "Play",
		"sessions":  len(sessions),
		"base_time": s.engine.BaseTime(),
	}).Info("Server playing")

	return nil
}

func (s *Server) start(ctx context.Context, sessions []*session.Session) error {
	if err := s.engine.Realize(s.registry.Topology()); err != nil {
		return fmt.Errorf("realize pipeline: %w", err)
	}
	if err := s.prepareIngress(sessions); err != nil {
		_ = s.engine.Stop()
		return err
	}
	s.applyBitrates()

	bindings, err := s.binder.Bind(ctx, sessions)
	if err != nil {
		_ = s.engine.Stop()
		return err
	}
	if err := s.attach(sessions, bindings); err != nil {
		_ = s.engine.Stop()
		_ = bindings.Close()
		return err
	}

	s.engine.OnMessage(s.handleMessage)
	if err := s.engine.Start(context.WithoutCancel(ctx)); err != nil {
		_ = s.engine.Stop()
		_ = bindings.Close()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := s.engine.Play(); err != nil {
		_ = s.engine.Stop()
		_ = bindings.Close()
		return fmt.Errorf("play pipeline: %w", err)
	}
	s.bindings = bindings

	if err := s.metrics.WatchEngine(s.engine.Stats); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Play",
			"error":    err.Error(),
		}).Warn("Pipeline metrics unavailable")
	}
	if err := s.metrics.WatchPools(s.pools.Stats); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Play",
			"error":    err.Error(),
		}).Warn("Pool metrics unavailable")
	}
	return nil
}

func (s *Server) prepareIngress(sessions []*session.Session) error {
	for _, sess := range sessions {
		pool, err := s.pools.Pool(bufferpool.Key{Kind: sess.Kind(), Shape: sess.Shape()})
		if err != nil {
			return fmt.Errorf("pool for %s: %w", sess.Kind(), err)
		}
		src, err := s.engine.AppSource(sess.SourceName())
		if err != nil {
			return err
		}
		s.ingress[sess.Kind()] = &ingress{
			session: sess,
			source:  src,
			pool:    pool,
			sync:    clock.NewSynchronizer(),
		}
	}
	return nil
}

func (s *Server) attach(sessions []*session.Session, bindings *transport.Bindings) error {
	for _, sess := range sessions {
		b, ok := bindings.Get(sess.ID())
		if !ok {
			return fmt.Errorf("session %d has no binding: %w", sess.ID(), pipeline.ErrNotLinked)
		}
		for _, link := range sess.Links() {
			conn := b.Conn(link.Role)
			if link.IsSink() {
				sink, err := s.engine.Sink(link.Name)
				if err != nil {
					return err
				}
				sink.Attach(conn)
				continue
			}
			src, err := s.engine.Source(link.Name)
			if err != nil {
				return err
			}
			src.Attach(conn)
		}
	}
	return nil
}

// Stop halts the pipeline, closes every link and waits for all in-flight
// buffers to return to their pools. No diagnostic callback fires after
// Stop returns. A stopped server cannot be played again.
func (s *Server) Stop() error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.stopped = true
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}

	var errs []error
	if err := s.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop pipeline: %w", err))
	}
	if bindings != nil {
		if err := bindings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close links: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.options.DrainTimeout)
	defer cancel()
	if err := s.pools.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain pools: %w", err))
	}

	err := errors.Join(errs...)
	fields := logrus.Fields{"function": "Stop"}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Error("Server stopped with errors")
		return err
	}
	logrus.WithFields(fields).Info("Server stopped")
	return nil
}

// IsRunning reports whether the server is playing.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// OnDiagnostic registers a callback for pipeline diagnostics. It runs
// after the QoS monitor has processed the message. Passing nil disables it.
//
// The callback runs on a pipeline goroutine while diagnostics delivery is
// locked. It must not call Stop directly: Stop waits for that lock and the
// call deadlocks. Start Stop on another goroutine instead.
func (s *Server) OnDiagnostic(cb DiagnosticCallback) {
	s.callbackMu.Lock()
	s.diagnosticCallback = cb
	s.callbackMu.Unlock()
}

// OnQualityChange registers a callback invoked when the assessed quality
// of a session changes. The OnDiagnostic restriction on calling Stop
// applies here as well.
func (s *Server) OnQualityChange(cb func(qos.Assessment)) {
	s.monitor.SetQualityCallback(cb)
}

// Quality returns the last assessed quality of a channel.
func (s *Server) Quality(kind media.Kind) (qos.QualityLevel, bool) {
	sess, err := s.registry.Lookup(kind)
	if err != nil {
		return qos.QualityExcellent, false
	}
	return s.monitor.Quality(sess.ID())
}

func (s *Server) handleMessage(msg pipeline.Message) {
	s.monitor.OnDiagnostic(msg)

	s.callbackMu.RLock()
	cb := s.diagnosticCallback
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(msg)
	}
}

// Metrics returns the metrics of the server.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Stats returns the pipeline counters of every session.
func (s *Server) Stats() []pipeline.ChainStats {
	return s.engine.Stats()
}

// SessionDescription renders an SDP description of the UDP sessions for
// the receiving side.
func (s *Server) SessionDescription() ([]byte, error) {
	opts := sdp.Options{Origin: s.options.ListenHost}
	if s.engine.Config().VideoCodec == pipeline.CodecH264 {
		opts.VideoEncoding = "H264"
	}
	return sdp.Marshal(s.registry.Sessions(), opts)
}
