// Package pipeline is the in-process media engine that carries pushed
// buffers to the network.
//
// An Engine realizes one processing chain per session:
//
//	appsrc -> queue (leaky, drop oldest) -> encoder -> payloader -> rtp sink
//	                                                  rtcp sink <- sender reports
//	                                                  rtcp src  -> feedback
//
// Every element is reachable by its logical name so that the caller can
// attach connections and tune encoders after the topology is realized.
// Diagnostics are posted asynchronously to a single Handler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/clock"
	"github.com/opd-ai/rtpserver/limits"
	"github.com/opd-ai/rtpserver/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Default engine parameters.
const (
	DefaultMTU          = 1200
	DefaultRTCPInterval = 5 * time.Second
)

// Config controls how an Engine realizes and runs its chains.
type Config struct {
	QueueSize    int
	MTU          int
	RTCPInterval time.Duration
	CNAME        string
	VideoCodec   string
	Clock        clock.Clock
	NewEncoder   EncoderFactory
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:    DefaultQueueSize,
		MTU:          DefaultMTU,
		RTCPInterval: DefaultRTCPInterval,
		VideoCodec:   CodecRaw,
	}
}

func (c Config) normalized() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MTU <= rtpHeaderSize || c.MTU > limits.MaxUDPPayload {
		c.MTU = DefaultMTU
	}
	if c.RTCPInterval <= 0 {
		c.RTCPInterval = DefaultRTCPInterval
	}
	if c.CNAME == "" {
		c.CNAME = uuid.NewString()
	}
	if c.VideoCodec == "" {
		c.VideoCodec = CodecRaw
	}
	if c.Clock == nil {
		c.Clock = clock.NewSystemClock()
	}
	if c.NewEncoder == nil {
		c.NewEncoder = PassthroughFactory
	}
	return c
}

// Engine runs the realized chains of every session.
type Engine struct {
	cfg Config

	stateMu  sync.RWMutex
	state    State
	chains   []*chain
	elements map[string]Element
	baseTime time.Duration
	ref      clock.Reference
	cancel   context.CancelFunc
	group    *errgroup.Group

	busMu   sync.RWMutex
	stopped bool
	handler Handler
}

// NewEngine creates an engine in the null state.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.normalized()

	logrus.WithFields(logrus.Fields{
		"function":      "NewEngine",
		"queue_size":    cfg.QueueSize,
		"mtu":           cfg.MTU,
		"rtcp_interval": cfg.RTCPInterval,
		"video_codec":   cfg.VideoCodec,
	}).Info("Creating media pipeline engine")

	return &Engine{
		cfg:      cfg,
		elements: make(map[string]Element),
	}
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Clock returns the engine clock.
func (e *Engine) Clock() clock.Clock {
	return e.cfg.Clock
}

// BaseTime returns the clock time at which the engine started playing.
func (e *Engine) BaseTime() time.Duration {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.baseTime
}

// OnMessage registers the diagnostic handler. Passing nil disables it.
func (e *Engine) OnMessage(h Handler) {
	e.busMu.Lock()
	e.handler = h
	e.busMu.Unlock()
}

// Realize builds one chain per session of topo.
func (e *Engine) Realize(topo session.Topology) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state != StateNull || len(e.chains) > 0 {
		return fmt.Errorf("realize in state %s: %w", e.state, ErrInvalidState)
	}
	if len(topo.Sessions) == 0 {
		return ErrEmptyTopology
	}

	for _, s := range topo.Sessions {
		c, err := e.newChain(s)
		if err != nil {
			e.chains = nil
			e.elements = make(map[string]Element)
			return fmt.Errorf("realize session %d: %w", s.ID(), err)
		}
		e.chains = append(e.chains, c)
		for _, el := range c.elements() {
			e.elements[el.Name()] = el
		}
	}
	e.state = StateReady

	logrus.WithFields(logrus.Fields{
		"function": "Realize",
		"sessions": len(e.chains),
		"elements": len(e.elements),
	}).Info("Pipeline realized")

	return nil
}

// Element returns the element with the given name.
func (e *Engine) Element(name string) (Element, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	el, ok := e.elements[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNoSuchElement)
	}
	return el, nil
}

// AppSource returns the named application source.
func (e *Engine) AppSource(name string) (*AppSource, error) {
	return elementAs[*AppSource](e, name)
}

// Encoder returns the named encoder element.
func (e *Engine) Encoder(name string) (*EncoderElement, error) {
	return elementAs[*EncoderElement](e, name)
}

// Sink returns the named network sink.
func (e *Engine) Sink(name string) (*Sink, error) {
	return elementAs[*Sink](e, name)
}

// Source returns the named network source.
func (e *Engine) Source(name string) (*Source, error) {
	return elementAs[*Source](e, name)
}

func elementAs[T Element](e *Engine, name string) (T, error) {
	var zero T
	el, err := e.Element(name)
	if err != nil {
		return zero, err
	}
	typed, ok := el.(T)
	if !ok {
		return zero, fmt.Errorf("%q is %T: %w", name, el, ErrWrongElementType)
	}
	return typed, nil
}

// Start launches the per-session workers. Every sink and source must have
// a connection attached.
func (e *Engine) Start(ctx context.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state != StateReady {
		return fmt.Errorf("start in state %s: %w", e.state, ErrInvalidState)
	}
	for _, c := range e.chains {
		if err := c.checkLinked(); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, c := range e.chains {
		c := c
		g.Go(func() error { return e.runWorker(gctx, c) })
		g.Go(func() error { return e.runReports(gctx, c) })
		go e.runFeedback(gctx, c)
	}
	e.cancel = cancel
	e.group = g
	e.state = StatePaused

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"sessions": len(e.chains),
	}).Info("Pipeline workers started")

	return nil
}

// Play records the base time and lets sources accept buffers.
func (e *Engine) Play() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state != StatePaused {
		return fmt.Errorf("play in state %s: %w", e.state, ErrInvalidState)
	}
	e.baseTime = e.cfg.Clock.Now()
	e.ref.Capture(e.cfg.Clock, e.baseTime)
	e.state = StatePlaying

	logrus.WithFields(logrus.Fields{
		"function":  "Play",
		"base_time": e.baseTime,
	}).Info("Pipeline playing")

	return nil
}

// Stop halts every worker, releases all queued buffers and returns once
// no further buffer release or diagnostic callback can happen.
func (e *Engine) Stop() error {
	e.busMu.Lock()
	e.stopped = true
	e.busMu.Unlock()
	e.ref.Reset()

	e.stateMu.Lock()
	prev := e.state
	e.state = StateNull
	cancel, group := e.cancel, e.group
	e.cancel, e.group = nil, nil
	e.stateMu.Unlock()

	if prev == StateNull {
		return nil
	}

	var err error
	if cancel != nil {
		cancel()
		if werr := group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	}

	released := 0
	for _, c := range e.chains {
		for _, b := range c.queue.flush() {
			_ = b.Release()
			released++
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Stop",
		"previous_state":  prev.String(),
		"flushed_buffers": released,
	}).Info("Pipeline stopped")

	return err
}

// Running returns the current running time, or false before Play and
// after Stop.
func (e *Engine) Running() (time.Duration, bool) {
	return e.ref.Running()
}

// Stats returns the counters of every session in id order.
func (e *Engine) Stats() []ChainStats {
	e.stateMu.RLock()
	chains := e.chains
	e.stateMu.RUnlock()

	out := make([]ChainStats, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.stats())
	}
	return out
}

func (e *Engine) push(c *chain, b *bufferpool.Buffer) FlowReturn {
	e.stateMu.RLock()
	if e.state != StatePlaying {
		state := e.state
		e.stateMu.RUnlock()
		logrus.WithFields(logrus.Fields{
			"function": "PushBuffer",
			"element":  c.src.name,
			"state":    state.String(),
		}).Debug("Source is not playing")
		return FlowFlushing
	}
	evicted, pushed, dropped := c.queue.push(b)
	var lost clock.Stamp
	if evicted != nil {
		lost = evicted.Stamp
		_ = evicted.Release()
	}
	e.stateMu.RUnlock()

	if evicted != nil {
		c.onDrop(e, lost, pushed, dropped)
	}
	return FlowOK
}

func (e *Engine) post(msg Message) {
	e.busMu.RLock()
	defer e.busMu.RUnlock()
	if e.stopped || e.handler == nil {
		return
	}
	e.handler(msg)
}
