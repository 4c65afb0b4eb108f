package qos

import (
	"sync"
	"time"

	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/sirupsen/logrus"
)

// Assessment is the quality derived from one QoS message.
type Assessment struct {
	SessionID  uint32
	Source     string
	Quality    QualityLevel
	PacketLoss float64
	Jitter     time.Duration
	Timestamp  time.Time
}

// Recorder receives every diagnostic the monitor sees.
type Recorder interface {
	RecordDiagnostic(msg pipeline.Message)
	RecordQuality(sessionID uint32, level QualityLevel)
}

// Monitor logs diagnostics and tracks per-session quality.
type Monitor struct {
	mu         sync.RWMutex
	thresholds *Thresholds
	callback   func(Assessment)
	recorder   Recorder
	last       map[uint32]QualityLevel
	now        func() time.Time
}

// NewMonitor creates a monitor.
//
// Parameters:
//   - thresholds: Quality assessment thresholds (nil selects DefaultThresholds())
//
// Returns:
//   - *Monitor: New monitor instance
func NewMonitor(thresholds *Thresholds) *Monitor {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewMonitor",
	}).Debug("Creating QoS monitor")

	return &Monitor{
		thresholds: thresholds,
		last:       make(map[uint32]QualityLevel),
		now:        time.Now,
	}
}

// SetQualityCallback registers a callback invoked whenever the quality
// level of a session changes. Passing nil disables it.
func (m *Monitor) SetQualityCallback(cb func(Assessment)) {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
}

// SetRecorder attaches a metrics recorder. Passing nil detaches it.
func (m *Monitor) SetRecorder(r Recorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// Quality returns the last assessed level of a session.
func (m *Monitor) Quality(sessionID uint32) (QualityLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.last[sessionID]
	return q, ok
}

// OnDiagnostic handles one message posted by the pipeline engine.
func (m *Monitor) OnDiagnostic(msg pipeline.Message) {
	m.mu.RLock()
	recorder := m.recorder
	m.mu.RUnlock()

	if recorder != nil {
		recorder.RecordDiagnostic(msg)
	}

	switch msg.Type {
	case pipeline.MessageElement:
		m.onElement(msg)
	case pipeline.MessageQoS:
		m.onQoS(msg)
	}
}

func (m *Monitor) onElement(msg pipeline.Message) {
	fields := logrus.Fields{
		"function":   "OnDiagnostic",
		"source":     msg.Source,
		"session_id": msg.SessionID,
		"message":    msg.Name,
	}
	for k, v := range msg.Fields {
		fields[k] = v
	}
	logrus.WithFields(fields).Debug("Element message")
}

func (m *Monitor) onQoS(msg pipeline.Message) {
	if msg.QoS == nil {
		return
	}
	q := msg.QoS

	logrus.WithFields(logrus.Fields{
		"function":     "OnDiagnostic",
		"source":       msg.Source,
		"session_id":   msg.SessionID,
		"format":       q.Format,
		"processed":    q.Processed,
		"dropped":      q.Dropped,
		"jitter":       q.Jitter,
		"proportion":   q.Proportion,
		"quality":      q.Quality,
		"live":         q.Live,
		"running_time": q.RunningTime,
		"stream_time":  q.StreamTime,
		"timestamp":    q.Timestamp,
		"duration":     q.Duration,
	}).Info("QoS message")

	a := Assessment{
		SessionID:  msg.SessionID,
		Source:     msg.Source,
		PacketLoss: lossPercent(q),
		Jitter:     q.Jitter,
		Timestamp:  m.now(),
	}
	if q.Format != "rtcp" {
		// Queue jitter is lateness, not network jitter.
		a.Jitter = 0
	}
	a.Quality = m.thresholds.Assess(a.PacketLoss, a.Jitter)

	m.mu.Lock()
	prev, seen := m.last[msg.SessionID]
	m.last[msg.SessionID] = a.Quality
	cb, recorder := m.callback, m.recorder
	m.mu.Unlock()

	if recorder != nil {
		recorder.RecordQuality(msg.SessionID, a.Quality)
	}
	if seen && prev == a.Quality {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OnDiagnostic",
		"session_id":  msg.SessionID,
		"quality":     a.Quality.String(),
		"packet_loss": a.PacketLoss,
		"jitter":      a.Jitter,
	}).Info("Session quality changed")

	if cb != nil {
		cb(a)
	}
}

func lossPercent(q *pipeline.QoSStats) float64 {
	if q.Format == "rtcp" {
		return q.FractionLost * 100
	}
	total := q.Processed + q.Dropped
	if total == 0 {
		return 0
	}
	return float64(q.Dropped) / float64(total) * 100
}
