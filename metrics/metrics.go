// Package metrics exposes server counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/qos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtpserver"

// Metrics holds all server metrics
type Metrics struct {
	// Ingress counters
	FramesStamped  [4]atomic.Uint64
	FramesRejected [4]atomic.Uint64
	FramesSkipped  [4]atomic.Uint64

	diagnostics *prometheus.CounterVec
	jitter      *prometheus.HistogramVec
	quality     *prometheus.GaugeVec

	mu    sync.RWMutex
	kinds map[uint32]media.Kind

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		kinds:    make(map[uint32]media.Kind),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostic messages posted by the pipeline",
		}, []string{"type", "name"}),
		jitter: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rtcp_jitter_seconds",
			Help:      "Interarrival jitter reported by receivers",
			Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		}, []string{"kind"}),
		quality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_quality_level",
			Help:      "Assessed quality level (0=excellent, 4=unacceptable)",
		}, []string{"session", "kind"}),
	}

	m.registry.MustRegister(m.diagnostics, m.jitter, m.quality)
	m.registerIngressMetrics()

	return m
}

func (m *Metrics) registerIngressMetrics() {
	for _, kind := range media.Kinds {
		k := kind
		labels := prometheus.Labels{"kind": k.String()}

		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "frames_stamped_total",
				Help:        "Frames stamped and handed to the pipeline",
				ConstLabels: labels,
			},
			func() float64 { return float64(m.FramesStamped[k].Load()) },
		))

		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "frames_rejected_total",
				Help:        "Frames rejected by the pipeline",
				ConstLabels: labels,
			},
			func() float64 { return float64(m.FramesRejected[k].Load()) },
		))

		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "frames_baseline_total",
				Help:        "Frames consumed to establish the timestamp baseline",
				ConstLabels: labels,
			},
			func() float64 { return float64(m.FramesSkipped[k].Load()) },
		))
	}
}

// TrackSession records the kind of a session for labelling.
func (m *Metrics) TrackSession(sessionID uint32, kind media.Kind) {
	m.mu.Lock()
	m.kinds[sessionID] = kind
	m.mu.Unlock()
}

func (m *Metrics) kindOf(sessionID uint32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.kinds[sessionID]; ok {
		return k.String()
	}
	return "unknown"
}

// RecordDiagnostic counts one pipeline message and observes RTCP jitter.
func (m *Metrics) RecordDiagnostic(msg pipeline.Message) {
	m.diagnostics.WithLabelValues(msg.Type.String(), msg.Name).Inc()
	if msg.Type == pipeline.MessageQoS && msg.QoS != nil && msg.QoS.Format == "rtcp" {
		m.jitter.WithLabelValues(m.kindOf(msg.SessionID)).Observe(msg.QoS.Jitter.Seconds())
	}
}

// RecordQuality publishes the assessed quality of a session.
func (m *Metrics) RecordQuality(sessionID uint32, level qos.QualityLevel) {
	m.quality.WithLabelValues(strconv.FormatUint(uint64(sessionID), 10), m.kindOf(sessionID)).Set(float64(level))
}

// WatchEngine exports the per-session counters of an engine on every scrape.
func (m *Metrics) WatchEngine(stats func() []pipeline.ChainStats) error {
	return m.registry.Register(&engineCollector{stats: stats})
}

// WatchPools exports buffer pool counters on every scrape.
func (m *Metrics) WatchPools(stats func() map[bufferpool.Key]bufferpool.Stats) error {
	return m.registry.Register(&poolCollector{stats: stats})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
