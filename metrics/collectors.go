package metrics

import (
	"strconv"

	"github.com/opd-ai/rtpserver/bufferpool"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionLabels = []string{"session", "kind"}

	framesPushedDesc = prometheus.NewDesc(namespace+"_frames_pushed_total",
		"Buffers accepted by the session queue", sessionLabels, nil)
	framesDroppedDesc = prometheus.NewDesc(namespace+"_frames_dropped_total",
		"Buffers dropped by the session queue", sessionLabels, nil)
	framesSentDesc = prometheus.NewDesc(namespace+"_frames_sent_total",
		"Frames fully written to the network", sessionLabels, nil)
	packetsSentDesc = prometheus.NewDesc(namespace+"_rtp_packets_sent_total",
		"RTP packets written", sessionLabels, nil)
	octetsSentDesc = prometheus.NewDesc(namespace+"_rtp_octets_sent_total",
		"RTP bytes written", sessionLabels, nil)
	sendErrorsDesc = prometheus.NewDesc(namespace+"_rtp_send_errors_total",
		"Failed RTP writes", sessionLabels, nil)
	reportsSentDesc = prometheus.NewDesc(namespace+"_rtcp_reports_sent_total",
		"RTCP sender reports written", sessionLabels, nil)
	fractionLostDesc = prometheus.NewDesc(namespace+"_rtcp_fraction_lost",
		"Last fraction lost reported by the receiver", sessionLabels, nil)

	poolLabels = []string{"pool"}

	poolAllocatedDesc = prometheus.NewDesc(namespace+"_pool_blocks_allocated_total",
		"Blocks allocated by the pool", poolLabels, nil)
	poolIdleDesc = prometheus.NewDesc(namespace+"_pool_blocks_idle",
		"Blocks waiting for reuse", poolLabels, nil)
	poolInFlightDesc = prometheus.NewDesc(namespace+"_pool_blocks_in_flight",
		"Blocks owned by the pipeline", poolLabels, nil)
)

type engineCollector struct {
	stats func() []pipeline.ChainStats
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		framesPushedDesc, framesDroppedDesc, framesSentDesc, packetsSentDesc,
		octetsSentDesc, sendErrorsDesc, reportsSentDesc, fractionLostDesc,
	} {
		ch <- d
	}
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.stats() {
		labels := []string{strconv.FormatUint(uint64(s.SessionID), 10), s.Kind.String()}
		ch <- prometheus.MustNewConstMetric(framesPushedDesc, prometheus.CounterValue, float64(s.FramesPushed), labels...)
		ch <- prometheus.MustNewConstMetric(framesDroppedDesc, prometheus.CounterValue, float64(s.FramesDropped), labels...)
		ch <- prometheus.MustNewConstMetric(framesSentDesc, prometheus.CounterValue, float64(s.FramesSent), labels...)
		ch <- prometheus.MustNewConstMetric(packetsSentDesc, prometheus.CounterValue, float64(s.PacketsSent), labels...)
		ch <- prometheus.MustNewConstMetric(octetsSentDesc, prometheus.CounterValue, float64(s.OctetsSent), labels...)
		ch <- prometheus.MustNewConstMetric(sendErrorsDesc, prometheus.CounterValue, float64(s.SendErrors), labels...)
		ch <- prometheus.MustNewConstMetric(reportsSentDesc, prometheus.CounterValue, float64(s.ReportsSent), labels...)
		ch <- prometheus.MustNewConstMetric(fractionLostDesc, prometheus.GaugeValue, s.FractionLost, labels...)
	}
}

type poolCollector struct {
	stats func() map[bufferpool.Key]bufferpool.Stats
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAllocatedDesc
	ch <- poolIdleDesc
	ch <- poolInFlightDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for key, s := range c.stats() {
		label := key.String()
		ch <- prometheus.MustNewConstMetric(poolAllocatedDesc, prometheus.CounterValue, float64(s.Allocated), label)
		ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.Idle), label)
		ch <- prometheus.MustNewConstMetric(poolInFlightDesc, prometheus.GaugeValue, float64(s.InFlight), label)
	}
}
