// Package qos turns the diagnostics posted by the pipeline engine into
// structured log records, metrics and per-session quality assessments.
//
// The monitor is purely observational: it never changes server state.
// Quality is assessed with simple thresholds on packet loss and jitter:
// 1. QoS messages from the drop-oldest queues report local frame loss
// 2. QoS messages from RTCP receiver reports report network loss and jitter
// 3. Element messages (picture loss, goodbye, estimated bitrate) are logged
package qos

import (
	"fmt"
	"time"
)

// QualityLevel represents overall stream quality assessment.
type QualityLevel int

const (
	// QualityExcellent indicates optimal stream quality
	QualityExcellent QualityLevel = iota
	// QualityGood indicates good stream quality with minor issues
	QualityGood
	// QualityFair indicates acceptable stream quality with noticeable issues
	QualityFair
	// QualityPoor indicates poor stream quality with significant problems
	QualityPoor
	// QualityUnacceptable indicates unacceptable stream quality
	QualityUnacceptable
)

// String returns the string representation of QualityLevel.
func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityPoor:
		return "Poor"
	case QualityUnacceptable:
		return "Unacceptable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// Thresholds defines the boundaries between quality levels.
type Thresholds struct {
	// Packet loss thresholds (percentage)
	ExcellentPacketLoss float64
	GoodPacketLoss      float64
	FairPacketLoss      float64
	PoorPacketLoss      float64

	// Jitter thresholds
	ExcellentJitter time.Duration
	GoodJitter      time.Duration
	FairJitter      time.Duration
	PoorJitter      time.Duration
}

// DefaultThresholds returns thresholds suited to interactive media.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		ExcellentPacketLoss: 1.0,
		GoodPacketLoss:      3.0,
		FairPacketLoss:      8.0,
		PoorPacketLoss:      15.0,
		ExcellentJitter:     20 * time.Millisecond,
		GoodJitter:          50 * time.Millisecond,
		FairJitter:          100 * time.Millisecond,
		PoorJitter:          200 * time.Millisecond,
	}
}

// Assess determines the quality level for a loss percentage and jitter.
//
// Packet loss is the primary indicator; jitter refines the result when
// loss is low.
func (t *Thresholds) Assess(lossPercent float64, jitter time.Duration) QualityLevel {
	switch {
	case lossPercent >= t.PoorPacketLoss:
		return QualityUnacceptable
	case lossPercent >= t.FairPacketLoss:
		return QualityPoor
	case lossPercent >= t.GoodPacketLoss:
		return QualityFair
	case lossPercent >= t.ExcellentPacketLoss:
		if jitter >= t.GoodJitter {
			return QualityFair
		}
		return QualityGood
	}

	switch {
	case jitter >= t.PoorJitter:
		return QualityFair
	case jitter >= t.ExcellentJitter:
		return QualityGood
	default:
		return QualityExcellent
	}
}
