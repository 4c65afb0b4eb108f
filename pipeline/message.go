package pipeline

import (
	"fmt"
	"time"
)

// MessageType classifies an asynchronous diagnostic message.
type MessageType int

const (
	// MessageElement is a free-form notification from an element.
	MessageElement MessageType = iota
	// MessageQoS reports processing statistics from an element.
	MessageQoS
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case MessageElement:
		return "element"
	case MessageQoS:
		return "qos"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// QoSStats carries the fields of a QoS message.
type QoSStats struct {
	Format    string
	Processed uint64
	Dropped   uint64

	Jitter     time.Duration
	Proportion float64
	Quality    int

	Live        bool
	RunningTime time.Duration
	StreamTime  time.Duration
	Timestamp   time.Duration
	Duration    time.Duration

	// FractionLost and PacketsLost are filled from RTCP receiver reports.
	FractionLost float64
	PacketsLost  uint32
}

// Message is one diagnostic posted by the engine.
type Message struct {
	Type      MessageType
	Source    string
	SessionID uint32
	Name      string
	Fields    map[string]interface{}
	QoS       *QoSStats
}

// Handler receives diagnostic messages. It runs on engine goroutines and
// must not call Stop.
type Handler func(Message)
