// Package event encodes the structured records carried by the event
// channel as OSC messages.
//
// Arguments are restricted to 32/64-bit integers, 32-bit floats and
// strings. Other Go numeric types are converted; anything else is
// skipped with a warning.
package event

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidAddress indicates an OSC address that does not start with '/'.
	ErrInvalidAddress = errors.New("invalid osc address")

	// ErrEventTooLarge indicates an encoded event does not fit a pooled buffer.
	ErrEventTooLarge = errors.New("event exceeds buffer capacity")
)

// NewMessage builds a message with normalized arguments.
func NewMessage(address string, args ...interface{}) (*osc.Message, error) {
	if !strings.HasPrefix(address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	msg := osc.NewMessage(address)
	for _, a := range args {
		if v, ok := normalize(a); ok {
			msg.Append(v)
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "NewMessage",
				"address":  address,
				"type":     fmt.Sprintf("%T", a),
			}).Warn("Skipping unsupported event argument")
		}
	}
	return msg, nil
}

// Normalize returns a copy of msg that only carries supported argument types.
func Normalize(msg *osc.Message) (*osc.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	return NewMessage(msg.Address, msg.Arguments...)
}

func normalize(a interface{}) (interface{}, bool) {
	switch v := a.(type) {
	case int32, int64, float32, string:
		return v, true
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return int32(v), true
		}
		return int64(v), true
	case int8:
		return int32(v), true
	case int16:
		return int32(v), true
	case uint8:
		return int32(v), true
	case uint16:
		return int32(v), true
	case uint32:
		return int64(v), true
	case float64:
		return float32(v), true
	case bool:
		if v {
			return int32(1), true
		}
		return int32(0), true
	default:
		return nil, false
	}
}

// Encode serializes msg to its OSC wire form.
func Encode(msg *osc.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}
	clean, err := Normalize(msg)
	if err != nil {
		return nil, err
	}
	data, err := clean.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Address, err)
	}
	return data, nil
}
