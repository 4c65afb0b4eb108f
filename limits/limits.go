// Package limits provides centralized payload size limits for the packet
// kinds accepted at ingress. This ensures consistent validation across the
// server, the buffer pools and the event encoder.
//
// # Size Hierarchy
//
//   - MaxAudioPacket (4000 bytes): the largest encoded Opus packet a
//     producer may push, matching the output buffer libopus recommends.
//
//   - MaxEventRecord (8192 bytes): the largest encoded OSC event record. It
//     is also the block size of the audio and event buffer pools.
//
//   - MaxUDPPayload (65507 bytes): the absolute maximum for any datagram
//     written to an IPv4 UDP socket.
//
// Each validation function checks for empty payloads and size limit
// violations:
//
//	if err := limits.ValidateAudioPacket(packet); err != nil {
//	    return err
//	}
//
// Errors wrap ErrPayloadEmpty or ErrPayloadTooLarge.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxAudioPacket is the largest encoded audio packet accepted.
	MaxAudioPacket = 4000

	// MaxEventRecord is the largest encoded event record accepted.
	MaxEventRecord = 8192

	// MaxUDPPayload is the largest payload of one IPv4 UDP datagram
	// (65535 - 8 byte UDP header - 20 byte IP header).
	MaxUDPPayload = 65507
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates payload exceeds maximum size
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidateSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateAudioPacket validates an encoded audio packet against MaxAudioPacket.
func ValidateAudioPacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrPayloadEmpty
	}
	if len(packet) > MaxAudioPacket {
		return fmt.Errorf("%w: audio packet size %d exceeds limit %d", ErrPayloadTooLarge, len(packet), MaxAudioPacket)
	}
	return nil
}

// ValidateEventRecord validates an encoded event record against MaxEventRecord.
func ValidateEventRecord(record []byte) error {
	if len(record) == 0 {
		return ErrPayloadEmpty
	}
	if len(record) > MaxEventRecord {
		return fmt.Errorf("%w: event record size %d exceeds limit %d", ErrPayloadTooLarge, len(record), MaxEventRecord)
	}
	return nil
}

// ValidateDatagram validates data against MaxUDPPayload.
func ValidateDatagram(data []byte) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > MaxUDPPayload {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrPayloadTooLarge, len(data), MaxUDPPayload)
	}
	return nil
}
