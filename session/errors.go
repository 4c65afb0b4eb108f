package session

import "errors"

// Sentinel errors for session registry operations.
// These errors enable reliable error classification using errors.Is().

// Registration errors.
var (
	// ErrDuplicateChannel indicates a channel of the same kind already exists.
	ErrDuplicateChannel = errors.New("channel already registered for kind")

	// ErrInvalidChannel indicates the channel description is incomplete or out of range.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrRegistryFrozen indicates registration was attempted after playback started.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Lookup errors.
var (
	// ErrChannelNotRegistered indicates no channel exists for the requested kind.
	ErrChannelNotRegistered = errors.New("channel not registered")
)
