package pipeline

import "errors"

// Sentinel errors for pipeline engine operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrInvalidState indicates an operation was attempted in the wrong state.
	ErrInvalidState = errors.New("invalid pipeline state")

	// ErrEmptyTopology indicates Realize was called without sessions.
	ErrEmptyTopology = errors.New("topology has no sessions")

	// ErrNotLinked indicates a network element has no connection attached.
	ErrNotLinked = errors.New("element not linked")
)

// Element errors.
var (
	// ErrNoSuchElement indicates no element has the requested name.
	ErrNoSuchElement = errors.New("no such element")

	// ErrWrongElementType indicates the named element has a different type.
	ErrWrongElementType = errors.New("element has a different type")
)
