package bufferpool

import "errors"

// Sentinel errors for buffer pool operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrDoubleRelease indicates a buffer was released after its last
	// reference had already been returned to the pool.
	ErrDoubleRelease = errors.New("buffer already released")

	// ErrCapacityExceeded indicates a payload does not fit the pooled block.
	ErrCapacityExceeded = errors.New("payload exceeds buffer capacity")

	// ErrInvalidKey indicates a pool key with an unknown kind or a bad shape.
	ErrInvalidKey = errors.New("invalid pool key")
)
