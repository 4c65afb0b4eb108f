package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtpserver/session"
)

// ErrBindFailed indicates a session link could not be bound to the network.
var ErrBindFailed = errors.New("transport bind failed")

// BindError records which link of which session failed to bind.
type BindError struct {
	SessionID uint32
	Role      session.Role
	Address   string
	Err       error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("session %d %s (%s): %v", e.SessionID, e.Role, e.Address, e.Err)
}

// Unwrap exposes both ErrBindFailed and the underlying cause to errors.Is.
func (e *BindError) Unwrap() []error {
	return []error{ErrBindFailed, e.Err}
}
