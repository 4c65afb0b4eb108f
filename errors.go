package rtpserver

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtpserver/media"
	"github.com/opd-ai/rtpserver/pipeline"
	"github.com/opd-ai/rtpserver/session"
)

// Sentinel errors for server operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrAlreadyRunning indicates Play was called on a playing server.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNotRunning indicates a push was attempted before Play.
	ErrNotRunning = errors.New("server not running")

	// ErrStopped indicates the server was stopped and cannot be restarted.
	ErrStopped = errors.New("server stopped")
)

// Ingress errors.
var (
	// ErrChannelNotRegistered indicates a push on a kind without a channel.
	ErrChannelNotRegistered = session.ErrChannelNotRegistered

	// ErrFrameShape indicates the pushed payload does not match the channel.
	ErrFrameShape = errors.New("frame does not match channel shape")

	// ErrPushRejected indicates the pipeline refused a stamped buffer.
	ErrPushRejected = errors.New("buffer rejected by pipeline")
)

// Parameter errors.
var (
	// ErrInvalidBitrate indicates a bitrate outside the accepted range.
	ErrInvalidBitrate = errors.New("bitrate out of range")
)

// PushError reports a buffer refused by the pipeline together with the
// flow result returned by the application source.
type PushError struct {
	Kind media.Kind
	Flow pipeline.FlowReturn
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s: %s: %v", e.Kind, e.Flow, ErrPushRejected)
}

// Unwrap allows errors.Is(err, ErrPushRejected).
func (e *PushError) Unwrap() error {
	return ErrPushRejected
}
