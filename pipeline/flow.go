package pipeline

import "fmt"

// FlowReturn is the result of pushing a buffer into an application source.
type FlowReturn int

const (
	// FlowOK means the buffer was accepted and is now owned by the pipeline.
	FlowOK FlowReturn = iota
	// FlowFlushing means the pipeline is not playing.
	FlowFlushing
	// FlowEOS means the source has been closed.
	FlowEOS
	// FlowNotLinked means the source has no downstream chain.
	FlowNotLinked
	// FlowError means the buffer was rejected for any other reason.
	FlowError
)

// String returns the string representation of FlowReturn.
func (f FlowReturn) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowNotLinked:
		return "not-linked"
	case FlowError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// State is the lifecycle state of an Engine.
type State int

const (
	// StateNull is the initial and final state.
	StateNull State = iota
	// StateReady means the topology has been realized.
	StateReady
	// StatePaused means workers are running but sources reject buffers.
	StatePaused
	// StatePlaying means sources accept buffers.
	StatePlaying
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
