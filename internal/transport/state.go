package transport

import "fmt"

// State is the lifecycle phase of a [Conn].
type State int

const (
	// StateSetup is the initial state, before Start.
	StateSetup State = iota
	// StateWaiting means the last dial failed with a retryable error
	// and the connection is pausing before the next attempt.
	StateWaiting
	// StatePreparing means a dial is in flight.
	StatePreparing
	// StateReady means the connection is established.
	StateReady
	// StateFailed means the connection gave up.
	StateFailed
	// StateCancelled means Cancel was called.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateWaiting:
		return "waiting"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateCancelled
}

// StateEvent is one transition.  Err is set for Waiting and Failed.
type StateEvent struct {
	State State
	Err   error
}

func (e StateEvent) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%v)", e.State, e.Err)
	}
	return e.State.String()
}
