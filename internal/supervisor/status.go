package supervisor

import (
	"hublink/internal/transport"
)

// StatusKind is the fixed status vocabulary.
type StatusKind int

const (
	StatusSetup StatusKind = iota
	StatusWaiting
	StatusPreparing
	StatusConnected
	StatusFailed
	StatusDropped
	StatusUnknown
)

func (k StatusKind) String() string {
	switch k {
	case StatusSetup:
		return "Setup"
	case StatusWaiting:
		return "Waiting For Connection"
	case StatusPreparing:
		return "Preparing For Connection"
	case StatusConnected:
		return "Connected"
	case StatusFailed:
		return "Connection Failed"
	case StatusDropped:
		return "Connection Dropped"
	default:
		return "Unknown State"
	}
}

// Status is the human-readable connection status.
type Status struct {
	Kind   StatusKind
	Detail string
}

// String renders the label, e.g. "Connected to Hub-1" or
// "Connection Failed: dial 10.0.0.1:12021: connection refused".
func (s Status) String() string {
	if s.Kind == StatusConnected {
		return "Connected to " + s.Detail
	}
	if s.Detail == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ": " + s.Detail
}

var initialStatus = Status{Kind: StatusSetup, Detail: "starting up"}

// statusFor translates a transport transition.  name is the service
// name in service mode and the host in direct mode.
func statusFor(ev transport.StateEvent, name string) Status {
	switch ev.State {
	case transport.StateSetup:
		return Status{Kind: StatusSetup}
	case transport.StateWaiting:
		return Status{Kind: StatusWaiting, Detail: errText(ev.Err)}
	case transport.StatePreparing:
		return Status{Kind: StatusPreparing}
	case transport.StateReady:
		return Status{Kind: StatusConnected, Detail: name}
	case transport.StateFailed:
		return Status{Kind: StatusFailed, Detail: errText(ev.Err)}
	case transport.StateCancelled:
		return Status{Kind: StatusDropped}
	default:
		return Status{Kind: StatusUnknown, Detail: ev.State.String()}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
