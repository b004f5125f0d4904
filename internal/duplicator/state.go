package duplicator

import (
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

// State is the capture state of one engine.
type State int32

const (
	Unknown State = iota
	Ready
	Running
	InvalidArg
	AccessDenied
	Unsupported
	CurrentlyNotAvailable
	SessionDisconnected
	AccessLost
)

var stateNames = [...]string{
	Unknown:               "unknown",
	Ready:                 "ready",
	Running:               "running",
	InvalidArg:            "invalid_arg",
	AccessDenied:          "access_denied",
	Unsupported:           "unsupported",
	CurrentlyNotAvailable: "currently_not_available",
	SessionDisconnected:   "session_disconnected",
	AccessLost:            "access_lost",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// IsError reports whether s is anything other than Ready or Running.
func (s State) IsError() bool {
	return s != Ready && s != Running
}

// Class groups states by how the owner should react to them.
type Class int

const (
	// ClassNormal covers Ready and Running.
	ClassNormal Class = iota
	// ClassRecoverable states clear once the owner tears the engine down
	// and constructs a new one after the condition settles.
	ClassRecoverable
	// ClassPermanent states do not clear without a topology change.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNormal:
		return "normal"
	case ClassRecoverable:
		return "recoverable"
	default:
		return "permanent"
	}
}

// Class returns the error class of s.
func (s State) Class() Class {
	switch s {
	case Ready, Running:
		return ClassNormal
	case AccessLost, AccessDenied, CurrentlyNotAvailable, SessionDisconnected:
		return ClassRecoverable
	default:
		return ClassPermanent
	}
}

// InitState maps the result of opening a duplication session to the
// engine's initial state.
func InitState(err error) State {
	if err == nil {
		return Ready
	}
	hr, ok := dxgi.Code(err)
	if !ok {
		return Unknown
	}
	switch hr {
	case dxgi.EInvalidArg:
		return InvalidArg
	case dxgi.EAccessDenied:
		return AccessDenied
	case dxgi.ErrUnsupported:
		return Unsupported
	case dxgi.ErrNotCurrentlyAvailable:
		return CurrentlyNotAvailable
	case dxgi.ErrSessionDisconnected:
		return SessionDisconnected
	default:
		return Unknown
	}
}

// AcquireOutcome classifies an AcquireNextFrame result.
type AcquireOutcome int

const (
	// Acquired means a frame is now held.
	Acquired AcquireOutcome = iota
	// TimedOut means no desktop update arrived within the timeout.
	TimedOut
	// Transient failures are logged and the cycle is skipped.
	Transient
	// Failed means the engine moved to an error state.
	Failed
)

// AcquireTransition returns the state that follows an acquire result
// observed in state cur.
func AcquireTransition(cur State, err error) (State, AcquireOutcome) {
	if err == nil {
		return cur, Acquired
	}
	hr, _ := dxgi.Code(err)
	switch hr {
	case dxgi.ErrWaitTimeout:
		return cur, TimedOut
	case dxgi.ErrAccessLost:
		return AccessLost, Failed
	case dxgi.ErrInvalidCall, dxgi.EInvalidArg:
		return cur, Transient
	default:
		return Unknown, Failed
	}
}

// ReleaseTransition returns the state that follows a ReleaseFrame result
// observed in state cur.
func ReleaseTransition(cur State, err error) State {
	if err == nil {
		return cur
	}
	hr, _ := dxgi.Code(err)
	switch hr {
	case dxgi.ErrAccessLost:
		return AccessLost
	case dxgi.ErrInvalidCall:
		return cur
	default:
		return Unknown
	}
}
