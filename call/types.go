package call

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a call session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRinging
	StateConnected
	StateEnded
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// transitions lists the allowed targets for each non-terminal state.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateRinging, StateEnded, StateError},
	StateConnecting: {StateRinging, StateConnected, StateEnded, StateError},
	StateRinging:    {StateConnected, StateEnded, StateError},
	StateConnected:  {StateEnded, StateError},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Direction tells who placed the call.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// EndReason records why a call finished.
type EndReason string

const (
	ReasonNone           EndReason = ""
	ReasonHangup         EndReason = "hangup"
	ReasonRemoteHangup   EndReason = "remote-hangup"
	ReasonRejected       EndReason = "rejected"
	ReasonTransportError EndReason = "transport-error"
	ReasonDeviceLost     EndReason = "device-lost"
	ReasonDialTimeout    EndReason = "dial-timeout"
	ReasonBusy           EndReason = "busy"
)

// CallMeta is a point-in-time snapshot of a session.
type CallMeta struct {
	SessionID       string
	Direction       Direction
	State           State
	RemoteIdentity  string
	ContactID       string
	StartedAt       time.Time
	ConnectedAt     time.Time
	EndedAt         time.Time
	DurationSeconds int
	Muted           bool
	OnHold          bool
	Codec           string
	NetworkClass    string
	TargetBitrate   uint32
	JitterBufferMs  int
	PLCEnabled      bool
	EndReason       EndReason
	Err             error
}
