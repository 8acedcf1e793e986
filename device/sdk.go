package device

import (
	"context"
	"time"

	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/pion/rtp"
)

// State is the registration state of a device.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateReady
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind identifies a call handle event.
type EventKind string

const (
	EventAccept         EventKind = "accept"
	EventDisconnect     EventKind = "disconnect"
	EventReject         EventKind = "reject"
	EventCancel         EventKind = "cancel"
	EventError          EventKind = "error"
	EventRinging        EventKind = "ringing"
	EventWarning        EventKind = "warning"
	EventWarningCleared EventKind = "warning-cleared"
)

// HandleEvent is emitted by a call handle.
type HandleEvent struct {
	Kind    EventKind
	Warning string // warning name for warning events
	Err     error  // cause for error events
	At      time.Time
}

// ConnectParams describes an outbound call.
type ConnectParams struct {
	To        string
	ContactID string
	SessionID string
}

// Handle is one call leg as exposed by the device SDK.
type Handle interface {
	RemoteIdentity() string
	Accept(ctx context.Context) error
	Reject() error
	Disconnect() error
	Mute(muted bool) error
	Hold(onHold bool) error
	SendDigits(digits string) error
	Renegotiate(ctx context.Context, offer []byte) error
	// WriteFrame hands one enhanced outbound frame to the transport.
	WriteFrame(frame []int16) error
	Events() <-chan HandleEvent
	Stats() quality.TransportStats
}

// InboundMedia is implemented by handles that surface the remote's RTP
// packets. The channel is closed when the handle is released.
type InboundMedia interface {
	InboundRTP() <-chan *rtp.Packet
}

// TransportTuner is implemented by handles whose send bitrate, jitter
// buffer depth and packet-loss concealment can be retuned mid-call.
type TransportTuner interface {
	ApplyProfile(p network.Profile) error
}

// Registrar is the device SDK's registration and call-setup surface.
type Registrar interface {
	Register(ctx context.Context, token string) error
	Connect(ctx context.Context, params ConnectParams) (Handle, error)
	Incoming() <-chan Handle
	TokenWillExpire() <-chan struct{}
	Close() error
}
