package call

import "errors"

// Call setup errors.
var (
	// ErrDeviceNotReady indicates the device is not registered.
	ErrDeviceNotReady = errors.New("device not ready")

	// ErrCallInProgress indicates another call is already active.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrDialTimeout indicates an outbound call was neither ringing nor
	// answered within the dial timeout.
	ErrDialTimeout = errors.New("dial timed out")
)

// Call runtime errors.
var (
	// ErrDeviceLost indicates the audio capture device failed.
	ErrDeviceLost = errors.New("audio device lost")

	// ErrNoActiveCall indicates an operation that needs a call found none.
	ErrNoActiveCall = errors.New("no active call")

	// ErrInvalidDigits indicates DTMF input outside 0-9 * # A-D w.
	ErrInvalidDigits = errors.New("invalid DTMF digits")

	// ErrDigitQueueFull indicates the DTMF queue is saturated.
	ErrDigitQueueFull = errors.New("DTMF queue full")

	// ErrInvalidTransition indicates a state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Manager state errors.
var (
	// ErrManagerClosed indicates the manager has been closed.
	ErrManagerClosed = errors.New("call manager closed")
)
