package device

import "errors"

// Registration errors.
var (
	// ErrNotReady indicates the device is not registered.
	ErrNotReady = errors.New("device not ready")

	// ErrNoToken indicates the token source returned an empty token.
	ErrNoToken = errors.New("empty access token")

	// ErrTokenExpiry indicates the token carries no usable exp claim.
	ErrTokenExpiry = errors.New("token has no expiry")

	// ErrClosed indicates the registrar has been closed.
	ErrClosed = errors.New("device registrar closed")
)

// Handle errors.
var (
	// ErrHandleClosed indicates an operation on a released call handle.
	ErrHandleClosed = errors.New("call handle closed")

	// ErrInvalidOffer indicates a renegotiation offer that could not be parsed.
	ErrInvalidOffer = errors.New("invalid session offer")
)
