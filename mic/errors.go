package mic

import "errors"

var (
	// ErrUnavailable indicates a source kind that is not compiled in.
	ErrUnavailable = errors.New("capture source unavailable")

	// ErrClosed indicates a read from a closed source.
	ErrClosed = errors.New("capture source closed")

	// ErrUnknownSource indicates an unsupported source name.
	ErrUnknownSource = errors.New("unknown capture source")
)
