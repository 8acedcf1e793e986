package quality

import "errors"

var (
	// ErrNoFrame indicates no enhanced frame has been published yet.
	ErrNoFrame = errors.New("no audio frame available")

	// ErrInvalidConfig indicates a monitor configuration failed validation.
	ErrInvalidConfig = errors.New("invalid quality monitor configuration")
)
