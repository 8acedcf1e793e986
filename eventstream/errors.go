package eventstream

import "errors"

var (
	// ErrUnknownEvent indicates an event type with no wire encoding.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrUnknownOp indicates a command with an unsupported op.
	ErrUnknownOp = errors.New("unknown command op")
)
