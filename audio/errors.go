package audio

import "errors"

// Configuration errors.
var (
	// ErrInvalidConfig indicates a pipeline configuration failed validation.
	ErrInvalidConfig = errors.New("invalid audio pipeline configuration")

	// ErrFrameSize indicates a frame whose length does not match the configured frame size.
	ErrFrameSize = errors.New("frame size mismatch")
)

// Runtime errors.
var (
	// ErrDeviceLost indicates the capture source failed or disappeared mid-call.
	ErrDeviceLost = errors.New("audio device lost")

	// ErrPipelineRunning indicates Run was called on a pipeline that is already running.
	ErrPipelineRunning = errors.New("audio pipeline already running")
)
