// Package call owns the lifecycle of voice calls.
//
// A Session is one call leg driven by a device.Handle through the states
//
//	idle → connecting → ringing → connected → ended
//
// with error reachable from every non-terminal state. The Session is the
// only component allowed to change call state; the audio pipeline, quality
// monitor, network adapter and codec selector report to it.
//
// The Manager enforces a single active call per device, creates sessions
// for outbound dials and incoming handles, and publishes typed events on a
// Bus. Events are delivered over per-subscriber buffered channels; a
// subscriber that falls behind loses events rather than stalling a call.
//
// Entering a terminal state runs the finalize handler exactly once: timers
// stop, media loops are cancelled and awaited, the handle and audio source
// are released, a calllog.Record is written and the terminal StateChanged
// event is published.
package call
