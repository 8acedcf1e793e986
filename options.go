package softphone

import (
	"github.com/opd-ai/softphone/call"
	"github.com/opd-ai/softphone/calllog"
	"github.com/opd-ai/softphone/device"
	"github.com/opd-ai/softphone/internal/clock"
)

// Option customizes a Phone.
type Option func(*options)

type options struct {
	sdk     device.Registrar
	tokens  device.TokenSource
	sources call.SourceFactory
	sink    calllog.Sink
	clock   clock.Clock
}

// WithRegistrar supplies the device SDK. It is required for the external
// transport and replaces the simulated one otherwise.
func WithRegistrar(sdk device.Registrar) Option {
	return func(o *options) { o.sdk = sdk }
}

// WithTokenSource overrides the token source derived from the config.
func WithTokenSource(tokens device.TokenSource) Option {
	return func(o *options) { o.tokens = tokens }
}

// WithSourceFactory overrides the microphone.
func WithSourceFactory(sources call.SourceFactory) Option {
	return func(o *options) { o.sources = sources }
}

// WithSink overrides the call record sink derived from the config.
func WithSink(sink calllog.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithClock sets the clock for timers, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}
