package call

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/codec"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/opd-ai/softphone/vad"
)

// Config controls sessions created by a Manager.
type Config struct {
	DialTimeout           time.Duration // connecting without ringing or answer (default: 30s)
	TeardownTimeout       time.Duration // bound on waiting for media loops (default: 2s)
	TelemetryFlushTimeout time.Duration // bound on the call record write (default: 3s)
	DigitQueueSize        int           // pending DTMF strings (default: 32)

	Pipeline    audio.PipelineConfig
	FrameBudget time.Duration
	Quality     *quality.Config
	VAD         vad.Config
	Network     *network.Config
	Codec       *codec.Config

	// AdaptEvery is the number of quality ticks between network and codec
	// re-evaluations (default: 10).
	AdaptEvery int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:           30 * time.Second,
		TeardownTimeout:       2 * time.Second,
		TelemetryFlushTimeout: 3 * time.Second,
		DigitQueueSize:        32,
		Pipeline:              audio.DefaultPipelineConfig(),
		FrameBudget:           audio.DefaultFrameBudget,
		Quality:               quality.DefaultConfig(),
		VAD:                   vad.DefaultConfig(),
		Network:               network.DefaultConfig(),
		Codec:                 codec.DefaultConfig(),
		AdaptEvery:            10,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.DialTimeout <= 0:
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	case c.TeardownTimeout <= 0 || c.TelemetryFlushTimeout <= 0:
		return fmt.Errorf("teardown and telemetry timeouts must be positive")
	case c.DigitQueueSize <= 0:
		return fmt.Errorf("digit queue size must be positive, got %d", c.DigitQueueSize)
	case c.AdaptEvery <= 0:
		return fmt.Errorf("adapt interval must be positive, got %d", c.AdaptEvery)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Quality != nil {
		if err := c.Quality.Validate(); err != nil {
			return err
		}
	}
	return c.VAD.Validate()
}

// SourceFactory opens the capture source when a call connects.
type SourceFactory interface {
	Open(ctx context.Context, layout audio.PipelineConfig) (audio.Source, error)
}

// SourceFactoryFunc adapts a function to SourceFactory.
type SourceFactoryFunc func(ctx context.Context, layout audio.PipelineConfig) (audio.Source, error)

// Open calls f.
func (f SourceFactoryFunc) Open(ctx context.Context, layout audio.PipelineConfig) (audio.Source, error) {
	return f(ctx, layout)
}
