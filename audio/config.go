package audio

import (
	"fmt"
	"math"
	"time"
)

const (
	// MinGain is the lowest scalar gain the pipeline will ever apply.
	MinGain = 0.5
	// MaxGain is the highest scalar gain the pipeline will ever apply.
	MaxGain = 2.0

	// DefaultSampleRate is the capture rate in Hz.
	DefaultSampleRate = 48000
	// DefaultFrameSize is the number of samples per channel in one frame.
	DefaultFrameSize = 4096

	// DefaultNoiseFloor is the normalized RMS level under which a frame is gated.
	DefaultNoiseFloor = 0.01
	// AggressiveNoiseFloor is used while the quality monitor reports a low SNR.
	AggressiveNoiseFloor = 0.02

	// DefaultHighPassCutoff is the normal high-pass corner frequency.
	DefaultHighPassCutoff = 80.0
	// AggressiveHighPassCutoff is used while the quality monitor reports a low SNR.
	AggressiveHighPassCutoff = 100.0

	// gateAttenuation is the amplitude factor applied to gated frames.
	gateAttenuation = 0.1
)

// CompressorParams holds the soft-knee compressor settings.
type CompressorParams struct {
	ThresholdDB float64       // Level where compression starts (default: -24dB)
	KneeDB      float64       // Width of the soft knee (default: 30dB)
	Ratio       float64       // Compression ratio above the knee (default: 12)
	Attack      time.Duration // Gain reduction attack time (default: 3ms)
	Release     time.Duration // Gain reduction release time (default: 250ms)
}

// PipelineConfig is the complete parameter set for one session's pipeline.
// Values are copied on commit; a committed config is never mutated.
type PipelineConfig struct {
	SampleRate          int
	Channels            int
	FrameSize           int // samples per channel
	NoiseFloorThreshold float64
	HighPassCutoffHz    float64
	Compressor          CompressorParams
	Gain                float64
}

// DefaultPipelineConfig returns the configuration used for a new session.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SampleRate:          DefaultSampleRate,
		Channels:            1,
		FrameSize:           DefaultFrameSize,
		NoiseFloorThreshold: DefaultNoiseFloor,
		HighPassCutoffHz:    DefaultHighPassCutoff,
		Compressor: CompressorParams{
			ThresholdDB: -24,
			KneeDB:      30,
			Ratio:       12,
			Attack:      3 * time.Millisecond,
			Release:     250 * time.Millisecond,
		},
		Gain: 1.0,
	}
}

// ClampGain bounds g to [MinGain, MaxGain]. NaN maps to unity gain.
func ClampGain(g float64) float64 {
	if math.IsNaN(g) {
		return 1.0
	}
	if g < MinGain {
		return MinGain
	}
	if g > MaxGain {
		return MaxGain
	}
	return g
}

// WithGain returns a copy of the config with the gain set and clamped.
func (c PipelineConfig) WithGain(g float64) PipelineConfig {
	c.Gain = ClampGain(g)
	return c
}

// FrameDuration is the wall-clock length of one frame.
func (c PipelineConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks structural parameters. Gain is clamped, not rejected.
func (c PipelineConfig) Validate() error {
	switch {
	case math.IsNaN(c.Gain) || math.IsNaN(c.NoiseFloorThreshold) || math.IsNaN(c.HighPassCutoffHz):
		return fmt.Errorf("%w: NaN parameter", ErrInvalidConfig)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	case c.Channels < 1 || c.Channels > 2:
		return fmt.Errorf("%w: channels %d", ErrInvalidConfig, c.Channels)
	case c.FrameSize <= 0:
		return fmt.Errorf("%w: frame size %d", ErrInvalidConfig, c.FrameSize)
	case c.NoiseFloorThreshold < 0 || c.NoiseFloorThreshold >= 1:
		return fmt.Errorf("%w: noise floor %.4f", ErrInvalidConfig, c.NoiseFloorThreshold)
	case c.HighPassCutoffHz <= 0 || c.HighPassCutoffHz >= float64(c.SampleRate)/2:
		return fmt.Errorf("%w: high-pass cutoff %.1fHz", ErrInvalidConfig, c.HighPassCutoffHz)
	case c.Compressor.Ratio < 1:
		return fmt.Errorf("%w: compressor ratio %.2f", ErrInvalidConfig, c.Compressor.Ratio)
	case c.Compressor.KneeDB < 0:
		return fmt.Errorf("%w: compressor knee %.2f", ErrInvalidConfig, c.Compressor.KneeDB)
	case c.Compressor.Attack <= 0 || c.Compressor.Release <= 0:
		return fmt.Errorf("%w: compressor attack/release must be positive", ErrInvalidConfig)
	}
	return nil
}
