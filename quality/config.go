package quality

import (
	"fmt"
	"time"

	"github.com/opd-ai/softphone/audio"
)

// Config defines every constant used by the analyzer, controller and monitor.
type Config struct {
	TickInterval time.Duration // analysis period (default: 100ms)
	HistorySize  int           // rolling metrics history (default: 50)

	// Spectrum
	FFTSize         int     // samples per analysis window (default: 2048)
	MinDecibels     float64 // maps to 0 units (default: -100)
	MaxDecibels     float64 // maps to 255 units (default: -30)
	VoiceBandLowHz  float64 // default: 85
	VoiceBandHighHz float64 // default: 255
	NoiseBins       int     // lowest bins (excluding DC) averaged as noise (default: 3)

	// Classification
	ClippingLevel       float64 // bin level counted as clipped (default: 250)
	ClippingBinCount    int     // clipped bins needed to flag clipping (default: 10)
	WeakSignalThreshold float64 // voice energy below this is weak (default: 100)

	// Controller
	GainDownFactor       float64 // applied on clipping (default: 0.9)
	GainUpFactor         float64 // applied on weak signal (default: 1.1)
	AdjustInterval       int     // ticks between gain changes (default: 3)
	ReversalHold         int     // extra ticks before reversing direction (default: 5)
	LowSNR               float64 // enter aggressive suppression below (default: 10)
	RecoverSNR           float64 // leave aggressive suppression above (default: 15)
	RelaxedNoiseFloor    float64
	AggressiveNoiseFloor float64
	RelaxedHighPassHz    float64
	AggressiveHighPassHz float64

	// Transport warnings
	DegradedPacketLoss float64       // percent (default: 5)
	DegradedJitter     time.Duration // default: 100ms
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:         100 * time.Millisecond,
		HistorySize:          50,
		FFTSize:              2048,
		MinDecibels:          -100,
		MaxDecibels:          -30,
		VoiceBandLowHz:       85,
		VoiceBandHighHz:      255,
		NoiseBins:            3,
		ClippingLevel:        250,
		ClippingBinCount:     10,
		WeakSignalThreshold:  100,
		GainDownFactor:       0.9,
		GainUpFactor:         1.1,
		AdjustInterval:       3,
		ReversalHold:         5,
		LowSNR:               10,
		RecoverSNR:           15,
		RelaxedNoiseFloor:    audio.DefaultNoiseFloor,
		AggressiveNoiseFloor: audio.AggressiveNoiseFloor,
		RelaxedHighPassHz:    audio.DefaultHighPassCutoff,
		AggressiveHighPassHz: audio.AggressiveHighPassCutoff,
		DegradedPacketLoss:   5,
		DegradedJitter:       100 * time.Millisecond,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch {
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval %s", ErrInvalidConfig, c.TickInterval)
	case c.HistorySize <= 0:
		return fmt.Errorf("%w: history size %d", ErrInvalidConfig, c.HistorySize)
	case c.FFTSize < 64 || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("%w: fft size %d must be a power of two >= 64", ErrInvalidConfig, c.FFTSize)
	case c.MaxDecibels <= c.MinDecibels:
		return fmt.Errorf("%w: decibel window [%.1f, %.1f]", ErrInvalidConfig, c.MinDecibels, c.MaxDecibels)
	case c.VoiceBandHighHz <= c.VoiceBandLowHz:
		return fmt.Errorf("%w: voice band [%.1f, %.1f]", ErrInvalidConfig, c.VoiceBandLowHz, c.VoiceBandHighHz)
	case c.NoiseBins <= 0:
		return fmt.Errorf("%w: noise bins %d", ErrInvalidConfig, c.NoiseBins)
	case c.GainDownFactor <= 0 || c.GainDownFactor >= 1 || c.GainUpFactor <= 1:
		return fmt.Errorf("%w: gain factors %.2f/%.2f", ErrInvalidConfig, c.GainDownFactor, c.GainUpFactor)
	case c.AdjustInterval <= 0 || c.ReversalHold < 0:
		return fmt.Errorf("%w: adjust interval %d reversal hold %d", ErrInvalidConfig, c.AdjustInterval, c.ReversalHold)
	case c.RecoverSNR < c.LowSNR:
		return fmt.Errorf("%w: recover SNR %.1f below low SNR %.1f", ErrInvalidConfig, c.RecoverSNR, c.LowSNR)
	}
	return nil
}
