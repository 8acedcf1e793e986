package quality

import (
	"math/rand"
	"testing"

	"github.com/opd-ai/softphone/audio"
	"github.com/stretchr/testify/assert"
)

func goodMetrics() Metrics {
	return Metrics{SNR: 40, SignalStrength: 150}
}

func TestControllerClippingRateLimited(t *testing.T) {
	c := NewController(*DefaultConfig())
	clip := goodMetrics()
	clip.ClippingDetected = true

	var factors []float64
	for i := 0; i < 7; i++ {
		factors = append(factors, c.Decide(clip).GainFactor)
	}

	assert.Equal(t, []float64{0.9, 1, 1, 0.9, 1, 1, 0.9}, factors)
}

func TestControllerReversalHold(t *testing.T) {
	cfg := *DefaultConfig()
	c := NewController(cfg)

	clip := goodMetrics()
	clip.ClippingDetected = true
	weak := goodMetrics()
	weak.SignalStrength = 20

	assert.Equal(t, 0.9, c.Decide(clip).GainFactor)

	// The opposite direction waits AdjustInterval+ReversalHold ticks.
	changedAt := -1
	for i := 1; i <= 10; i++ {
		if d := c.Decide(weak); d.GainFactor != 1 {
			changedAt = i
			assert.Equal(t, 1.1, d.GainFactor)
			assert.Equal(t, "weak signal", d.Reason)
			break
		}
	}
	assert.Equal(t, cfg.AdjustInterval+cfg.ReversalHold, changedAt)
}

func TestControllerNoiseHysteresis(t *testing.T) {
	c := NewController(*DefaultConfig())

	steps := []struct {
		snr        float64
		aggressive bool
	}{
		{40, false},
		{8, true},
		{12, true},
		{15, true},
		{16, false},
		{12, false},
		{9.9, true},
	}
	for _, s := range steps {
		m := goodMetrics()
		m.SNR = s.snr
		d := c.Decide(m)
		assert.Equal(t, s.aggressive, d.NoiseAggressive, "snr %.1f", s.snr)
		assert.Equal(t, s.aggressive, c.Aggressive())
	}
}

func TestControllerApply(t *testing.T) {
	c := NewController(*DefaultConfig())
	cfg := audio.DefaultPipelineConfig()

	next := c.Apply(cfg, Directive{GainFactor: 1.1, NoiseAggressive: true})
	assert.InDelta(t, 1.1, next.Gain, 1e-9)
	assert.Equal(t, audio.AggressiveNoiseFloor, next.NoiseFloorThreshold)
	assert.Equal(t, audio.AggressiveHighPassCutoff, next.HighPassCutoffHz)

	relaxed := c.Apply(next, Directive{GainFactor: 1})
	assert.Equal(t, audio.DefaultNoiseFloor, relaxed.NoiseFloorThreshold)
	assert.Equal(t, audio.DefaultHighPassCutoff, relaxed.HighPassCutoffHz)
}

func TestControllerGainStaysBounded(t *testing.T) {
	c := NewController(*DefaultConfig())
	cfg := audio.DefaultPipelineConfig()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		m := Metrics{
			SNR:              rng.Float64() * 60,
			SignalStrength:   rng.Float64() * 255,
			ClippingDetected: rng.Intn(3) == 0,
		}
		cfg = c.Apply(cfg, c.Decide(m))
		assert.GreaterOrEqual(t, cfg.Gain, audio.MinGain)
		assert.LessOrEqual(t, cfg.Gain, audio.MaxGain)
	}

	// Directives applied directly, without rate limiting, still clamp.
	for i := 0; i < 50; i++ {
		cfg = c.Apply(cfg, Directive{GainFactor: 1.1})
	}
	assert.Equal(t, audio.MaxGain, cfg.Gain)
	for i := 0; i < 50; i++ {
		cfg = c.Apply(cfg, Directive{GainFactor: 0.9})
	}
	assert.Equal(t, audio.MinGain, cfg.Gain)
}
