package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sine(n, channels int, freq, amp float64, sampleRate int) []float64 {
	out := make([]float64, n*channels)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = v
		}
	}
	return out
}

func peak(samples []float64) float64 {
	p := 0.0
	for _, s := range samples {
		p = math.Max(p, math.Abs(s))
	}
	return p
}

func TestNoiseGate(t *testing.T) {
	tests := []struct {
		name      string
		amplitude float64
		gated     bool
	}{
		{"quiet frame attenuated", 0.005, true},
		{"clean frame passes", 0.3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewNoiseGate(DefaultNoiseFloor)
			in := sine(1024, 1, 440, tt.amplitude, DefaultSampleRate)
			samples := append([]float64(nil), in...)

			gate.Process(samples)

			assert.Equal(t, tt.gated, gate.Gated())
			for i := range in {
				want := in[i]
				if tt.gated {
					want = in[i] * 0.1
				}
				assert.InDelta(t, want, samples[i], 1e-12)
			}
		})
	}
}

func TestHighPassFilterRemovesDC(t *testing.T) {
	f := NewHighPassFilter(DefaultSampleRate, 1, DefaultHighPassCutoff)
	samples := make([]float64, DefaultFrameSize)
	for i := range samples {
		samples[i] = 0.5
	}

	f.Process(samples)

	assert.Less(t, math.Abs(samples[len(samples)-1]), 0.01)
}

func TestHighPassFilterPassesSpeechBand(t *testing.T) {
	f := NewHighPassFilter(DefaultSampleRate, 2, DefaultHighPassCutoff)
	warmup := sine(DefaultFrameSize, 2, 1000, 0.5, DefaultSampleRate)
	f.Process(warmup)

	samples := sine(DefaultFrameSize, 2, 1000, 0.5, DefaultSampleRate)
	f.Process(samples)

	assert.InDelta(t, 0.5/math.Sqrt2, rmsFloat(samples), 0.01)
}

func TestHighPassFilterCutoffChange(t *testing.T) {
	f := NewHighPassFilter(DefaultSampleRate, 1, DefaultHighPassCutoff)
	f.SetCutoff(AggressiveHighPassCutoff)
	assert.Equal(t, AggressiveHighPassCutoff, f.Cutoff())

	f.Reset()
	samples := []float64{0, 0, 0}
	f.Process(samples)
	assert.Equal(t, []float64{0, 0, 0}, samples)
}

func TestCompressor(t *testing.T) {
	params := DefaultPipelineConfig().Compressor

	t.Run("loud signal is reduced", func(t *testing.T) {
		c := NewCompressor(params, DefaultSampleRate, 1)
		samples := sine(DefaultFrameSize, 1, 300, 0.9, DefaultSampleRate)
		c.Process(samples)

		tail := samples[len(samples)*3/4:]
		assert.Less(t, peak(tail), 0.3)
		assert.Less(t, c.GainReductionDB(), -10.0)
	})

	t.Run("quiet signal untouched", func(t *testing.T) {
		c := NewCompressor(params, DefaultSampleRate, 1)
		in := sine(DefaultFrameSize, 1, 300, 0.001, DefaultSampleRate)
		samples := append([]float64(nil), in...)
		c.Process(samples)

		assert.InDelta(t, peak(in), peak(samples), peak(in)*0.01)
	})

	t.Run("reset releases reduction", func(t *testing.T) {
		c := NewCompressor(params, DefaultSampleRate, 1)
		c.Process(sine(1024, 1, 300, 0.9, DefaultSampleRate))
		c.Reset()
		assert.Equal(t, 0.0, c.GainReductionDB())
	})
}

func TestCompressorStaticCurve(t *testing.T) {
	c := NewCompressor(CompressorParams{
		ThresholdDB: -24, KneeDB: 30, Ratio: 12,
		Attack: 3 * time.Millisecond, Release: 250 * time.Millisecond,
	}, DefaultSampleRate, 1)

	assert.Equal(t, 0.0, c.staticCurve(-60))
	assert.InDelta(t, -24+15.0/12-(-9.0), c.staticCurve(-9), 1e-9)

	// Reduction grows with level through the knee.
	inKnee := c.staticCurve(-20)
	assert.Less(t, inKnee, 0.0)
	assert.Greater(t, inKnee, c.staticCurve(-5))
}

func TestGainStageClamps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below minimum", 0.1, MinGain},
		{"above maximum", 7, MaxGain},
		{"in range", 1.3, 1.3},
		{"negative", -2, MinGain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGainStage(1)
			g.SetGain(tt.in)
			assert.Equal(t, tt.want, g.Gain())
		})
	}
}

func TestGainStageClipping(t *testing.T) {
	g := NewGainStage(2)
	samples := []float64{0.8, -0.8, 0.1}
	g.Process(samples)

	assert.Equal(t, []float64{1, -1, 0.2}, samples)
	assert.Equal(t, 2, g.Clipped())
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]int16{16384, -16384, 16384, -16384}), 1e-9)
}
