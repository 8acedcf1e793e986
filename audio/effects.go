package audio

import (
	"math"
)

// Effect is one stage of the enhancement chain.
//
// Stages operate in place on interleaved samples normalized to [-1, 1] and
// must do a constant amount of work per frame. Stages are owned by the
// processing goroutine and are not safe for concurrent use.
type Effect interface {
	// Process applies the stage to one frame in place.
	Process(samples []float64)

	// GetName returns a human-readable name for the stage.
	GetName() string

	// Reset clears any state carried between frames.
	Reset()
}

// NoiseGate attenuates frames whose RMS level is below the noise floor.
//
// The gate works on whole frames: a frame either passes untouched or is
// scaled to 10% amplitude. Clean speech is never modified.
type NoiseGate struct {
	threshold float64
	gated     bool
}

// NewNoiseGate creates a gate with the given normalized RMS threshold.
func NewNoiseGate(threshold float64) *NoiseGate {
	return &NoiseGate{threshold: threshold}
}

// Process gates the frame when its RMS falls below the threshold.
func (g *NoiseGate) Process(samples []float64) {
	g.gated = false
	if len(samples) == 0 {
		return
	}
	if rmsFloat(samples) >= g.threshold {
		return
	}
	g.gated = true
	for i := range samples {
		samples[i] *= gateAttenuation
	}
}

// SetThreshold updates the noise floor.
func (g *NoiseGate) SetThreshold(threshold float64) { g.threshold = threshold }

// Threshold returns the noise floor.
func (g *NoiseGate) Threshold() float64 { return g.threshold }

// Gated reports whether the last processed frame was attenuated.
func (g *NoiseGate) Gated() bool { return g.gated }

// GetName returns the stage name.
func (g *NoiseGate) GetName() string { return "NoiseGate" }

// Reset clears the gate flag.
func (g *NoiseGate) Reset() { g.gated = false }

// butterworthQ gives a maximally flat passband.
const butterworthQ = 1 / math.Sqrt2

// biquadState holds the delay line for one channel.
type biquadState struct {
	x1, x2, y1, y2 float64
}

// HighPassFilter is a 2nd order Butterworth high-pass biquad.
//
// Coefficients follow the bilinear-transform cookbook form with Q = 1/sqrt(2).
// Each interleaved channel keeps its own delay line so the filter is
// continuous across frame boundaries.
type HighPassFilter struct {
	sampleRate float64
	cutoff     float64
	b0, b1, b2 float64
	a1, a2     float64
	state      []biquadState
}

// NewHighPassFilter creates a filter for the given rate, channel count and corner.
func NewHighPassFilter(sampleRate, channels int, cutoff float64) *HighPassFilter {
	if channels < 1 {
		channels = 1
	}
	f := &HighPassFilter{
		sampleRate: float64(sampleRate),
		state:      make([]biquadState, channels),
	}
	f.SetCutoff(cutoff)
	return f
}

// SetCutoff recomputes coefficients. Delay lines are kept so a cutoff change
// at a frame boundary does not click.
func (f *HighPassFilter) SetCutoff(cutoff float64) {
	f.cutoff = cutoff
	w0 := 2 * math.Pi * cutoff / f.sampleRate
	cosW := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * butterworthQ)

	a0 := 1 + alpha
	f.b0 = (1 + cosW) / 2 / a0
	f.b1 = -(1 + cosW) / a0
	f.b2 = (1 + cosW) / 2 / a0
	f.a1 = -2 * cosW / a0
	f.a2 = (1 - alpha) / a0
}

// Cutoff returns the corner frequency in Hz.
func (f *HighPassFilter) Cutoff() float64 { return f.cutoff }

// Process filters interleaved samples in place.
func (f *HighPassFilter) Process(samples []float64) {
	channels := len(f.state)
	for i, x := range samples {
		s := &f.state[i%channels]
		y := f.b0*x + f.b1*s.x1 + f.b2*s.x2 - f.a1*s.y1 - f.a2*s.y2
		s.x2, s.x1 = s.x1, x
		s.y2, s.y1 = s.y1, y
		samples[i] = y
	}
}

// GetName returns the stage name.
func (f *HighPassFilter) GetName() string { return "HighPassFilter" }

// Reset zeroes the delay lines.
func (f *HighPassFilter) Reset() {
	for i := range f.state {
		f.state[i] = biquadState{}
	}
}

// Compressor is a soft-knee feed-forward compressor.
//
// Gain reduction is computed per sample in the dB domain and smoothed with
// separate attack and release time constants. Channels share one detector.
type Compressor struct {
	params     CompressorParams
	sampleRate float64
	channels   int
	attack     float64
	release    float64
	envelope   float64 // current gain reduction in dB, always <= 0
}

// NewCompressor creates a compressor for the given rate and channel count.
func NewCompressor(params CompressorParams, sampleRate, channels int) *Compressor {
	if channels < 1 {
		channels = 1
	}
	c := &Compressor{sampleRate: float64(sampleRate), channels: channels}
	c.SetParams(params)
	return c
}

// SetParams replaces the compressor settings and recomputes smoothing coefficients.
func (c *Compressor) SetParams(params CompressorParams) {
	c.params = params
	c.attack = timeConstant(params.Attack.Seconds(), c.sampleRate)
	c.release = timeConstant(params.Release.Seconds(), c.sampleRate)
}

// Params returns the active settings.
func (c *Compressor) Params() CompressorParams { return c.params }

func timeConstant(seconds, sampleRate float64) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * sampleRate))
}

// staticCurve returns the target gain reduction in dB for an input level.
func (c *Compressor) staticCurve(levelDB float64) float64 {
	t, w, r := c.params.ThresholdDB, c.params.KneeDB, c.params.Ratio
	over := levelDB - t
	var out float64
	switch {
	case 2*over < -w:
		out = levelDB
	case w > 0 && 2*math.Abs(over) <= w:
		d := over + w/2
		out = levelDB + (1/r-1)*d*d/(2*w)
	default:
		out = t + over/r
	}
	return out - levelDB
}

// Process compresses interleaved samples in place.
func (c *Compressor) Process(samples []float64) {
	for i := 0; i+c.channels <= len(samples); i += c.channels {
		peak := 0.0
		for ch := 0; ch < c.channels; ch++ {
			if a := math.Abs(samples[i+ch]); a > peak {
				peak = a
			}
		}
		target := c.staticCurve(20 * math.Log10(peak+1e-9))

		coef := c.release
		if target < c.envelope {
			coef = c.attack
		}
		c.envelope = coef*c.envelope + (1-coef)*target

		g := math.Pow(10, c.envelope/20)
		for ch := 0; ch < c.channels; ch++ {
			samples[i+ch] *= g
		}
	}
}

// GainReductionDB returns the current smoothed gain reduction.
func (c *Compressor) GainReductionDB() float64 { return c.envelope }

// GetName returns the stage name.
func (c *Compressor) GetName() string { return "Compressor" }

// Reset releases all gain reduction.
func (c *Compressor) Reset() { c.envelope = 0 }

// GainStage applies a clamped scalar gain with hard clipping protection.
type GainStage struct {
	gain    float64
	clipped int
}

// NewGainStage creates a gain stage; the gain is clamped to [MinGain, MaxGain].
func NewGainStage(gain float64) *GainStage {
	return &GainStage{gain: ClampGain(gain)}
}

// SetGain updates the gain, clamped to [MinGain, MaxGain].
func (g *GainStage) SetGain(gain float64) { g.gain = ClampGain(gain) }

// Gain returns the applied gain.
func (g *GainStage) Gain() float64 { return g.gain }

// Process scales samples in place and counts hard-clipped samples.
func (g *GainStage) Process(samples []float64) {
	g.clipped = 0
	for i, s := range samples {
		v := s * g.gain
		if v > 1 {
			v = 1
			g.clipped++
		} else if v < -1 {
			v = -1
			g.clipped++
		}
		samples[i] = v
	}
}

// Clipped returns the number of samples clipped in the last frame.
func (g *GainStage) Clipped() int { return g.clipped }

// GetName returns the stage name.
func (g *GainStage) GetName() string { return "GainStage" }

// Reset clears the clip counter.
func (g *GainStage) Reset() { g.clipped = 0 }

func rmsFloat(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMS returns the normalized root-mean-square level of int16 samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
