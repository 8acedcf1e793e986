package quality

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analysis is the spectral assessment of one frame.
type Analysis struct {
	VoiceEnergy  float64
	NoiseLevel   float64
	Peak         float64
	SNR          float64
	ClippedBins  int
	Clipping     bool
	VoicePresent bool
	Score        int
}

// Analyzer computes a byte-scaled magnitude spectrum and derived measures.
// It reuses its buffers and is not safe for concurrent use.
type Analyzer struct {
	cfg        Config
	sampleRate int
	channels   int

	fft       *fourier.FFT
	win       []float64
	winSum    float64
	buf       []float64
	coeffs    []complex128
	bins      []float64
	voiceLow  int
	voiceHigh int
}

// NewAnalyzer creates an analyzer for frames with the given layout.
func NewAnalyzer(cfg Config, sampleRate, channels int) *Analyzer {
	if channels < 1 {
		channels = 1
	}
	n := cfg.FFTSize
	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	win = window.Blackman(win)
	sum := 0.0
	for _, w := range win {
		sum += w
	}

	a := &Analyzer{
		cfg:        cfg,
		sampleRate: sampleRate,
		channels:   channels,
		fft:        fourier.NewFFT(n),
		win:        win,
		winSum:     sum,
		buf:        make([]float64, n),
		coeffs:     make([]complex128, n/2+1),
		bins:       make([]float64, n/2+1),
	}
	binHz := a.BinHz()
	a.voiceLow = int(math.Ceil(cfg.VoiceBandLowHz / binHz))
	a.voiceHigh = int(math.Floor(cfg.VoiceBandHighHz / binHz))
	if a.voiceHigh < a.voiceLow {
		a.voiceHigh = a.voiceLow
	}
	if a.voiceHigh >= len(a.bins) {
		a.voiceHigh = len(a.bins) - 1
	}
	return a
}

// BinHz returns the width of one spectrum bin.
func (a *Analyzer) BinHz() float64 {
	return float64(a.sampleRate) / float64(a.cfg.FFTSize)
}

// VoiceBand returns the inclusive bin range treated as voice.
func (a *Analyzer) VoiceBand() (low, high int) {
	return a.voiceLow, a.voiceHigh
}

// Bins returns the spectrum of the last analyzed frame in 0-255 units.
// The slice is reused by the next call.
func (a *Analyzer) Bins() []float64 {
	return a.bins
}

// Analyze computes the spectrum of the newest FFTSize samples of the first
// channel of frame. Shorter frames are zero padded.
func (a *Analyzer) Analyze(frame []int16) Analysis {
	a.fillBuffer(frame)
	for i := range a.buf {
		a.buf[i] *= a.win[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.buf)

	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for i, c := range a.coeffs {
		amp := 2 * math.Hypot(real(c), imag(c)) / a.winSum
		db := 20 * math.Log10(amp+1e-12)
		u := 255 * (db - a.cfg.MinDecibels) / span
		a.bins[i] = math.Max(0, math.Min(255, u))
	}

	return a.measure()
}

func (a *Analyzer) fillBuffer(frame []int16) {
	for i := range a.buf {
		a.buf[i] = 0
	}
	samples := len(frame) / a.channels
	start := 0
	if samples > len(a.buf) {
		start = samples - len(a.buf)
	}
	for i := start; i < samples; i++ {
		a.buf[i-start] = float64(frame[i*a.channels]) / 32768.0
	}
}

func (a *Analyzer) measure() Analysis {
	var res Analysis

	voice := 0.0
	for i := a.voiceLow; i <= a.voiceHigh; i++ {
		voice += a.bins[i]
	}
	res.VoiceEnergy = voice / float64(a.voiceHigh-a.voiceLow+1)

	noiseBins := a.cfg.NoiseBins
	if noiseBins > len(a.bins)-1 {
		noiseBins = len(a.bins) - 1
	}
	noise := 0.0
	for i := 1; i <= noiseBins; i++ {
		noise += a.bins[i]
	}
	res.NoiseLevel = noise / float64(noiseBins)

	for _, b := range a.bins {
		if b > res.Peak {
			res.Peak = b
		}
		if b >= a.cfg.ClippingLevel {
			res.ClippedBins++
		}
	}
	res.SNR = res.Peak / math.Max(res.NoiseLevel, 1)
	res.Clipping = res.ClippedBins > a.cfg.ClippingBinCount
	res.VoicePresent = res.VoiceEnergy >= a.cfg.WeakSignalThreshold
	res.Score = CompositeScore(res.SNR, res.Clipping, res.VoiceEnergy)
	return res
}
