package vad

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/sirupsen/logrus"
)

// MinDebounce is the shortest silence window accepted by New.
const MinDebounce = 500 * time.Millisecond

// ErrInvalidConfig indicates a detector configuration failed validation.
var ErrInvalidConfig = errors.New("invalid voice activity configuration")

// State is the detector's current classification.
type State int

const (
	// StateUnknown is the state before the first edge.
	StateUnknown State = iota
	// StateSpeaking means the last edge was speech.
	StateSpeaking
	// StateSilent means the last edge was silence.
	StateSilent
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateSpeaking:
		return "speaking"
	case StateSilent:
		return "silent"
	default:
		return "invalid"
	}
}

// Config holds detector parameters.
type Config struct {
	Threshold  float64       // normalized RMS level counted as speech (default: 0.02)
	Debounce   time.Duration // silence needed before the silence edge (default: 500ms)
	SampleRate int
	Channels   int
}

// DefaultConfig returns detector defaults for 48kHz mono frames.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.02,
		Debounce:   MinDebounce,
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("%w: threshold %.4f", ErrInvalidConfig, c.Threshold)
	}
	if c.Debounce < MinDebounce {
		return fmt.Errorf("%w: debounce %s below %s", ErrInvalidConfig, c.Debounce, MinDebounce)
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("%w: sample rate %d channels %d", ErrInvalidConfig, c.SampleRate, c.Channels)
	}
	return nil
}

// Detector is an RMS voice activity detector with a silence debounce.
type Detector struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	quietFor   time.Duration
	onSpeaking func()
	onSilence  func()
}

// New creates a detector.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"function":    "vad.New",
		"threshold":   cfg.Threshold,
		"debounce_ms": cfg.Debounce.Milliseconds(),
	}).Debug("Voice activity detector created")
	return &Detector{cfg: cfg}, nil
}

// OnSpeakingStart registers the speech edge callback.
func (d *Detector) OnSpeakingStart(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpeaking = fn
}

// OnSilenceStart registers the silence edge callback.
func (d *Detector) OnSilenceStart(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSilence = fn
}

// ProcessFrame classifies one frame and fires at most one edge callback.
// It returns true while the detector is in the speaking state.
func (d *Detector) ProcessFrame(frame []int16) bool {
	level := audio.RMS(frame)
	frameTime := time.Duration(len(frame)/d.cfg.Channels) * time.Second / time.Duration(d.cfg.SampleRate)

	var edge func()
	d.mu.Lock()
	if level >= d.cfg.Threshold {
		d.quietFor = 0
		if d.state != StateSpeaking {
			d.state = StateSpeaking
			edge = d.onSpeaking
		}
	} else {
		d.quietFor += frameTime
		if d.state != StateSilent && d.quietFor >= d.cfg.Debounce {
			d.state = StateSilent
			edge = d.onSilence
		}
	}
	speaking := d.state == StateSpeaking
	d.mu.Unlock()

	if edge != nil {
		edge()
	}
	return speaking
}

// Speaking reports whether speech is currently detected.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateSpeaking
}

// State returns the current classification.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset returns the detector to the unknown state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateUnknown
	d.quietFor = 0
}
