package mic

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/sirupsen/logrus"
)

// ToneConfig describes a synthetic tone.
type ToneConfig struct {
	FrequencyHz float64 // default: 180
	Amplitude   float64 // 0-1 of full scale (default: 0.1)
	// Paced makes ReadFrame wait one frame duration per frame, like a
	// real device.
	Paced bool
}

// ToneSource generates a continuous sine tone.
type ToneSource struct {
	cfg    ToneConfig
	layout audio.PipelineConfig
	phase  float64
	step   float64
	ticker clock.Ticker
	closed atomic.Bool
}

// NewToneSource creates a tone source for the given frame layout. A nil
// clock uses the real clock for pacing.
func NewToneSource(cfg ToneConfig, layout audio.PipelineConfig, clk clock.Clock) (*ToneSource, error) {
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = 180
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 0.1
	}
	if cfg.Amplitude < 0 || cfg.Amplitude > 1 {
		return nil, fmt.Errorf("tone amplitude must be within 0-1, got %v", cfg.Amplitude)
	}
	if layout.SampleRate <= 0 || layout.Channels <= 0 || layout.FrameSize <= 0 {
		return nil, fmt.Errorf("%w: invalid frame layout", audio.ErrInvalidConfig)
	}
	if cfg.FrequencyHz <= 0 || cfg.FrequencyHz >= float64(layout.SampleRate)/2 {
		return nil, fmt.Errorf("tone frequency %v Hz outside (0, %d)", cfg.FrequencyHz, layout.SampleRate/2)
	}

	s := &ToneSource{
		cfg:    cfg,
		layout: layout,
		step:   2 * math.Pi * cfg.FrequencyHz / float64(layout.SampleRate),
	}
	if cfg.Paced {
		s.ticker = clock.OrReal(clk).NewTicker(layout.FrameDuration())
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewToneSource",
		"tone_hz":   cfg.FrequencyHz,
		"amplitude": cfg.Amplitude,
		"paced":     cfg.Paced,
	}).Info("Synthetic capture source opened")
	return s, nil
}

// ReadFrame fills frame with the next block of interleaved samples.
func (s *ToneSource) ReadFrame(ctx context.Context, frame []int16) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if want := s.layout.FrameSize * s.layout.Channels; len(frame) != want {
		return fmt.Errorf("%w: got %d samples, want %d", audio.ErrFrameSize, len(frame), want)
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ticker.C():
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	ch := s.layout.Channels
	for i := 0; i < s.layout.FrameSize; i++ {
		v := int16(s.cfg.Amplitude * math.Sin(s.phase) * 32767)
		for c := 0; c < ch; c++ {
			frame[i*ch+c] = v
		}
		s.phase += s.step
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return nil
}

// Close stops pacing. Further reads fail with ErrClosed.
func (s *ToneSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
