package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Source delivers raw captured frames. ReadFrame blocks until frame is
// filled or the context is done.
type Source interface {
	ReadFrame(ctx context.Context, frame []int16) error
	Close() error
}

// Sink receives enhanced frames. The frame is only valid during the call.
type Sink interface {
	WriteFrame(frame []int16) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame []int16) error

// WriteFrame calls f(frame).
func (f SinkFunc) WriteFrame(frame []int16) error { return f(frame) }

// FrameObserver is called on the audio goroutine with each enhanced frame.
// Observers must return quickly and must not retain the slice.
type FrameObserver func(frame []int16)

// Pipeline runs the fixed enhancement chain over fixed-size frames.
//
// Only the goroutine calling ProcessFrame (normally Run) touches the stages.
// Other goroutines interact through Commit, SetMuted, Tap and Load, which
// never block the audio path for longer than a pointer swap.
type Pipeline struct {
	active  PipelineConfig
	pending atomic.Pointer[PipelineConfig]
	latest  atomic.Pointer[PipelineConfig]
	muted   atomic.Bool
	running atomic.Bool

	gate  *NoiseGate
	hpf   *HighPassFilter
	comp  *Compressor
	gain  *GainStage
	chain []Effect

	work []float64
	out  []int16

	tap  *Tap
	load *LoadTracker

	obsMu     sync.RWMutex
	observers []FrameObserver
}

// NewPipeline validates cfg and builds the stage chain.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewPipeline",
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"frame_size":  cfg.FrameSize,
	}).Info("Creating audio enhancement pipeline")

	if err := cfg.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPipeline",
			"error":    err.Error(),
		}).Error("Pipeline configuration rejected")
		return nil, err
	}
	cfg.Gain = ClampGain(cfg.Gain)

	n := cfg.FrameSize * cfg.Channels
	p := &Pipeline{
		active: cfg,
		gate:   NewNoiseGate(cfg.NoiseFloorThreshold),
		hpf:    NewHighPassFilter(cfg.SampleRate, cfg.Channels, cfg.HighPassCutoffHz),
		comp:   NewCompressor(cfg.Compressor, cfg.SampleRate, cfg.Channels),
		gain:   NewGainStage(cfg.Gain),
		work:   make([]float64, n),
		out:    make([]int16, n),
		tap:    NewTap(n),
		load:   NewLoadTracker(cfg.FrameDuration(), DefaultFrameBudget),
	}
	p.chain = []Effect{p.gate, p.hpf, p.comp, p.gain}
	latest := cfg
	p.latest.Store(&latest)

	logrus.WithFields(logrus.Fields{
		"function": "NewPipeline",
		"stages":   p.StageNames(),
		"gain":     cfg.Gain,
	}).Info("Audio enhancement pipeline created successfully")

	return p, nil
}

// StageNames lists the stages in processing order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.chain))
	for i, e := range p.chain {
		names[i] = e.GetName()
	}
	return names
}

// Commit stages a new configuration for the next frame boundary. The gain is
// clamped; structural fields (rate, channels, frame size) cannot change.
func (p *Pipeline) Commit(cfg PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cur := p.latest.Load()
	if cfg.SampleRate != cur.SampleRate || cfg.Channels != cur.Channels || cfg.FrameSize != cur.FrameSize {
		return fmt.Errorf("%w: frame layout cannot change on a running pipeline", ErrInvalidConfig)
	}
	cfg.Gain = ClampGain(cfg.Gain)

	next := cfg
	p.latest.Store(&next)
	p.pending.Store(&next)

	logrus.WithFields(logrus.Fields{
		"function":    "Pipeline.Commit",
		"gain":        cfg.Gain,
		"noise_floor": cfg.NoiseFloorThreshold,
		"highpass_hz": cfg.HighPassCutoffHz,
	}).Debug("Pipeline configuration staged")
	return nil
}

// Config returns the most recently committed configuration.
func (p *Pipeline) Config() PipelineConfig {
	return *p.latest.Load()
}

// ActiveConfig returns the configuration applied to the last processed frame.
// It must only be called from the processing goroutine or after Run returns.
func (p *Pipeline) ActiveConfig() PipelineConfig {
	return p.active
}

// SetMuted zeroes outgoing frames from the next frame boundary on.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports whether outgoing frames are zeroed.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Tap returns the snapshot tap for enhanced frames.
func (p *Pipeline) Tap() *Tap { return p.tap }

// Load returns the processing-time tracker.
func (p *Pipeline) Load() *LoadTracker { return p.load }

// AddObserver registers a per-frame observer.
func (p *Pipeline) AddObserver(fn FrameObserver) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.observers = append(p.observers, fn)
}

func (p *Pipeline) applyPending() {
	next := p.pending.Swap(nil)
	if next == nil {
		return
	}
	p.gate.SetThreshold(next.NoiseFloorThreshold)
	if next.HighPassCutoffHz != p.active.HighPassCutoffHz {
		p.hpf.SetCutoff(next.HighPassCutoffHz)
	}
	if next.Compressor != p.active.Compressor {
		p.comp.SetParams(next.Compressor)
	}
	p.gain.SetGain(next.Gain)
	p.active = *next
}

// ProcessFrame runs one frame through the chain. The returned slice is owned
// by the pipeline and is overwritten by the next call.
func (p *Pipeline) ProcessFrame(in []int16) ([]int16, error) {
	start := time.Now()
	p.applyPending()

	if len(in) != len(p.work) {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(in), len(p.work))
	}

	for i, s := range in {
		p.work[i] = float64(s) / 32768.0
	}
	for _, stage := range p.chain {
		stage.Process(p.work)
	}

	if p.muted.Load() {
		for i := range p.out {
			p.out[i] = 0
		}
	} else {
		for i, v := range p.work {
			p.out[i] = toInt16(v)
		}
	}

	p.tap.Publish(p.out)
	p.obsMu.RLock()
	for _, fn := range p.observers {
		fn(p.out)
	}
	p.obsMu.RUnlock()

	p.load.Observe(time.Since(start))
	return p.out, nil
}

func toInt16(v float64) int16 {
	s := v * 32768.0
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

// Run reads frames from src, processes them and writes them to sink until
// ctx is done. A source failure is reported as ErrDeviceLost; sink errors
// are logged and the loop continues.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPipelineRunning
	}
	defer p.running.Store(false)

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.Run",
	}).Info("Audio processing loop started")

	in := make([]int16, len(p.work))
	var sinkErrors int64
	for {
		if ctx.Err() != nil {
			break
		}
		if err := src.ReadFrame(ctx, in); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			logrus.WithFields(logrus.Fields{
				"function": "Pipeline.Run",
				"error":    err.Error(),
			}).Error("Audio source failed")
			return fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}

		out, err := p.ProcessFrame(in)
		if err != nil {
			return err
		}
		if sink == nil {
			continue
		}
		if err := sink.WriteFrame(out); err != nil {
			sinkErrors++
			if sinkErrors == 1 || sinkErrors%100 == 0 {
				logrus.WithFields(logrus.Fields{
					"function":    "Pipeline.Run",
					"error":       err.Error(),
					"sink_errors": sinkErrors,
				}).Warn("Failed to deliver enhanced frame")
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Pipeline.Run",
		"frames":   p.load.Snapshot().Frames,
	}).Info("Audio processing loop stopped")
	return nil
}
