package quality

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/sirupsen/logrus"
)

// FrameSource provides the newest enhanced frame. audio.Tap implements it.
type FrameSource interface {
	Latest() (frame []int16, seq uint64, ok bool)
}

// StatsSource provides transport counters.
type StatsSource interface {
	Stats() TransportStats
}

// StatsFunc adapts a function to StatsSource.
type StatsFunc func() TransportStats

// Stats calls f.
func (f StatsFunc) Stats() TransportStats { return f() }

// PipelineTarget receives configuration commits. audio.Pipeline implements it.
type PipelineTarget interface {
	Config() audio.PipelineConfig
	Commit(audio.PipelineConfig) error
}

// muter is implemented by targets that can suppress outgoing audio.
// audio.Pipeline implements it.
type muter interface {
	Muted() bool
}

// Monitor samples quality each tick and steers the pipeline.
type Monitor struct {
	mu         sync.RWMutex
	cfg        Config
	analyzer   *Analyzer
	controller *Controller
	frames     FrameSource
	stats      StatsSource
	target     PipelineTarget
	history    *History
	degraded   bool
	enabled    bool

	metricsCallback  func(Metrics)
	degradedCallback func(degraded bool, m Metrics)
}

// NewMonitor creates a monitor. stats and target may be nil.
func NewMonitor(cfg *Config, layout audio.PipelineConfig, frames FrameSource, stats StatsSource, target PipelineTarget) (*Monitor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logrus.WithFields(logrus.Fields{
		"function":      "NewMonitor",
		"tick_ms":       cfg.TickInterval.Milliseconds(),
		"fft_size":      cfg.FFTSize,
		"history_size":  cfg.HistorySize,
		"sample_rate":   layout.SampleRate,
		"channel_count": layout.Channels,
	}).Info("Creating quality monitor")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:        *cfg,
		analyzer:   NewAnalyzer(*cfg, layout.SampleRate, layout.Channels),
		controller: NewController(*cfg),
		frames:     frames,
		stats:      stats,
		target:     target,
		history:    NewHistory(cfg.HistorySize),
		enabled:    true,
	}

	low, high := m.analyzer.VoiceBand()
	logrus.WithFields(logrus.Fields{
		"function":   "NewMonitor",
		"voice_low":  low,
		"voice_high": high,
		"bin_hz":     m.analyzer.BinHz(),
	}).Info("Quality monitor created successfully")
	return m, nil
}

// SetMetricsCallback registers a hook invoked with every sample.
func (m *Monitor) SetMetricsCallback(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricsCallback = fn
}

// SetDegradedCallback registers a hook invoked when the transport warning
// is raised (degraded=true) or cleared.
func (m *Monitor) SetDegradedCallback(fn func(degraded bool, metrics Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradedCallback = fn
}

// SetEnabled toggles feedback to the pipeline. Metrics are still produced.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// History returns the rolling sample history.
func (m *Monitor) History() *History { return m.history }

// Degraded reports whether the transport warning is active.
func (m *Monitor) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// Interval returns the configured tick period.
func (m *Monitor) Interval() time.Duration { return m.cfg.TickInterval }

// Tick takes one sample. It returns ErrNoFrame until the pipeline has
// produced its first frame.
func (m *Monitor) Tick(now time.Time) (Metrics, error) {
	frame, _, ok := m.frames.Latest()
	if !ok {
		return Metrics{}, ErrNoFrame
	}

	muted := false
	if mt, ok := m.target.(muter); ok {
		muted = mt.Muted()
	}

	m.mu.Lock()
	sample := Metrics{Timestamp: now, Muted: muted}
	if m.stats != nil {
		sample.Transport = m.stats.Stats()
	}
	// Muted frames are zeroed: no analysis, history or feedback.
	var directive Directive
	if !muted {
		a := m.analyzer.Analyze(frame)
		sample.SignalStrength = a.VoiceEnergy
		sample.NoiseLevel = a.NoiseLevel
		sample.SNR = a.SNR
		sample.ClippingDetected = a.Clipping
		sample.VoicePresent = a.VoicePresent
		sample.CompositeScore = a.Score
		m.history.Add(sample)
		directive = m.controller.Decide(sample)
	}

	var commitErr error
	if directive.Changed && m.enabled && m.target != nil {
		next := m.controller.Apply(m.target.Config(), directive)
		commitErr = m.target.Commit(next)
		logrus.WithFields(logrus.Fields{
			"function":    "Monitor.Tick",
			"reason":      directive.Reason,
			"gain":        next.Gain,
			"aggressive":  directive.NoiseAggressive,
			"highpass_hz": next.HighPassCutoffHz,
		}).Debug("Pipeline adjustment committed")
	}

	bad := sample.Transport.PacketLoss >= m.cfg.DegradedPacketLoss || sample.Transport.Jitter >= m.cfg.DegradedJitter
	flipped := bad != m.degraded
	m.degraded = bad
	onMetrics, onDegraded := m.metricsCallback, m.degradedCallback
	m.mu.Unlock()

	if commitErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Monitor.Tick",
			"error":    commitErr.Error(),
		}).Warn("Pipeline rejected quality adjustment")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Monitor.Tick",
		"score":    sample.CompositeScore,
		"snr":      sample.SNR,
		"voice":    sample.SignalStrength,
		"clipping": sample.ClippingDetected,
	}).Trace("Quality sample taken")

	if flipped {
		logrus.WithFields(logrus.Fields{
			"function":    "Monitor.Tick",
			"degraded":    bad,
			"packet_loss": sample.Transport.PacketLoss,
			"jitter_ms":   sample.Transport.Jitter.Milliseconds(),
		}).Warn("Network quality warning changed")
		if onDegraded != nil {
			onDegraded(bad, sample)
		}
	}
	if onMetrics != nil {
		onMetrics(sample)
	}
	return sample, nil
}

// Run calls Tick for every value received on ticks until ctx is done or
// ticks is closed.
func (m *Monitor) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			if _, err := m.Tick(now); err != nil && !errors.Is(err, ErrNoFrame) {
				logrus.WithFields(logrus.Fields{
					"function": "Monitor.Run",
					"error":    err.Error(),
				}).Warn("Quality tick failed")
			}
		}
	}
}
