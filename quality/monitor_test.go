package quality

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFrames struct {
	frame []int16
}

func (s *staticFrames) Latest() ([]int16, uint64, bool) {
	if s.frame == nil {
		return nil, 0, false
	}
	return append([]int16(nil), s.frame...), 1, true
}

type mutableStats struct {
	mu    sync.Mutex
	stats TransportStats
}

func (m *mutableStats) Stats() TransportStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mutableStats) set(s TransportStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = s
}

func newTestMonitor(t *testing.T, frame []int16, stats StatsSource) (*Monitor, *audio.Pipeline) {
	t.Helper()
	p, err := audio.NewPipeline(audio.DefaultPipelineConfig())
	require.NoError(t, err)
	m, err := NewMonitor(nil, audio.DefaultPipelineConfig(), &staticFrames{frame: frame}, stats, p)
	require.NoError(t, err)
	return m, p
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"fft not power of two", func(c *Config) { c.FFTSize = 1000 }},
		{"inverted decibel window", func(c *Config) { c.MinDecibels = -20 }},
		{"gain up below one", func(c *Config) { c.GainUpFactor = 0.9 }},
		{"recover below low", func(c *Config) { c.RecoverSNR = 5 }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
	}
	assert.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestMonitorNoFrame(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	_, err := m.Tick(time.Now())
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Equal(t, 0, m.History().Len())
}

func TestMonitorWeakSignalRaisesGain(t *testing.T) {
	m, p := newTestMonitor(t, make([]int16, 4096), nil)

	var samples []Metrics
	m.SetMetricsCallback(func(s Metrics) { samples = append(samples, s) })

	now := time.Unix(100, 0)
	sample, err := m.Tick(now)
	require.NoError(t, err)

	assert.Equal(t, now, sample.Timestamp)
	assert.False(t, sample.VoicePresent)
	assert.Len(t, samples, 1)
	assert.Equal(t, 1, m.History().Len())

	cfg := p.Config()
	assert.InDelta(t, 1.1, cfg.Gain, 1e-9)
	assert.Equal(t, audio.AggressiveHighPassCutoff, cfg.HighPassCutoffHz)
}

func TestMonitorDisabledDoesNotCommit(t *testing.T) {
	m, p := newTestMonitor(t, make([]int16, 4096), nil)
	m.SetEnabled(false)

	_, err := m.Tick(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Config().Gain)
}

func TestMonitorDegradedWarningAutoClears(t *testing.T) {
	stats := &mutableStats{}
	m, _ := newTestMonitor(t, tone(4096, 150, 0.05), stats)

	var events []bool
	m.SetDegradedCallback(func(degraded bool, _ Metrics) { events = append(events, degraded) })

	_, err := m.Tick(time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)

	stats.set(TransportStats{PacketLoss: 6})
	_, err = m.Tick(time.Now())
	require.NoError(t, err)
	assert.True(t, m.Degraded())

	stats.set(TransportStats{PacketLoss: 1, Jitter: 150 * time.Millisecond})
	_, err = m.Tick(time.Now())
	require.NoError(t, err)

	stats.set(TransportStats{PacketLoss: 0.5, Jitter: 20 * time.Millisecond})
	sample, err := m.Tick(time.Now())
	require.NoError(t, err)
	assert.False(t, m.Degraded())
	assert.Equal(t, 0.5, sample.Transport.PacketLoss)

	assert.Equal(t, []bool{true, false}, events)
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	m, _ := newTestMonitor(t, tone(4096, 150, 0.05), nil)
	ticks := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, ticks)
		close(done)
	}()

	ticks <- time.Now()
	ticks <- time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 2, m.History().Len())
}

func TestMonitorFrozenWhileMuted(t *testing.T) {
	stats := &mutableStats{}
	m, p := newTestMonitor(t, make([]int16, 4096), stats)
	p.SetMuted(true)

	var samples []Metrics
	m.SetMetricsCallback(func(s Metrics) { samples = append(samples, s) })

	stats.set(TransportStats{RTT: 40 * time.Millisecond, PacketLoss: 7})
	now := time.Unix(100, 0)
	for i := 0; i < 30; i++ {
		_, err := m.Tick(now.Add(time.Duration(i) * 100 * time.Millisecond))
		require.NoError(t, err)
	}

	cfg := p.Config()
	assert.Equal(t, 1.0, cfg.Gain)
	assert.Equal(t, audio.DefaultHighPassCutoff, cfg.HighPassCutoffHz)
	assert.Equal(t, 0, m.History().Len())
	assert.True(t, m.Degraded(), "transport warnings still apply while muted")

	require.Len(t, samples, 30)
	last := samples[len(samples)-1]
	assert.True(t, last.Muted)
	assert.Zero(t, last.CompositeScore)
	assert.Equal(t, 40*time.Millisecond, last.Transport.RTT)

	p.SetMuted(false)
	sample, err := m.Tick(now.Add(3 * time.Second))
	require.NoError(t, err)
	assert.False(t, sample.Muted)
	assert.Equal(t, 1, m.History().Len())
	assert.InDelta(t, 1.1, p.Config().Gain, 1e-9)
}
