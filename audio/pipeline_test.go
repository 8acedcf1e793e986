package audio

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mu     sync.Mutex
	reads  int
	failAt int
	err    error
	fill   int16
	closed bool
}

func (m *mockSource) ReadFrame(ctx context.Context, frame []int16) error {
	m.mu.Lock()
	m.reads++
	reads := m.reads
	m.mu.Unlock()

	if m.failAt > 0 && reads >= m.failAt {
		return m.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
	}
	for i := range frame {
		frame[i] = m.fill
	}
	return nil
}

func (m *mockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func smallConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.FrameSize = 480
	return cfg
}

func TestPipelineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*PipelineConfig)
		valid  bool
	}{
		{"default", func(c *PipelineConfig) {}, true},
		{"zero sample rate", func(c *PipelineConfig) { c.SampleRate = 0 }, false},
		{"three channels", func(c *PipelineConfig) { c.Channels = 3 }, false},
		{"zero frame size", func(c *PipelineConfig) { c.FrameSize = 0 }, false},
		{"cutoff above nyquist", func(c *PipelineConfig) { c.HighPassCutoffHz = 30000 }, false},
		{"ratio below one", func(c *PipelineConfig) { c.Compressor.Ratio = 0.5 }, false},
		{"zero attack", func(c *PipelineConfig) { c.Compressor.Attack = 0 }, false},
		{"gain out of range is allowed", func(c *PipelineConfig) { c.Gain = 9 }, true},
		{"NaN gain", func(c *PipelineConfig) { c.Gain = math.NaN() }, false},
		{"NaN noise floor", func(c *PipelineConfig) { c.NoiseFloorThreshold = math.NaN() }, false},
		{"NaN cutoff", func(c *PipelineConfig) { c.HighPassCutoffHz = math.NaN() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPipelineConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewPipeline(t *testing.T) {
	cfg := smallConfig()
	cfg.Gain = 5

	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"NoiseGate", "HighPassFilter", "Compressor", "GainStage"}, p.StageNames())
	assert.Equal(t, MaxGain, p.Config().Gain)
	assert.Equal(t, 10*time.Millisecond, cfg.FrameDuration())
}

func TestPipelineCommitAppliesAtFrameBoundary(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	next := p.Config()
	next.Gain = 1.5
	next.HighPassCutoffHz = AggressiveHighPassCutoff
	require.NoError(t, p.Commit(next))

	// Committed but not yet applied.
	assert.Equal(t, 1.5, p.Config().Gain)
	assert.Equal(t, 1.0, p.ActiveConfig().Gain)

	_, err = p.ProcessFrame(make([]int16, 480))
	require.NoError(t, err)

	assert.Equal(t, 1.5, p.ActiveConfig().Gain)
	assert.Equal(t, AggressiveHighPassCutoff, p.hpf.Cutoff())
}

func TestPipelineCommitRejectsLayoutChange(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	next := p.Config()
	next.FrameSize = 960
	assert.ErrorIs(t, p.Commit(next), ErrInvalidConfig)
}

func TestPipelineGainAlwaysBounded(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	frame := make([]int16, 480)
	for i := 0; i < 200; i++ {
		cfg := p.Config()
		cfg.Gain = cfg.Gain * (rng.Float64()*4 - 1)
		require.NoError(t, p.Commit(cfg))
		_, err := p.ProcessFrame(frame)
		require.NoError(t, err)

		g := p.ActiveConfig().Gain
		assert.GreaterOrEqual(t, g, MinGain)
		assert.LessOrEqual(t, g, MaxGain)
		assert.Equal(t, g, p.gain.Gain())
	}
}

func TestPipelineCommitRejectsNaNGain(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	next := p.Config()
	next.Gain = math.NaN()
	assert.ErrorIs(t, p.Commit(next), ErrInvalidConfig)
	assert.Equal(t, 1.0, p.Config().Gain)

	assert.Equal(t, 1.0, ClampGain(math.NaN()))
	assert.Equal(t, MaxGain, ClampGain(math.Inf(1)))
	assert.Equal(t, MinGain, ClampGain(math.Inf(-1)))
}

func TestPipelineMute(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	in := make([]int16, 480)
	for i := range in {
		in[i] = int16((i % 50) * 400)
	}

	p.SetMuted(true)
	assert.True(t, p.Muted())
	out, err := p.ProcessFrame(in)
	require.NoError(t, err)
	for _, s := range out {
		assert.Equal(t, int16(0), s)
	}
}

func TestPipelineFrameSizeMismatch(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	_, err = p.ProcessFrame(make([]int16, 10))
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestPipelinePublishesToTap(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	_, _, ok := p.Tap().Latest()
	assert.False(t, ok)

	var observed int
	p.AddObserver(func(frame []int16) { observed++ })

	_, err = p.ProcessFrame(make([]int16, 480))
	require.NoError(t, err)

	frame, seq, ok := p.Tap().Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq)
	assert.Len(t, frame, 480)
	assert.Equal(t, 1, observed)
	assert.Equal(t, int64(1), p.Load().Snapshot().Frames)
}

func TestPipelineRunStopsOnCancel(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	src := &mockSource{fill: 1000}
	var mu sync.Mutex
	written := 0
	sink := SinkFunc(func(frame []int16) error {
		mu.Lock()
		written++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, src, sink) }()

	time.Sleep(30 * time.Millisecond)
	assert.ErrorIs(t, p.Run(ctx, src, sink), ErrPipelineRunning)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	mu.Lock()
	assert.Greater(t, written, 0)
	mu.Unlock()
}

func TestPipelineRunReportsDeviceLost(t *testing.T) {
	p, err := NewPipeline(smallConfig())
	require.NoError(t, err)

	src := &mockSource{failAt: 3, err: errors.New("device unplugged")}
	err = p.Run(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrDeviceLost)
}

func TestLoadTracker(t *testing.T) {
	lt := NewLoadTracker(100*time.Millisecond, 10*time.Millisecond)

	var seen []time.Duration
	lt.SetObserver(func(d time.Duration) { seen = append(seen, d) })

	lt.Observe(10 * time.Millisecond)
	lt.Observe(20 * time.Millisecond)

	m := lt.Snapshot()
	assert.Equal(t, int64(2), m.Frames)
	assert.Equal(t, int64(1), m.OverBudget)
	assert.InDelta(t, float64(11*time.Millisecond), float64(m.AverageElapsed), 1000)
	assert.Equal(t, 20*time.Millisecond, m.PeakElapsed)
	assert.InDelta(t, 0.11, lt.Load(), 1e-6)
	assert.Len(t, seen, 2)

	lt.Reset()
	assert.Equal(t, LoadMetrics{}, lt.Snapshot())
}
