package mic

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() audio.PipelineConfig {
	layout := audio.DefaultPipelineConfig()
	layout.SampleRate = 8000
	layout.Channels = 2
	layout.FrameSize = 160
	return layout
}

func TestToneSourceGeneratesTone(t *testing.T) {
	layout := testLayout()
	src, err := NewToneSource(ToneConfig{FrequencyHz: 400, Amplitude: 0.5}, layout, nil)
	require.NoError(t, err)
	defer src.Close()

	frame := make([]int16, layout.FrameSize*layout.Channels)
	require.NoError(t, src.ReadFrame(context.Background(), frame))

	var peak int16
	for i := 0; i < layout.FrameSize; i++ {
		assert.Equal(t, frame[2*i], frame[2*i+1], "channels differ at %d", i)
		if frame[2*i] > peak {
			peak = frame[2*i]
		}
	}
	assert.InDelta(t, 0.5*32767, float64(peak), 200)

	// 400 Hz at 8 kHz is 20 samples per cycle; the second sample is sin(2π/20).
	assert.InDelta(t, 0.5*32767*math.Sin(2*math.Pi/20), float64(frame[2]), 1)
}

func TestToneSourceIsContinuous(t *testing.T) {
	layout := testLayout()
	layout.Channels = 1
	src, err := NewToneSource(ToneConfig{FrequencyHz: 250, Amplitude: 1}, layout, nil)
	require.NoError(t, err)

	a := make([]int16, layout.FrameSize)
	b := make([]int16, layout.FrameSize)
	require.NoError(t, src.ReadFrame(context.Background(), a))
	require.NoError(t, src.ReadFrame(context.Background(), b))

	// 250 Hz at 8 kHz repeats every 32 samples and 160 is a multiple of 32.
	for i := range a {
		assert.InDelta(t, float64(a[i]), float64(b[i]), 1, "sample %d", i)
	}
}

func TestToneSourcePacing(t *testing.T) {
	layout := testLayout()
	clk := clock.NewManual(time.Unix(0, 0))
	src, err := NewToneSource(ToneConfig{Paced: true}, layout, clk)
	require.NoError(t, err)

	frame := make([]int16, layout.FrameSize*layout.Channels)
	got := make(chan error, 1)
	go func() { got <- src.ReadFrame(context.Background(), frame) }()

	select {
	case <-got:
		t.Fatal("paced read returned before a frame interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	clk.Advance(layout.FrameDuration())
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("paced read did not return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, src.ReadFrame(ctx, frame), context.Canceled)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.ReadFrame(context.Background(), frame), ErrClosed)
	assert.Equal(t, 0, clk.ActiveTickers())
}

func TestToneSourceValidation(t *testing.T) {
	layout := testLayout()
	tests := []struct {
		name   string
		cfg    ToneConfig
		layout audio.PipelineConfig
	}{
		{"amplitude", ToneConfig{Amplitude: 1.5}, layout},
		{"nyquist", ToneConfig{FrequencyHz: 4000}, layout},
		{"negative frequency", ToneConfig{FrequencyHz: -1}, layout},
		{"layout", ToneConfig{}, audio.PipelineConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewToneSource(tt.cfg, tt.layout, nil)
			assert.Error(t, err)
		})
	}

	src, err := NewToneSource(ToneConfig{}, layout, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, src.ReadFrame(context.Background(), make([]int16, 3)), audio.ErrFrameSize)
}

func TestFactory(t *testing.T) {
	layout := testLayout()

	src, err := Factory{Source: SourceSynthetic}.Open(context.Background(), layout)
	require.NoError(t, err)
	assert.IsType(t, &ToneSource{}, src)
	require.NoError(t, src.Close())

	_, err = Factory{Source: "line-in"}.Open(context.Background(), layout)
	assert.ErrorIs(t, err, ErrUnknownSource)
}
