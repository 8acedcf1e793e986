package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 10ms frames at 48kHz mono.
const frameLen = 480

func frame(amp int16) []int16 {
	f := make([]int16, frameLen)
	for i := range f {
		if i%2 == 0 {
			f[i] = amp
		} else {
			f[i] = -amp
		}
	}
	return f
}

type edgeCounter struct {
	speaking int
	silence  int
}

func newDetector(t *testing.T) (*Detector, *edgeCounter) {
	t.Helper()
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	c := &edgeCounter{}
	d.OnSpeakingStart(func() { c.speaking++ })
	d.OnSilenceStart(func() { c.silence++ })
	return d, c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"short debounce", func(c *Config) { c.Debounce = 100 * time.Millisecond }, false},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, false},
		{"no channels", func(c *Config) { c.Channels = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestSilenceFiresOnceAfterDebounce(t *testing.T) {
	d, c := newDetector(t)
	assert.Equal(t, StateUnknown, d.State())

	// 490ms of silence: no edge yet.
	for i := 0; i < 49; i++ {
		d.ProcessFrame(frame(0))
	}
	assert.Equal(t, 0, c.silence)

	// Reaching 500ms fires exactly once, further silence does not repeat it.
	for i := 0; i < 100; i++ {
		d.ProcessFrame(frame(0))
	}
	assert.Equal(t, 1, c.silence)
	assert.Equal(t, 0, c.speaking)
	assert.Equal(t, StateSilent, d.State())
}

func TestSpeechEdgeIsImmediate(t *testing.T) {
	d, c := newDetector(t)

	assert.True(t, d.ProcessFrame(frame(8000)))
	assert.Equal(t, 1, c.speaking)
	assert.True(t, d.Speaking())

	for i := 0; i < 10; i++ {
		d.ProcessFrame(frame(8000))
	}
	assert.Equal(t, 1, c.speaking)
}

func TestShortPausesDoNotEndSpeech(t *testing.T) {
	d, c := newDetector(t)
	d.ProcessFrame(frame(8000))

	for round := 0; round < 5; round++ {
		for i := 0; i < 30; i++ {
			d.ProcessFrame(frame(0))
		}
		d.ProcessFrame(frame(8000))
	}

	assert.Equal(t, 1, c.speaking)
	assert.Equal(t, 0, c.silence)
	assert.True(t, d.Speaking())
}

func TestSpeechSilenceAlternation(t *testing.T) {
	d, c := newDetector(t)

	for round := 0; round < 3; round++ {
		d.ProcessFrame(frame(8000))
		for i := 0; i < 50; i++ {
			d.ProcessFrame(frame(0))
		}
	}

	assert.Equal(t, 3, c.speaking)
	assert.Equal(t, 3, c.silence)

	d.Reset()
	assert.Equal(t, StateUnknown, d.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "speaking", StateSpeaking.String())
	assert.Equal(t, "silent", StateSilent.String())
	assert.Equal(t, "invalid", State(9).String())
}
