package network

import (
	"testing"
	"time"

	"github.com/opd-ai/softphone/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() (*Adapter, *clock.Manual) {
	a := NewAdapter(nil)
	c := clock.NewManual(time.Unix(1700000000, 0))
	a.SetTimeProvider(c)
	return a, c
}

func TestClassForBitrate(t *testing.T) {
	tests := []struct {
		bps  uint32
		want Class
	}{
		{8000, ClassSevere},
		{16000, ClassPoor},
		{32000, ClassModerate},
		{48000, ClassModerate},
		{64000, ClassGood},
		{128000, ClassExcellent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassForBitrate(tt.bps), "bps %d", tt.bps)
	}
	assert.Equal(t, "moderate", ClassModerate.String())
	assert.Equal(t, "unknown(9)", Class(9).String())
}

func TestJitterBufferForRTT(t *testing.T) {
	tests := []struct {
		rtt  float64
		want int
	}{
		{10, 50}, {49.9, 50}, {50, 100}, {99, 100}, {100, 150}, {199, 150}, {200, 200}, {900, 200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JitterBufferForRTT(tt.rtt), "rtt %.1f", tt.rtt)
	}
}

func TestPLCRequired(t *testing.T) {
	assert.True(t, PLCRequired(32000, 20, 0))
	assert.True(t, PLCRequired(64000, 200, 0))
	assert.True(t, PLCRequired(128000, 20, 1))
	assert.False(t, PLCRequired(64000, 199, 0.9))
}

func TestEffectiveTypeTiers(t *testing.T) {
	tests := []struct {
		etype EffectiveType
		want  uint32
	}{
		{SlowTwoG, 8000},
		{TwoG, 16000},
		{ThreeG, 32000},
		{FourG, 64000},
		{FiveG, 128000},
		{EffectiveType("wifi"), 32000},
	}
	for _, tt := range tests {
		t.Run(string(tt.etype), func(t *testing.T) {
			a, _ := newTestAdapter()
			p, changed := a.Update(Info{EffectiveType: tt.etype, RTTMs: 40})
			assert.True(t, changed)
			assert.Equal(t, tt.want, p.TargetBitrate)
			assert.Equal(t, ClassForBitrate(tt.want), p.Class)
		})
	}
}

func TestDownlinkSequenceUpgrades(t *testing.T) {
	a, c := newTestAdapter()

	var got []uint32
	for _, mbps := range []float64{0.3, 1.5, 4.0, 6.0} {
		p, _ := a.Update(Info{EffectiveType: FourG, DownlinkMbps: mbps, RTTMs: 40})
		got = append(got, p.TargetBitrate)
		c.Advance(time.Second)
	}

	assert.Equal(t, []uint32{16000, 48000, 64000, 128000}, got)
	assert.Equal(t, uint64(3), a.AdaptationCount())
}

func TestDownlinkOverridesEffectiveType(t *testing.T) {
	a, _ := newTestAdapter()
	p, _ := a.Update(Info{EffectiveType: FiveG, DownlinkMbps: 0.3})
	assert.Equal(t, uint32(16000), p.TargetBitrate)
}

func TestHysteresisAtBoundary(t *testing.T) {
	a, c := newTestAdapter()

	p, _ := a.Update(Info{DownlinkMbps: 1.5, RTTMs: 40})
	require.Equal(t, uint32(48000), p.TargetBitrate)

	// Just over the 2 Mbps boundary is not enough to upgrade.
	p, changed := a.Update(Info{DownlinkMbps: 2.1, RTTMs: 40})
	assert.Equal(t, uint32(48000), p.TargetBitrate)
	assert.False(t, changed)

	// Just under the 1 Mbps boundary is not enough to downgrade.
	p, _ = a.Update(Info{DownlinkMbps: 0.95, RTTMs: 40})
	assert.Equal(t, uint32(48000), p.TargetBitrate)

	// Clearly below it is.
	p, _ = a.Update(Info{DownlinkMbps: 0.85, RTTMs: 40})
	assert.Equal(t, uint32(32000), p.TargetBitrate)

	c.Advance(6 * time.Second)
	p, _ = a.Update(Info{DownlinkMbps: 2.3, RTTMs: 40})
	assert.Equal(t, uint32(64000), p.TargetBitrate)
}

func TestUpgradeBackoffAfterDowngrade(t *testing.T) {
	a, c := newTestAdapter()

	a.Update(Info{DownlinkMbps: 6, RTTMs: 40})
	p, _ := a.Update(Info{DownlinkMbps: 0.3, RTTMs: 40})
	require.Equal(t, uint32(16000), p.TargetBitrate)

	c.Advance(2 * time.Second)
	p, _ = a.Update(Info{DownlinkMbps: 6, RTTMs: 40})
	assert.Equal(t, uint32(16000), p.TargetBitrate, "upgrade held during backoff")

	c.Advance(4 * time.Second)
	p, _ = a.Update(Info{DownlinkMbps: 6, RTTMs: 40})
	assert.Equal(t, uint32(128000), p.TargetBitrate)
}

func TestEffectiveTypeBackoff(t *testing.T) {
	a, c := newTestAdapter()

	a.Update(Info{EffectiveType: FourG})
	p, _ := a.Update(Info{EffectiveType: TwoG})
	require.Equal(t, uint32(16000), p.TargetBitrate)

	p, _ = a.Update(Info{EffectiveType: FourG})
	assert.Equal(t, uint32(16000), p.TargetBitrate)

	c.Advance(5 * time.Second)
	p, _ = a.Update(Info{EffectiveType: FourG})
	assert.Equal(t, uint32(64000), p.TargetBitrate)
}

func TestProfileCallback(t *testing.T) {
	a, _ := newTestAdapter()

	var calls []Profile
	a.SetProfileCallback(func(_, updated Profile) { calls = append(calls, updated) })

	_, ok := a.Profile()
	assert.False(t, ok)

	a.Update(Info{EffectiveType: FourG, RTTMs: 40})
	a.Update(Info{EffectiveType: FourG, RTTMs: 45})
	a.Update(Info{EffectiveType: FourG, RTTMs: 250})

	require.Len(t, calls, 2)
	assert.Equal(t, 200, calls[1].JitterBufferMs)
	assert.True(t, calls[1].PLCEnabled)

	p, ok := a.Profile()
	assert.True(t, ok)
	assert.Equal(t, 250.0, p.RTTMs)
}
