package network

import (
	"sync"
	"time"

	"github.com/opd-ai/softphone/internal/clock"
	"github.com/sirupsen/logrus"
)

// Tier maps downlinks below MaxDownlinkMbps to a bitrate. The last tier in a
// table has MaxDownlinkMbps 0 and catches everything above the previous one.
type Tier struct {
	MaxDownlinkMbps float64
	Bitrate         uint32
}

// Config defines the adaptation tables and stability controls.
type Config struct {
	EffectiveTypeBitrates map[EffectiveType]uint32
	DownlinkTiers         []Tier
	DefaultBitrate        uint32        // used for unknown effective types (default: 32000)
	HysteresisMargin      float64       // fraction a boundary must be crossed by (default: 0.1)
	BackoffDuration       time.Duration // upgrade hold-off after a downgrade (default: 5s)
}

// DefaultConfig returns the standard tier tables.
func DefaultConfig() *Config {
	return &Config{
		EffectiveTypeBitrates: map[EffectiveType]uint32{
			SlowTwoG: 8000,
			TwoG:     16000,
			ThreeG:   32000,
			FourG:    64000,
			FiveG:    128000,
		},
		DownlinkTiers: []Tier{
			{MaxDownlinkMbps: 0.15, Bitrate: 8000},
			{MaxDownlinkMbps: 0.5, Bitrate: 16000},
			{MaxDownlinkMbps: 1, Bitrate: 32000},
			{MaxDownlinkMbps: 2, Bitrate: 48000},
			{MaxDownlinkMbps: 5, Bitrate: 64000},
			{MaxDownlinkMbps: 0, Bitrate: 128000},
		},
		DefaultBitrate:   32000,
		HysteresisMargin: 0.1,
		BackoffDuration:  5 * time.Second,
	}
}

// Adapter recomputes the network profile as signals change.
type Adapter struct {
	mu      sync.RWMutex
	config  *Config
	profile Profile
	started bool

	lastDowngrade   time.Time
	adaptationCount uint64

	profileCb    func(old, updated Profile)
	timeProvider clock.TimeProvider
}

// NewAdapter creates an adapter. A nil config uses DefaultConfig.
func NewAdapter(config *Config) *Adapter {
	if config == nil {
		config = DefaultConfig()
	}
	logrus.WithFields(logrus.Fields{
		"function":    "NewAdapter",
		"tiers":       len(config.DownlinkTiers),
		"margin":      config.HysteresisMargin,
		"backoff_ms":  config.BackoffDuration.Milliseconds(),
		"default_bps": config.DefaultBitrate,
	}).Info("Creating network adapter")

	return &Adapter{config: config}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (a *Adapter) SetTimeProvider(tp clock.TimeProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeProvider = tp
}

func (a *Adapter) getTimeProvider() clock.TimeProvider {
	if a.timeProvider != nil {
		return a.timeProvider
	}
	return clock.Real{}
}

// SetProfileCallback registers a hook invoked when the transport parameters change.
func (a *Adapter) SetProfileCallback(cb func(old, updated Profile)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profileCb = cb
}

// Profile returns the current profile. ok is false before the first Update.
func (a *Adapter) Profile() (Profile, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile, a.started
}

// AdaptationCount returns the number of bitrate changes made.
func (a *Adapter) AdaptationCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adaptationCount
}

// Update recomputes the profile from a new sample and reports whether the
// transport parameters changed.
func (a *Adapter) Update(info Info) (Profile, bool) {
	a.mu.Lock()
	now := a.getTimeProvider().Now()
	old := a.profile
	first := !a.started

	target := a.selectBitrate(info, now, first)
	next := Profile{
		EffectiveType:  info.EffectiveType,
		DownlinkMbps:   info.DownlinkMbps,
		RTTMs:          info.RTTMs,
		PacketLoss:     info.PacketLoss,
		TargetBitrate:  target,
		JitterBufferMs: JitterBufferForRTT(info.RTTMs),
		PLCEnabled:     PLCRequired(target, info.RTTMs, info.PacketLoss),
		Class:          ClassForBitrate(target),
	}

	if !first && target < old.TargetBitrate {
		a.lastDowngrade = now
	}
	if !first && target != old.TargetBitrate {
		a.adaptationCount++
	}
	changed := first || !next.sameParameters(old)
	a.profile = next
	a.started = true
	cb := a.profileCb
	a.mu.Unlock()

	if changed {
		logrus.WithFields(logrus.Fields{
			"function":       "Adapter.Update",
			"effective_type": info.EffectiveType,
			"downlink_mbps":  info.DownlinkMbps,
			"rtt_ms":         info.RTTMs,
			"old_bps":        old.TargetBitrate,
			"new_bps":        next.TargetBitrate,
			"jitter_ms":      next.JitterBufferMs,
			"plc":            next.PLCEnabled,
			"class":          next.Class.String(),
		}).Info("Network profile updated")
		if cb != nil {
			cb(old, next)
		}
	}
	return next, changed
}

// selectBitrate applies the tier tables, hysteresis and backoff. Caller holds a.mu.
func (a *Adapter) selectBitrate(info Info, now time.Time, first bool) uint32 {
	if info.DownlinkMbps > 0 && len(a.config.DownlinkTiers) > 0 {
		return a.selectDownlinkTier(info.DownlinkMbps, now, first)
	}

	target, ok := a.config.EffectiveTypeBitrates[info.EffectiveType]
	if !ok {
		target = a.config.DefaultBitrate
	}
	if !first && target > a.profile.TargetBitrate && a.inBackoff(now) {
		return a.profile.TargetBitrate
	}
	return target
}

func (a *Adapter) selectDownlinkTier(mbps float64, now time.Time, first bool) uint32 {
	tiers := a.config.DownlinkTiers
	raw := tierIndex(tiers, mbps)
	cur := -1
	if !first {
		cur = tierForBitrate(tiers, a.profile.TargetBitrate)
	}
	if cur < 0 {
		return tiers[raw].Bitrate
	}

	margin := a.config.HysteresisMargin
	next := cur
	switch {
	case raw > cur:
		if a.inBackoff(now) {
			break
		}
		// Highest tier whose lower boundary is cleared by the margin.
		next = raw
		for next > cur && mbps < tiers[next-1].MaxDownlinkMbps*(1+margin) {
			next--
		}
	case raw < cur:
		// Lowest tier whose upper boundary is undercut by the margin.
		next = raw
		for next < cur && mbps >= tiers[next].MaxDownlinkMbps*(1-margin) {
			next++
		}
	}

	if next != cur {
		logrus.WithFields(logrus.Fields{
			"function":      "Adapter.selectDownlinkTier",
			"downlink_mbps": mbps,
			"from_tier":     cur,
			"to_tier":       next,
		}).Debug("Downlink tier change")
	}
	return tiers[next].Bitrate
}

func (a *Adapter) inBackoff(now time.Time) bool {
	return !a.lastDowngrade.IsZero() && now.Sub(a.lastDowngrade) < a.config.BackoffDuration
}

func tierIndex(tiers []Tier, mbps float64) int {
	for i, t := range tiers {
		if t.MaxDownlinkMbps <= 0 || mbps < t.MaxDownlinkMbps {
			return i
		}
	}
	return len(tiers) - 1
}

func tierForBitrate(tiers []Tier, bps uint32) int {
	for i, t := range tiers {
		if t.Bitrate == bps {
			return i
		}
	}
	return -1
}
