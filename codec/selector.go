package codec

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/softphone/internal/clock"
	"github.com/sirupsen/logrus"
)

// Constraints are the inputs of one selection.
type Constraints struct {
	// CeilingBitrate is the hard bandwidth limit; a profile whose minimum
	// bitrate exceeds it is never chosen while another one fits.
	CeilingBitrate uint32
	// CPULoad is the processing load as a fraction (0.0-1.0+).
	CPULoad float64
}

// Config controls the CPU budget and switch discipline.
type Config struct {
	Profiles           []Profile
	CPUThreshold       float64       // load above which the budget drops to 2 (default: 0.7)
	SevereCPUThreshold float64       // load above which the budget drops to 1 (default: 0.9)
	UpgradeStableCount int           // evaluations an upgrade must persist (default: 3)
	MinSwitchInterval  time.Duration // minimum time between upgrades (default: 10s)
}

// DefaultConfig returns the default selector configuration.
func DefaultConfig() *Config {
	return &Config{
		Profiles:           DefaultProfiles(),
		CPUThreshold:       0.7,
		SevereCPUThreshold: 0.9,
		UpgradeStableCount: 3,
		MinSwitchInterval:  10 * time.Second,
	}
}

// CPUBudget converts a load fraction to the highest CPU cost allowed.
func (c *Config) CPUBudget(load float64) int {
	switch {
	case load >= c.SevereCPUThreshold:
		return 1
	case load >= c.CPUThreshold:
		return 2
	default:
		return 3
	}
}

// Choose returns the best profile for the constraints. It is deterministic:
// identical inputs always yield the identical profile.
//
// Order of preference: the highest-priority profile fitting both ceiling and
// CPU budget; otherwise the cheapest profile fitting the ceiling; otherwise
// the profile with the lowest minimum bitrate.
func Choose(cfg *Config, c Constraints) Profile {
	profiles := append([]Profile(nil), cfg.Profiles...)
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })

	budget := cfg.CPUBudget(c.CPULoad)
	for _, p := range profiles {
		if p.Fits(c.CeilingBitrate, budget) {
			return p
		}
	}

	var best *Profile
	for i := range profiles {
		p := &profiles[i]
		if p.MinBitrate > c.CeilingBitrate {
			continue
		}
		if best == nil || p.CPUCost < best.CPUCost {
			best = p
		}
	}
	if best != nil {
		return *best
	}

	best = &profiles[0]
	for i := range profiles {
		if profiles[i].MinBitrate < best.MinBitrate {
			best = &profiles[i]
		}
	}
	return *best
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Profile  Profile
	Previous Profile
	// Changed is true when Profile differs from Previous, including the
	// initial selection.
	Changed bool
	Initial bool
	Reason  string
}

// Selector tracks the active profile and applies switch discipline.
type Selector struct {
	mu      sync.Mutex
	config  *Config
	current Profile
	started bool

	pending     string
	stableCount int
	lastSwitch  time.Time
	switches    uint64

	timeProvider clock.TimeProvider
}

// NewSelector creates a selector. A nil config uses DefaultConfig.
func NewSelector(config *Config) (*Selector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Profiles) == 0 {
		return nil, ErrNoProfiles
	}
	logrus.WithFields(logrus.Fields{
		"function":      "NewSelector",
		"profiles":      len(config.Profiles),
		"cpu_threshold": config.CPUThreshold,
		"stable_count":  config.UpgradeStableCount,
	}).Info("Creating codec selector")
	return &Selector{config: config}, nil
}

// SetTimeProvider sets the time provider for deterministic testing.
func (s *Selector) SetTimeProvider(tp clock.TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

func (s *Selector) now() time.Time {
	if s.timeProvider != nil {
		return s.timeProvider.Now()
	}
	return time.Now()
}

// Current returns the active profile. ok is false before the first evaluation.
func (s *Selector) Current() (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.started
}

// Switches returns the number of mid-call profile changes.
func (s *Selector) Switches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// Evaluate re-runs selection and applies switch discipline.
func (s *Selector) Evaluate(c Constraints) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	candidate := Choose(s.config, c)

	if !s.started {
		s.started = true
		s.current = candidate
		s.lastSwitch = now
		s.logDecision("initial", Profile{}, candidate, c)
		return Decision{Profile: candidate, Changed: true, Initial: true, Reason: "initial"}
	}

	prev := s.current
	if candidate.Name == prev.Name {
		s.pending, s.stableCount = "", 0
		return Decision{Profile: prev, Previous: prev}
	}

	budget := s.config.CPUBudget(c.CPULoad)
	if !prev.Fits(c.CeilingBitrate, budget) {
		s.switchTo(candidate, now)
		s.logDecision("downgrade", prev, candidate, c)
		return Decision{Profile: candidate, Previous: prev, Changed: true, Reason: "downgrade"}
	}

	if candidate.Name != s.pending {
		s.pending, s.stableCount = candidate.Name, 0
	}
	s.stableCount++
	if s.stableCount < s.config.UpgradeStableCount || now.Sub(s.lastSwitch) < s.config.MinSwitchInterval {
		return Decision{Profile: prev, Previous: prev, Reason: "upgrade pending"}
	}

	s.switchTo(candidate, now)
	s.logDecision("upgrade", prev, candidate, c)
	return Decision{Profile: candidate, Previous: prev, Changed: true, Reason: "upgrade"}
}

func (s *Selector) switchTo(p Profile, now time.Time) {
	s.current = p
	s.lastSwitch = now
	s.pending, s.stableCount = "", 0
	s.switches++
}

func (s *Selector) logDecision(reason string, from, to Profile, c Constraints) {
	logrus.WithFields(logrus.Fields{
		"function":    "Selector.Evaluate",
		"reason":      reason,
		"from":        from.Name,
		"to":          to.Name,
		"ceiling_bps": c.CeilingBitrate,
		"cpu_load":    c.CPULoad,
	}).Info("Codec profile selected")
}
