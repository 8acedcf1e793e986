package quality

import (
	"sync"

	"github.com/opd-ai/softphone/audio"
)

// Directive is the controller's output for one tick.
type Directive struct {
	// GainFactor multiplies the current gain; 1 means no change.
	GainFactor float64
	// NoiseAggressive selects the aggressive noise floor and high-pass corner.
	NoiseAggressive bool
	// Changed reports whether applying the directive alters the pipeline.
	Changed bool
	Reason  string
}

// Controller turns metrics into pipeline directives.
//
// Gain changes are rate limited to one per AdjustInterval ticks; reversing
// direction additionally waits ReversalHold ticks. Noise suppression uses SNR
// hysteresis: it turns aggressive below LowSNR and relaxes above RecoverSNR.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	ticks      int
	lastDir    int
	aggressive bool
}

// NewController creates a controller; the first gain change is allowed immediately.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, ticks: cfg.AdjustInterval + cfg.ReversalHold}
}

// Aggressive reports whether aggressive noise suppression is active.
func (c *Controller) Aggressive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggressive
}

// Decide evaluates one sample.
func (c *Controller) Decide(m Metrics) Directive {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Directive{GainFactor: 1}

	wasAggressive := c.aggressive
	if !c.aggressive && m.SNR < c.cfg.LowSNR {
		c.aggressive = true
		d.Reason = "low snr"
	} else if c.aggressive && m.SNR > c.cfg.RecoverSNR {
		c.aggressive = false
		d.Reason = "snr recovered"
	}
	d.NoiseAggressive = c.aggressive
	if c.aggressive != wasAggressive {
		d.Changed = true
	}

	dir := 0
	switch {
	case m.ClippingDetected:
		dir = -1
	case m.SignalStrength < c.cfg.WeakSignalThreshold:
		dir = 1
	}

	c.ticks++
	if dir == 0 || c.ticks < c.cfg.AdjustInterval {
		return d
	}
	if c.lastDir != 0 && dir != c.lastDir && c.ticks < c.cfg.AdjustInterval+c.cfg.ReversalHold {
		return d
	}

	c.ticks = 0
	c.lastDir = dir
	d.Changed = true
	if dir < 0 {
		d.GainFactor = c.cfg.GainDownFactor
		d.Reason = "clipping"
	} else {
		d.GainFactor = c.cfg.GainUpFactor
		d.Reason = "weak signal"
	}
	return d
}

// Apply returns cfg with the directive applied. The gain is always clamped
// to the pipeline's bounds.
func (c *Controller) Apply(cfg audio.PipelineConfig, d Directive) audio.PipelineConfig {
	factor := d.GainFactor
	if factor <= 0 {
		factor = 1
	}
	cfg = cfg.WithGain(cfg.Gain * factor)
	if d.NoiseAggressive {
		cfg.NoiseFloorThreshold = c.cfg.AggressiveNoiseFloor
		cfg.HighPassCutoffHz = c.cfg.AggressiveHighPassHz
	} else {
		cfg.NoiseFloorThreshold = c.cfg.RelaxedNoiseFloor
		cfg.HighPassCutoffHz = c.cfg.RelaxedHighPassHz
	}
	return cfg
}
