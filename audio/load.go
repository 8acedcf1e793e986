package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFrameBudget is the processing time above which a frame is reported as slow.
const DefaultFrameBudget = 10 * time.Millisecond

// LoadMetrics is a point-in-time view of frame processing cost.
type LoadMetrics struct {
	Frames         int64
	OverBudget     int64
	AverageElapsed time.Duration
	PeakElapsed    time.Duration
	// Load is the average processing time as a fraction of the frame duration.
	Load float64
}

// LoadTracker records how long each frame takes to process.
//
// The average is an exponential moving average so a single slow frame does
// not dominate; the peak is kept until Reset. Counters are atomic so the
// quality and codec goroutines can read them without blocking the audio path.
type LoadTracker struct {
	frames     int64
	overBudget int64

	budget        time.Duration
	frameDuration time.Duration

	mu      sync.RWMutex
	avg     time.Duration
	peak    time.Duration
	onFrame func(time.Duration)
}

// NewLoadTracker creates a tracker for frames of the given duration.
func NewLoadTracker(frameDuration, budget time.Duration) *LoadTracker {
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	return &LoadTracker{budget: budget, frameDuration: frameDuration}
}

// SetObserver registers a hook called with every observed processing time.
func (lt *LoadTracker) SetObserver(fn func(time.Duration)) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.onFrame = fn
}

// SetBudget changes the per-frame processing budget.
func (lt *LoadTracker) SetBudget(budget time.Duration) {
	if budget <= 0 {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.budget = budget
}

// Budget returns the per-frame processing budget.
func (lt *LoadTracker) Budget() time.Duration {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.budget
}

// Observe records one frame's processing time.
func (lt *LoadTracker) Observe(elapsed time.Duration) {
	n := atomic.AddInt64(&lt.frames, 1)

	lt.mu.Lock()
	if n == 1 {
		lt.avg = elapsed
	} else {
		// EMA with alpha = 0.1
		lt.avg = time.Duration(float64(lt.avg)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > lt.peak {
		lt.peak = elapsed
	}
	observer, budget := lt.onFrame, lt.budget
	lt.mu.Unlock()

	if elapsed > budget {
		over := atomic.AddInt64(&lt.overBudget, 1)
		logrus.WithFields(logrus.Fields{
			"function":    "LoadTracker.Observe",
			"elapsed_us":  elapsed.Microseconds(),
			"budget_us":   budget.Microseconds(),
			"over_budget": over,
		}).Warn("Audio frame exceeded processing budget")
	}

	if observer != nil {
		observer(elapsed)
	}
}

// Load returns average processing time divided by frame duration.
func (lt *LoadTracker) Load() float64 {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	if lt.frameDuration <= 0 {
		return 0
	}
	return float64(lt.avg) / float64(lt.frameDuration)
}

// Snapshot returns the current counters.
func (lt *LoadTracker) Snapshot() LoadMetrics {
	lt.mu.RLock()
	avg, peak := lt.avg, lt.peak
	lt.mu.RUnlock()

	m := LoadMetrics{
		Frames:         atomic.LoadInt64(&lt.frames),
		OverBudget:     atomic.LoadInt64(&lt.overBudget),
		AverageElapsed: avg,
		PeakElapsed:    peak,
	}
	if lt.frameDuration > 0 {
		m.Load = float64(avg) / float64(lt.frameDuration)
	}
	return m
}

// Reset clears all counters.
func (lt *LoadTracker) Reset() {
	atomic.StoreInt64(&lt.frames, 0)
	atomic.StoreInt64(&lt.overBudget, 0)
	lt.mu.Lock()
	lt.avg, lt.peak = 0, 0
	lt.mu.Unlock()
}
