package quality

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Level is a coarse quality assessment derived from the composite score.
type Level int

const (
	// LevelExcellent indicates a score of 85 or above.
	LevelExcellent Level = iota
	// LevelGood indicates a score of 70 to 84.
	LevelGood
	// LevelFair indicates a score of 50 to 69.
	LevelFair
	// LevelPoor indicates a score of 30 to 49.
	LevelPoor
	// LevelUnacceptable indicates a score below 30.
	LevelUnacceptable
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelExcellent:
		return "Excellent"
	case LevelGood:
		return "Good"
	case LevelFair:
		return "Fair"
	case LevelPoor:
		return "Poor"
	case LevelUnacceptable:
		return "Unacceptable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// LevelForScore maps a composite score to a Level.
func LevelForScore(score int) Level {
	switch {
	case score >= 85:
		return LevelExcellent
	case score >= 70:
		return LevelGood
	case score >= 50:
		return LevelFair
	case score >= 30:
		return LevelPoor
	default:
		return LevelUnacceptable
	}
}

// TransportStats are the counters reported by the media transport.
type TransportStats struct {
	RTT             time.Duration
	Jitter          time.Duration
	PacketLoss      float64 // percentage (0.0-100.0)
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
}

// Metrics is one quality sample.
type Metrics struct {
	Timestamp        time.Time
	SignalStrength   float64 // mean voice-band level in 0-255 units
	NoiseLevel       float64 // mean low-bin level in 0-255 units
	SNR              float64
	ClippingDetected bool
	VoicePresent     bool
	CompositeScore   int // 0-100
	Transport        TransportStats
	// Muted marks a transport-only sample taken while outgoing audio was
	// suppressed; the audio fields are zero.
	Muted bool
}

// Level returns the coarse assessment for the sample.
func (m Metrics) Level() Level {
	return LevelForScore(m.CompositeScore)
}

// CompositeScore combines SNR, clipping and voice energy into a 0-100 score:
// 40 points for SNR (saturating at 50), 30 for the absence of clipping and 30
// for voice energy (saturating at 100 units).
func CompositeScore(snr float64, clipping bool, voiceEnergy float64) int {
	score := 40 * math.Min(math.Max(snr, 0)/50, 1)
	if !clipping {
		score += 30
	}
	score += 30 * math.Min(math.Max(voiceEnergy, 0)/100, 1)
	return int(math.Round(score))
}

// History is a bounded ring of quality samples, oldest first.
type History struct {
	mu      sync.RWMutex
	entries []Metrics
	next    int
	full    bool
}

// NewHistory creates a history holding at most size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{entries: make([]Metrics, size)}
}

// Add appends a sample, evicting the oldest when full.
func (h *History) Add(m Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = m
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Snapshot returns a copy of the stored samples, oldest first.
func (h *History) Snapshot() []Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]Metrics(nil), h.entries[:h.next]...)
	}
	out := make([]Metrics, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// Last returns the newest sample.
func (h *History) Last() (Metrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full && h.next == 0 {
		return Metrics{}, false
	}
	i := (h.next - 1 + len(h.entries)) % len(h.entries)
	return h.entries[i], true
}

// Scores returns the composite scores, oldest first.
func (h *History) Scores() []int {
	snap := h.Snapshot()
	out := make([]int, len(snap))
	for i, m := range snap {
		out[i] = m.CompositeScore
	}
	return out
}
