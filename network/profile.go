package network

import "fmt"

// EffectiveType is the coarse connection class reported by the platform.
type EffectiveType string

const (
	SlowTwoG EffectiveType = "slow-2g"
	TwoG     EffectiveType = "2g"
	ThreeG   EffectiveType = "3g"
	FourG    EffectiveType = "4g"
	FiveG    EffectiveType = "5g"
)

// Class is the network quality class derived from the target bitrate.
type Class int

const (
	// ClassSevere is below 16 kbps.
	ClassSevere Class = iota
	// ClassPoor is 16 kbps up to 32 kbps.
	ClassPoor
	// ClassModerate is 32 kbps up to 64 kbps.
	ClassModerate
	// ClassGood is 64 kbps up to 128 kbps.
	ClassGood
	// ClassExcellent is 128 kbps and above.
	ClassExcellent
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassSevere:
		return "severe"
	case ClassPoor:
		return "poor"
	case ClassModerate:
		return "moderate"
	case ClassGood:
		return "good"
	case ClassExcellent:
		return "excellent"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ClassForBitrate classifies a target bitrate.
func ClassForBitrate(bps uint32) Class {
	switch {
	case bps >= 128000:
		return ClassExcellent
	case bps >= 64000:
		return ClassGood
	case bps >= 32000:
		return ClassModerate
	case bps >= 16000:
		return ClassPoor
	default:
		return ClassSevere
	}
}

// Info is one network signal sample. Zero DownlinkMbps means not measured.
type Info struct {
	EffectiveType EffectiveType
	DownlinkMbps  float64
	RTTMs         float64
	PacketLoss    float64 // percentage
}

// Profile is the derived set of transport parameters.
type Profile struct {
	EffectiveType  EffectiveType
	DownlinkMbps   float64
	RTTMs          float64
	PacketLoss     float64
	TargetBitrate  uint32
	JitterBufferMs int
	PLCEnabled     bool
	Class          Class
}

// JitterBufferForRTT returns the jitter buffer depth for an RTT.
func JitterBufferForRTT(rttMs float64) int {
	switch {
	case rttMs < 50:
		return 50
	case rttMs < 100:
		return 100
	case rttMs < 200:
		return 150
	default:
		return 200
	}
}

// PLCRequired reports whether packet-loss concealment should be enabled.
func PLCRequired(targetBitrate uint32, rttMs, lossPercent float64) bool {
	return targetBitrate < 64000 || rttMs >= 200 || lossPercent >= 1
}

// sameParameters reports whether two profiles configure the transport identically.
func (p Profile) sameParameters(o Profile) bool {
	return p.TargetBitrate == o.TargetBitrate &&
		p.JitterBufferMs == o.JitterBufferMs &&
		p.PLCEnabled == o.PLCEnabled &&
		p.Class == o.Class
}
