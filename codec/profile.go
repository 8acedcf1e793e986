package codec

import (
	"fmt"

	"github.com/pion/opus"
)

// Profile describes one codec configuration. Profiles are values and are
// never mutated after selection.
type Profile struct {
	Name         string
	Priority     int // lower is preferred
	EncodingName string
	PayloadType  uint8
	ClockRate    uint32
	Channels     int
	MinBitrate   uint32
	MaxBitrate   uint32
	FEC          bool
	DTX          bool
	CPUCost      int
	// Bandwidth is the coded audio bandwidth for Opus profiles.
	Bandwidth opus.Bandwidth
}

// Standard profiles in priority order.
var (
	OpusWidebandStereo = Profile{
		Name:         "opus-wideband-stereo",
		Priority:     1,
		EncodingName: "opus",
		PayloadType:  111,
		ClockRate:    48000,
		Channels:     2,
		MinBitrate:   32000,
		MaxBitrate:   128000,
		FEC:          true,
		DTX:          true,
		CPUCost:      3,
		Bandwidth:    opus.BandwidthWideband,
	}

	OpusNarrowband = Profile{
		Name:         "opus-narrowband",
		Priority:     2,
		EncodingName: "opus",
		PayloadType:  111,
		ClockRate:    48000,
		Channels:     1,
		MinBitrate:   8000,
		MaxBitrate:   32000,
		FEC:          true,
		DTX:          true,
		CPUCost:      2,
		Bandwidth:    opus.BandwidthNarrowband,
	}

	PCMU = Profile{
		Name:         "pcmu",
		Priority:     3,
		EncodingName: "PCMU",
		PayloadType:  0,
		ClockRate:    8000,
		Channels:     1,
		MinBitrate:   64000,
		MaxBitrate:   64000,
		CPUCost:      1,
	}
)

// DefaultProfiles returns the standard priority list.
func DefaultProfiles() []Profile {
	return []Profile{OpusWidebandStereo, OpusNarrowband, PCMU}
}

// IsOpus reports whether the profile uses the Opus encoding.
func (p Profile) IsOpus() bool {
	return p.EncodingName == "opus"
}

// Fmtp returns the format parameters advertised for the profile.
func (p Profile) Fmtp() string {
	if !p.IsOpus() {
		return ""
	}
	stereo := 0
	if p.Channels > 1 {
		stereo = 1
	}
	fec, dtx := 0, 0
	if p.FEC {
		fec = 1
	}
	if p.DTX {
		dtx = 1
	}
	rate := p.Bandwidth.SampleRate()
	return fmt.Sprintf("minptime=10;useinbandfec=%d;usedtx=%d;stereo=%d;sprop-stereo=%d;maxplaybackrate=%d;sprop-maxcapturerate=%d;maxaveragebitrate=%d",
		fec, dtx, stereo, stereo, rate, rate, p.MaxBitrate)
}

// Fits reports whether the profile fits a bandwidth ceiling and CPU budget.
func (p Profile) Fits(ceiling uint32, cpuBudget int) bool {
	return p.MinBitrate <= ceiling && p.CPUCost <= cpuBudget
}

// String returns the profile name.
func (p Profile) String() string { return p.Name }
