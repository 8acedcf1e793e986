package rtpstats

import "time"

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// ntpTime converts t to a 64-bit NTP timestamp.
func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return secs<<32 | frac
}

// compactNTP returns the middle 32 bits of an NTP timestamp, the format
// used by the LSR and DLSR report fields.
func compactNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// compactDuration converts a duration to units of 1/65536 seconds.
func compactDuration(d time.Duration) uint32 {
	return uint32(d * 65536 / time.Second)
}

// fromCompact converts 1/65536 second units to a duration.
func fromCompact(v uint32) time.Duration {
	return time.Duration(uint64(v) * uint64(time.Second) / 65536)
}
