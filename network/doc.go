// Package network derives transport parameters from network conditions.
//
// An Adapter maps the reported effective connection type to a target
// bitrate tier and, when a measured downlink is available, refines the tier
// from the measurement:
//
//	effective type: slow-2g 8k, 2g 16k, 3g 32k, 4g 64k, 5g 128k
//	downlink Mbps:  <0.15 8k, <0.5 16k, <1 32k, <2 48k, <5 64k, >=5 128k
//
// Moving between downlink tiers requires crossing the boundary by a margin,
// and upgrades are held off for a backoff period after any downgrade, so a
// flapping measurement does not flap the bitrate. The jitter-buffer depth
// follows RTT bands and packet-loss concealment is enabled for low bitrates,
// high RTT or measurable loss.
package network
