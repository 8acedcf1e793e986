// Package codec selects the audio codec profile for a call and renders the
// SDP re-offer used when the selection changes mid-call.
//
// Selection is a pure function of the bandwidth ceiling (the network
// profile's target bitrate) and the CPU budget derived from processing load:
// the highest-priority profile that fits both wins. The Selector adds switch
// discipline on top: a profile that no longer fits is replaced immediately,
// while an upgrade must be the stable choice for several evaluations and
// respect a minimum switch interval.
//
// Bit-stream encoding is left to the media transport. Inbound Opus packets
// can be inspected with InboundInspector to learn the remote's coded
// bandwidth and channel layout.
package codec
