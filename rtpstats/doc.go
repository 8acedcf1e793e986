// Package rtpstats derives transport counters from RTP and RTCP traffic.
//
// A Tracker plays both roles of an RTP endpoint:
//
//   - as receiver it follows extended sequence numbers and the RFC 3550
//     inter-arrival jitter estimate, and builds receiver reports;
//   - as sender it stamps sender reports and, when the peer's receiver
//     report comes back, derives round-trip time from LSR/DLSR plus the
//     peer's view of loss and jitter on the outbound stream.
//
// Stats reports the outbound view as quality.TransportStats.
package rtpstats
