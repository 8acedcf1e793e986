// Package device adapts a telephony device SDK to the call session.
//
// The SDK itself is consumed through the Registrar and Handle interfaces.
// DeviceRegistrar wraps a Registrar with registration state, token
// lifecycle (expiry read from the JWT exp claim, refreshed ahead of time)
// and forwarding of incoming calls.
//
// SimulatedRegistrar is a self-contained transport for demo mode and tests:
// calls progress on timers and enhanced audio is looped through local UDP
// sockets as RTP with RTCP reports, so transport statistics are measured
// rather than invented.
package device
