// Package quality monitors the enhanced outbound audio and the transport,
// and feeds corrective directives back to the audio pipeline.
//
// Every tick the Monitor takes the newest enhanced frame from a FrameSource,
// computes a magnitude spectrum (gonum FFT) scaled to 0-255 units over a
// [-100dB, -30dB] window, and derives:
//
//   - voice-band energy (mean of the bins in roughly 85-255Hz)
//   - noise level (mean of the lowest bins) and SNR (peak / noise)
//   - a clipping flag (too many bins at or above 250 units)
//   - a 0-100 composite score
//
// The Controller turns metrics into gain and noise-suppression directives
// with rate limiting and hysteresis, so the pipeline configuration never
// oscillates faster than the tick rate. Transport counters are attached to
// each sample and a degraded-network warning is raised and cleared
// automatically.
package quality
