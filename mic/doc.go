// Package mic provides capture sources for the audio pipeline.
//
// The synthetic source generates a sine tone in real time and needs no
// hardware; it is the default for the CLI and for integration tests. The
// PortAudio source reads the default input device and is only compiled with
// the portaudio build tag, since it links against the native library.
package mic
