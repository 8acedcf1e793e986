// Package vad detects voice activity on enhanced audio frames.
//
// The detector compares each frame's RMS energy with a threshold. A frame
// above the threshold starts speech immediately; speech ends only after the
// level stays below the threshold for the debounce window, measured in frame
// time rather than wall-clock time. Edges are reported through
// OnSpeakingStart and OnSilenceStart callbacks; the detector itself never
// changes call state.
package vad
