// Package audio implements the outbound audio enhancement pipeline.
//
// Every captured frame passes through a fixed chain of stages:
//
//  1. NoiseGate: frames whose RMS level sits under the noise floor are
//     attenuated to 10% amplitude; clean frames pass unchanged.
//  2. HighPassFilter: 2nd order Butterworth high-pass (80Hz, raised to
//     100Hz under high noise).
//  3. Compressor: soft-knee dynamic range compressor.
//  4. GainStage: scalar make-up gain, always clamped to [MinGain, MaxGain].
//
// Configuration changes are staged with Pipeline.Commit and picked up by the
// processing goroutine at the next frame boundary, so a frame is never
// processed with a half-applied configuration.
//
// Example:
//
//	p, err := audio.NewPipeline(audio.DefaultPipelineConfig())
//	if err != nil {
//		return err
//	}
//	go p.Run(ctx, source, sink)
//	snapshot, seq, ok := p.Tap().Latest()
package audio
