package mic

import (
	"context"
	"fmt"

	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/internal/clock"
)

// Source names.
const (
	SourceSynthetic = "synthetic"
	SourcePortAudio = "portaudio"
)

// Factory opens a fresh capture source for each call.
type Factory struct {
	Source string
	Tone   ToneConfig
	Clock  clock.Clock
}

// Open creates a source matching layout.
func (f Factory) Open(ctx context.Context, layout audio.PipelineConfig) (audio.Source, error) {
	switch f.Source {
	case "", SourceSynthetic:
		tone := f.Tone
		tone.Paced = true
		return NewToneSource(tone, layout, f.Clock)
	case SourcePortAudio:
		return OpenPortAudio(layout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, f.Source)
	}
}
