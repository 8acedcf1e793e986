//go:build !portaudio

package mic

import (
	"fmt"

	"github.com/opd-ai/softphone/audio"
)

// OpenPortAudio reports ErrUnavailable; build with -tags portaudio to
// capture from a real device.
func OpenPortAudio(layout audio.PipelineConfig) (audio.Source, error) {
	return nil, fmt.Errorf("%w: built without the portaudio tag", ErrUnavailable)
}
