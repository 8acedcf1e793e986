//go:build portaudio

package mic

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/opd-ai/softphone/audio"
	"github.com/sirupsen/logrus"
)

// PortAudioSource reads the default input device with a blocking stream.
type PortAudioSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// OpenPortAudio initializes PortAudio and starts a capture stream.
func OpenPortAudio(layout audio.PipelineConfig) (audio.Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, layout.FrameSize*layout.Channels)
	stream, err := portaudio.OpenDefaultStream(layout.Channels, 0, float64(layout.SampleRate), layout.FrameSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpenPortAudio",
		"sample_rate": layout.SampleRate,
		"channels":    layout.Channels,
		"frame_size":  layout.FrameSize,
	}).Info("PortAudio capture started")
	return &PortAudioSource{stream: stream, buf: buf}, nil
}

// ReadFrame blocks until the device delivers one buffer.
func (s *PortAudioSource) ReadFrame(ctx context.Context, frame []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(frame) != len(s.buf) {
		return fmt.Errorf("%w: got %d samples, want %d", audio.ErrFrameSize, len(frame), len(s.buf))
	}
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("read capture stream: %w", err)
	}
	copy(frame, s.buf)
	return nil
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()
	for _, err := range []error{stopErr, closeErr, termErr} {
		if err != nil {
			return err
		}
	}
	return nil
}
