package codec

import (
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// maxDecodedBytes holds 120ms of 48kHz stereo 16-bit audio, the longest Opus packet.
const maxDecodedBytes = 48000 * 120 / 1000 * 2 * 2

// RemoteAudio is what an inbound Opus packet reveals about the far end.
type RemoteAudio struct {
	Bandwidth  string
	SampleRate int
	Stereo     bool
}

// InboundInspector decodes inbound Opus packets surfaced by the transport
// to report the remote's coded bandwidth and channel layout.
type InboundInspector struct {
	mu          sync.Mutex
	decoder     *opus.Decoder
	payloadType uint8
	out         []byte
	last        RemoteAudio
	inspected   uint64
	failed      uint64
}

// NewInboundInspector creates an inspector for the given Opus payload type.
func NewInboundInspector(payloadType uint8) *InboundInspector {
	decoder := opus.NewDecoder()
	return &InboundInspector{
		decoder:     &decoder,
		payloadType: payloadType,
		out:         make([]byte, maxDecodedBytes),
	}
}

// Inspect decodes one Opus payload.
func (i *InboundInspector) Inspect(payload []byte) (RemoteAudio, error) {
	if len(payload) == 0 {
		return RemoteAudio{}, ErrEmptyPacket
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	bandwidth, stereo, err := i.decoder.Decode(payload, i.out)
	if err != nil {
		i.failed++
		logrus.WithFields(logrus.Fields{
			"function": "InboundInspector.Inspect",
			"size":     len(payload),
			"error":    err.Error(),
		}).Debug("Inbound opus decode failed")
		return RemoteAudio{}, fmt.Errorf("opus decode: %w", err)
	}

	remote := RemoteAudio{
		Bandwidth:  bandwidth.String(),
		SampleRate: bandwidth.SampleRate(),
		Stereo:     stereo,
	}
	if remote != i.last {
		logrus.WithFields(logrus.Fields{
			"function":    "InboundInspector.Inspect",
			"bandwidth":   remote.Bandwidth,
			"sample_rate": remote.SampleRate,
			"stereo":      remote.Stereo,
		}).Info("Remote audio format detected")
	}
	i.last = remote
	i.inspected++
	return remote, nil
}

// InspectRTP inspects the payload of an RTP packet carrying Opus.
func (i *InboundInspector) InspectRTP(pkt *rtp.Packet) (RemoteAudio, error) {
	if pkt == nil || len(pkt.Payload) == 0 {
		return RemoteAudio{}, ErrEmptyPacket
	}
	if pkt.PayloadType != i.payloadType {
		return RemoteAudio{}, fmt.Errorf("%w: payload type %d", ErrNotOpus, pkt.PayloadType)
	}
	return i.Inspect(pkt.Payload)
}

// Last returns the most recently detected remote format.
func (i *InboundInspector) Last() (RemoteAudio, uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last, i.inspected
}

// Failures returns the number of packets that failed to decode.
func (i *InboundInspector) Failures() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failed
}
