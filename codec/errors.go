package codec

import "errors"

var (
	// ErrNoProfiles indicates a selector was configured without profiles.
	ErrNoProfiles = errors.New("no codec profiles configured")

	// ErrEmptyPacket indicates an inbound packet without payload.
	ErrEmptyPacket = errors.New("empty codec packet")

	// ErrNotOpus indicates an inbound packet whose payload type is not the negotiated Opus type.
	ErrNotOpus = errors.New("packet is not opus")
)
