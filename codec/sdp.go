package codec

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// OfferOptions describes the local media endpoint advertised in a re-offer.
type OfferOptions struct {
	SessionID      uint64
	SessionVersion uint64
	Address        string // IPv4 address; defaults to 0.0.0.0
	Port           int
	PacketTime     int // ms; defaults to 20
}

// BuildOffer renders an SDP offer advertising exactly one profile plus
// telephone-event for DTMF.
func BuildOffer(p Profile, opts OfferOptions) ([]byte, error) {
	addr := opts.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	ptime := opts.PacketTime
	if ptime <= 0 {
		ptime = 20
	}

	channels := uint16(0)
	if p.IsOpus() {
		// RFC 7587 always signals two channels for Opus.
		channels = 2
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: opts.Port},
			Protos: []string{"RTP", "AVP"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
	}
	media = media.
		WithCodec(p.PayloadType, p.EncodingName, p.ClockRate, channels, p.Fmtp()).
		WithCodec(101, "telephone-event", p.ClockRate, 0, "0-15").
		WithValueAttribute("ptime", strconv.Itoa(ptime)).
		WithPropertyAttribute("sendrecv")
	if p.MaxBitrate > 0 {
		media.Bandwidth = []sdp.Bandwidth{{Type: "AS", Bandwidth: uint64(p.MaxBitrate / 1000)}}
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      opts.SessionID,
			SessionVersion: opts.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "softphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions:  []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	out, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal offer for %s: %w", p.Name, err)
	}
	return out, nil
}
