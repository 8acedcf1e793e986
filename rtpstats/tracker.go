package rtpstats

import (
	"sync"
	"time"

	"github.com/opd-ai/softphone/quality"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Tracker accumulates RTP reception and RTCP feedback statistics.
type Tracker struct {
	mu        sync.Mutex
	clockRate uint32
	ssrc      uint32

	// Receiver role
	started       bool
	remoteSSRC    uint32
	baseSeq       uint32
	maxSeq        uint16
	cycles        uint32
	received      uint64
	expectedPrior uint64
	receivedPrior uint64
	lastTransit   float64
	jitter        float64 // timestamp units
	epoch         time.Time
	lastSRCompact uint32
	lastSRArrival time.Time

	// Sender role
	sent           uint64
	sentOctets     uint64
	lastRTPTime    uint32
	lastSRSent     uint32
	remoteLoss     float64
	remoteLost     uint64
	remoteJitter   time.Duration
	rtt            time.Duration
	reportsHandled uint64
}

// NewTracker creates a tracker for a stream with the given RTP clock rate
// and local SSRC.
func NewTracker(clockRate, ssrc uint32) *Tracker {
	if clockRate == 0 {
		clockRate = 48000
	}
	return &Tracker{clockRate: clockRate, ssrc: ssrc}
}

// SSRC returns the local synchronization source.
func (t *Tracker) SSRC() uint32 { return t.ssrc }

// Sent records an outbound packet.
func (t *Tracker) Sent(pkt *rtp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	t.sentOctets += uint64(len(pkt.Payload))
	t.lastRTPTime = pkt.Timestamp
}

// Received records an inbound packet and updates the jitter estimate.
func (t *Tracker) Received(pkt *rtp.Packet, arrival time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := pkt.SequenceNumber
	if !t.started {
		t.started = true
		t.remoteSSRC = pkt.SSRC
		t.baseSeq = uint32(seq)
		t.maxSeq = seq
		t.epoch = arrival
	} else {
		delta := seq - t.maxSeq
		if delta > 0 && delta < 1<<15 {
			if seq < t.maxSeq {
				t.cycles += 1 << 16
			}
			t.maxSeq = seq
		}
	}
	t.received++

	arrivalUnits := arrival.Sub(t.epoch).Seconds() * float64(t.clockRate)
	transit := arrivalUnits - float64(pkt.Timestamp)
	if t.received > 1 {
		d := transit - t.lastTransit
		if d < 0 {
			d = -d
		}
		t.jitter += (d - t.jitter) / 16
	}
	t.lastTransit = transit
}

func (t *Tracker) expectedLocked() uint64 {
	if !t.started {
		return 0
	}
	return uint64(t.cycles) + uint64(t.maxSeq) - uint64(t.baseSeq) + 1
}

// ReceiverReport builds a receiver report for the inbound stream and
// advances the per-interval loss counters.
func (t *Tracker) ReceiverReport(now time.Time) *rtcp.ReceiverReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	rr := &rtcp.ReceiverReport{SSRC: t.ssrc}
	if !t.started {
		return rr
	}

	expected := t.expectedLocked()
	lost := int64(expected) - int64(t.received)
	if lost < 0 {
		lost = 0
	}

	expectedInterval := expected - t.expectedPrior
	receivedInterval := t.received - t.receivedPrior
	t.expectedPrior, t.receivedPrior = expected, t.received
	var fraction uint8
	if lostInterval := int64(expectedInterval) - int64(receivedInterval); expectedInterval > 0 && lostInterval > 0 {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	var dlsr uint32
	if !t.lastSRArrival.IsZero() {
		dlsr = compactDuration(now.Sub(t.lastSRArrival))
	}

	rr.Reports = []rtcp.ReceptionReport{{
		SSRC:               t.remoteSSRC,
		FractionLost:       fraction,
		TotalLost:          uint32(lost),
		LastSequenceNumber: t.cycles | uint32(t.maxSeq),
		Jitter:             uint32(t.jitter),
		LastSenderReport:   t.lastSRCompact,
		Delay:              dlsr,
	}}
	return rr
}

// SenderReport builds a sender report stamped with now and remembers it for
// round-trip computation.
func (t *Tracker) SenderReport(now time.Time) *rtcp.SenderReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	ntp := ntpTime(now)
	t.lastSRSent = compactNTP(ntp)
	return &rtcp.SenderReport{
		SSRC:        t.ssrc,
		NTPTime:     ntp,
		RTPTime:     t.lastRTPTime,
		PacketCount: uint32(t.sent),
		OctetCount:  uint32(t.sentOctets),
	}
}

// ProcessSenderReport records a peer's sender report for the LSR/DLSR fields.
func (t *Tracker) ProcessSenderReport(sr *rtcp.SenderReport, arrival time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSRCompact = compactNTP(sr.NTPTime)
	t.lastSRArrival = arrival
}

// ProcessReceiverReport applies the peer's report about the local stream.
func (t *Tracker) ProcessReceiverReport(rr *rtcp.ReceiverReport, arrival time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range rr.Reports {
		if r.SSRC != t.ssrc {
			continue
		}
		t.reportsHandled++
		t.remoteLoss = float64(r.FractionLost) * 100 / 256
		t.remoteLost = uint64(r.TotalLost)
		t.remoteJitter = time.Duration(float64(r.Jitter) / float64(t.clockRate) * float64(time.Second))

		if r.LastSenderReport != 0 {
			a := compactNTP(ntpTime(arrival))
			if rtt := int64(a) - int64(r.LastSenderReport) - int64(r.Delay); rtt >= 0 {
				t.rtt = fromCompact(uint32(rtt))
			}
		}
	}
}

// ProcessPackets dispatches decoded RTCP packets.
func (t *Tracker) ProcessPackets(pkts []rtcp.Packet, arrival time.Time) {
	for _, p := range pkts {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			t.ProcessSenderReport(pkt, arrival)
			if len(pkt.Reports) > 0 {
				t.ProcessReceiverReport(&rtcp.ReceiverReport{SSRC: pkt.SSRC, Reports: pkt.Reports}, arrival)
			}
		case *rtcp.ReceiverReport:
			t.ProcessReceiverReport(pkt, arrival)
		}
	}
}

// InboundJitter returns the inbound inter-arrival jitter estimate.
func (t *Tracker) InboundJitter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.jitter / float64(t.clockRate) * float64(time.Second))
}

// InboundLost returns the cumulative number of inbound packets lost.
func (t *Tracker) InboundLost() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	expected := t.expectedLocked()
	if expected < t.received {
		return 0
	}
	return expected - t.received
}

// Stats reports the transport counters for the outbound stream.
func (t *Tracker) Stats() quality.TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return quality.TransportStats{
		RTT:             t.rtt,
		Jitter:          t.remoteJitter,
		PacketLoss:      t.remoteLoss,
		PacketsSent:     t.sent,
		PacketsReceived: t.received,
		PacketsLost:     t.remoteLost,
	}
}
