package eventstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opd-ai/softphone/call"
)

// Envelope is the wire form of every server message.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data"`
}

// MetaPayload is the JSON view of call.CallMeta.
type MetaPayload struct {
	Direction       string    `json:"direction"`
	State           string    `json:"state"`
	RemoteIdentity  string    `json:"remote_identity"`
	ContactID       string    `json:"contact_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	ConnectedAt     time.Time `json:"connected_at,omitempty"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Muted           bool      `json:"muted"`
	OnHold          bool      `json:"on_hold"`
	Codec           string    `json:"codec,omitempty"`
	NetworkClass    string    `json:"network_class,omitempty"`
	TargetBitrate   uint32    `json:"target_bitrate,omitempty"`
	JitterBufferMs  int       `json:"jitter_buffer_ms,omitempty"`
	PLCEnabled      bool      `json:"plc_enabled"`
	EndReason       string    `json:"end_reason,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type statePayload struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	At   time.Time   `json:"at"`
	Meta MetaPayload `json:"meta"`
}

type qualityPayload struct {
	Score        int     `json:"score"`
	SNR          float64 `json:"snr"`
	Signal       float64 `json:"signal"`
	Noise        float64 `json:"noise"`
	Clipping     bool    `json:"clipping"`
	Voice        bool    `json:"voice"`
	RTTMs        int64   `json:"rtt_ms"`
	JitterMs     int64   `json:"jitter_ms"`
	PacketLoss   float64 `json:"packet_loss"`
	QualityLevel string  `json:"level"`
}

type warningPayload struct {
	Name   string    `json:"name"`
	Active bool      `json:"active"`
	At     time.Time `json:"at"`
}

type codecPayload struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type voicePayload struct {
	Speaking bool      `json:"speaking"`
	At       time.Time `json:"at"`
}

type durationPayload struct {
	Seconds int `json:"seconds"`
}

type networkPayload struct {
	EffectiveType  string    `json:"effective_type"`
	Class          string    `json:"class"`
	TargetBitrate  uint32    `json:"target_bitrate"`
	JitterBufferMs int       `json:"jitter_buffer_ms"`
	PLCEnabled     bool      `json:"plc_enabled"`
	RTTMs          float64   `json:"rtt_ms"`
	At             time.Time `json:"at"`
}

// NewMetaPayload converts a session snapshot.
func NewMetaPayload(m call.CallMeta) MetaPayload {
	p := MetaPayload{
		Direction:       string(m.Direction),
		State:           m.State.String(),
		RemoteIdentity:  m.RemoteIdentity,
		ContactID:       m.ContactID,
		StartedAt:       m.StartedAt,
		ConnectedAt:     m.ConnectedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.DurationSeconds,
		Muted:           m.Muted,
		OnHold:          m.OnHold,
		Codec:           m.Codec,
		NetworkClass:    m.NetworkClass,
		TargetBitrate:   m.TargetBitrate,
		JitterBufferMs:  m.JitterBufferMs,
		PLCEnabled:      m.PLCEnabled,
		EndReason:       string(m.EndReason),
	}
	if m.Err != nil {
		p.Error = m.Err.Error()
	}
	return p
}

// Encode renders a call event as a JSON envelope.
func Encode(ev call.Event) ([]byte, error) {
	env := Envelope{SessionID: ev.Session()}
	switch e := ev.(type) {
	case call.StateChanged:
		env.Type = "state"
		env.Data = statePayload{From: e.From.String(), To: e.To.String(), At: e.At, Meta: NewMetaPayload(e.Meta)}
	case call.QualityUpdated:
		env.Type = "quality"
		m := e.Metrics
		env.Data = qualityPayload{
			Score:        m.CompositeScore,
			SNR:          m.SNR,
			Signal:       m.SignalStrength,
			Noise:        m.NoiseLevel,
			Clipping:     m.ClippingDetected,
			Voice:        m.VoicePresent,
			RTTMs:        m.Transport.RTT.Milliseconds(),
			JitterMs:     m.Transport.Jitter.Milliseconds(),
			PacketLoss:   m.Transport.PacketLoss,
			QualityLevel: m.Level().String(),
		}
	case call.NetworkWarning:
		env.Type = "network-warning"
		env.Data = warningPayload{Name: e.Name, Active: e.Active, At: e.At}
	case call.CodecChanged:
		env.Type = "codec"
		env.Data = codecPayload{From: e.From, To: e.To, Reason: e.Reason}
	case call.VoiceActivity:
		env.Type = "voice"
		env.Data = voicePayload{Speaking: e.Speaking, At: e.At}
	case call.DurationTick:
		env.Type = "duration"
		env.Data = durationPayload{Seconds: e.Seconds}
	case call.NetworkProfileChanged:
		p := e.Profile
		env.Type = "network"
		env.Data = networkPayload{
			EffectiveType:  string(p.EffectiveType),
			Class:          p.Class.String(),
			TargetBitrate:  p.TargetBitrate,
			JitterBufferMs: p.JitterBufferMs,
			PLCEnabled:     p.PLCEnabled,
			RTTMs:          p.RTTMs,
			At:             e.At,
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return json.Marshal(env)
}

// Command is a client request.
type Command struct {
	ID        string `json:"id,omitempty"`
	Op        string `json:"op"`
	Number    string `json:"number,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Digits    string `json:"digits,omitempty"`
}

// Reply answers one command.
type Reply struct {
	ID        string `json:"id,omitempty"`
	Op        string `json:"op"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	OnHold    *bool  `json:"on_hold,omitempty"`
}
