package calllog

import (
	"context"
	"time"
)

// Record is the telemetry written when a call ends.
type Record struct {
	SessionID         string    `json:"session_id" msgpack:"session_id"`
	ContactID         string    `json:"contact_id,omitempty" msgpack:"contact_id,omitempty"`
	RemoteIdentity    string    `json:"remote_identity" msgpack:"remote_identity"`
	Direction         string    `json:"direction" msgpack:"direction"`
	DurationSeconds   int       `json:"duration_seconds" msgpack:"duration_seconds"`
	FinalQualityScore int       `json:"final_quality_score" msgpack:"final_quality_score"`
	Codec             string    `json:"codec,omitempty" msgpack:"codec,omitempty"`
	NetworkClass      string    `json:"network_class,omitempty" msgpack:"network_class,omitempty"`
	EndedReason       string    `json:"ended_reason" msgpack:"ended_reason"`
	Error             string    `json:"error,omitempty" msgpack:"error,omitempty"`
	StartedAt         time.Time `json:"started_at" msgpack:"started_at"`
	EndedAt           time.Time `json:"ended_at" msgpack:"ended_at"`
}

// Sink receives finalized call records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}
