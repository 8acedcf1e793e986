package calllog

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemorySink retains records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends rec.
func (s *MemorySink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

// LogSink writes records to the log. It is the fallback when no broker is
// configured.
type LogSink struct{}

// Write logs rec at Info level.
func (LogSink) Write(ctx context.Context, rec Record) error {
	logrus.WithFields(logrus.Fields{
		"function":      "LogSink.Write",
		"session_id":    rec.SessionID,
		"remote":        rec.RemoteIdentity,
		"direction":     rec.Direction,
		"duration_s":    rec.DurationSeconds,
		"quality_score": rec.FinalQualityScore,
		"codec":         rec.Codec,
		"network_class": rec.NetworkClass,
		"reason":        rec.EndedReason,
	}).Info("Call record")
	return nil
}

// Close is a no-op.
func (LogSink) Close() error { return nil }
