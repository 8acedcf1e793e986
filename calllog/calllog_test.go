package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleRecord() Record {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		SessionID:         "sess-1",
		ContactID:         "contact-9",
		RemoteIdentity:    "+15551234567",
		Direction:         "outbound",
		DurationSeconds:   42,
		FinalQualityScore: 87,
		Codec:             "opus-wideband-stereo",
		NetworkClass:      "good",
		EndedReason:       "hangup",
		StartedAt:         start,
		EndedAt:           start.Add(45 * time.Second),
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestEncoderFor(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{"", "application/json", false},
		{"json", "application/json", false},
		{"msgpack", "application/msgpack", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := EncoderFor(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.contentType, enc.ContentType())
		})
	}
}

func TestJSONFieldNames(t *testing.T) {
	body, err := JSONEncoder{}.Encode(sampleRecord())
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, float64(87), fields["final_quality_score"])
	assert.NotContains(t, fields, "error")
}

func TestMsgpackEncoding(t *testing.T) {
	rec := sampleRecord()
	body, err := MsgpackEncoder{}.Encode(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, msgpack.Unmarshal(body, &got))
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.True(t, rec.EndedAt.Equal(got.EndedAt))
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Write(context.Background(), sampleRecord()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Write(ctx, sampleRecord()), context.Canceled)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "hangup", records[0].EndedReason)
}

func TestAMQPSinkPublishesPersistent(t *testing.T) {
	ch := &fakeChannel{}
	sink := newAMQPSink(AMQPConfig{Queue: "calls"}, MsgpackEncoder{}, ch)

	require.NoError(t, sink.Write(context.Background(), sampleRecord()))
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "calls", ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/msgpack", msg.ContentType)
	assert.Equal(t, "sess-1", msg.MessageId)
}

func TestAMQPSinkErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	sink := newAMQPSink(AMQPConfig{Queue: "calls"}, nil, ch)
	assert.Error(t, sink.Write(context.Background(), sampleRecord()))

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
	assert.ErrorIs(t, sink.Write(context.Background(), sampleRecord()), ErrSinkClosed)
	assert.NoError(t, sink.Close())
}

func TestNewAMQPSinkRequiresConfig(t *testing.T) {
	_, err := NewAMQPSink(AMQPConfig{}, nil)
	assert.Error(t, err)
}
