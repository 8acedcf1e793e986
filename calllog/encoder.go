package calllog

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder serializes records for transport.
type Encoder interface {
	Encode(rec Record) ([]byte, error)
	ContentType() string
}

// JSONEncoder encodes records as JSON.
type JSONEncoder struct{}

// Encode marshals rec as JSON.
func (JSONEncoder) Encode(rec Record) ([]byte, error) { return json.Marshal(rec) }

// ContentType returns the JSON media type.
func (JSONEncoder) ContentType() string { return "application/json" }

// MsgpackEncoder encodes records as MessagePack.
type MsgpackEncoder struct{}

// Encode marshals rec as MessagePack.
func (MsgpackEncoder) Encode(rec Record) ([]byte, error) { return msgpack.Marshal(rec) }

// ContentType returns the MessagePack media type.
func (MsgpackEncoder) ContentType() string { return "application/msgpack" }

// EncoderFor returns the encoder with the given name. The empty name
// selects JSON.
func EncoderFor(name string) (Encoder, error) {
	switch name {
	case "", "json":
		return JSONEncoder{}, nil
	case "msgpack":
		return MsgpackEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown call log encoding %q", name)
	}
}
