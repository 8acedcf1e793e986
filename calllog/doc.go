// Package calllog persists one record per finished call.
//
// A Record is written to a Sink when a session is finalized. Sinks exist
// for AMQP (durable queue, persistent messages), memory (tests and the
// demo CLI) and the log. Records are encoded as JSON by default or as
// MessagePack.
package calllog
