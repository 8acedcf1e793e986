// Package eventstream pushes call events to WebSocket clients and accepts
// control commands from them.
//
// Every connected client receives each event as one JSON text message:
//
//	{"type":"state","session_id":"...","data":{"from":"ringing","to":"connected",...}}
//
// Clients send commands as JSON objects with an "op" field (dial, hangup,
// mute, hold, digits, accept, reject). Each command is answered with a
// "reply" message carrying the command id, so a UI can correlate results.
package eventstream
