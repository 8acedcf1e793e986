// Package softphone is a browser-style VoIP softphone core: it registers a
// device, places and answers calls, enhances microphone audio in real time,
// samples call quality and adapts the codec to the network.
//
// # Getting Started
//
//	cfg, err := config.Load("softphone.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	phone, err := softphone.New(context.Background(), cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer phone.Close()
//
//	phone.OnStateChange(func(state call.State, meta call.CallMeta) {
//		fmt.Printf("%s: %s\n", meta.SessionID, state)
//	})
//	id, err := phone.InitiateCall(ctx, "+15550100", "crm-contact-42")
//
// # Architecture
//
// Phone wires the components together from a config.Config:
//
//   - device: registration, token refresh and the call handles of the SDK
//   - call: the per-call state machine and the single-call Manager
//   - audio, vad, quality: the capture pipeline and its feedback loop
//   - network, codec: bitrate targets and codec profile selection
//   - calllog, metrics: call records and Prometheus collectors
//   - eventstream: a WebSocket endpoint for a UI
//
// Only one call may be connecting, ringing or connected at a time. A second
// InitiateCall fails with call.ErrCallInProgress and a second inbound call is
// rejected as busy.
//
// # Thread Safety
//
// All Phone methods are safe for concurrent use. State and quality
// callbacks run on a single dispatch goroutine; a slow callback delays later
// callbacks but never the calls themselves.
package softphone
