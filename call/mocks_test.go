package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/calllog"
	"github.com/opd-ai/softphone/device"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockHandle struct {
	mu           sync.Mutex
	remote       string
	events       chan device.HandleEvent
	accepted     int
	rejected     int
	disconnected int
	muted        bool
	held         bool
	digits       []string
	offers       [][]byte
	profiles     []network.Profile
	frames       atomic.Int64
	inbound      chan *rtp.Packet
}

func newMockHandle(remote string) *mockHandle {
	return &mockHandle{
		remote:  remote,
		events:  make(chan device.HandleEvent, 16),
		inbound: make(chan *rtp.Packet, 4),
	}
}

func (h *mockHandle) emit(kind device.EventKind) {
	h.events <- device.HandleEvent{Kind: kind}
}

func (h *mockHandle) RemoteIdentity() string { return h.remote }

func (h *mockHandle) Accept(ctx context.Context) error {
	h.mu.Lock()
	h.accepted++
	h.mu.Unlock()
	h.emit(device.EventAccept)
	return nil
}

func (h *mockHandle) Reject() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected++
	return nil
}

func (h *mockHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
	if h.disconnected > 1 {
		return device.ErrHandleClosed
	}
	return nil
}

func (h *mockHandle) Mute(muted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = muted
	return nil
}

func (h *mockHandle) Hold(onHold bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = onHold
	return nil
}

func (h *mockHandle) SendDigits(digits string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digits = append(h.digits, digits)
	return nil
}

func (h *mockHandle) Renegotiate(ctx context.Context, offer []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offers = append(h.offers, offer)
	return nil
}

func (h *mockHandle) ApplyProfile(p network.Profile) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.profiles = append(h.profiles, p)
	return nil
}

func (h *mockHandle) appliedProfiles() []network.Profile {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]network.Profile(nil), h.profiles...)
}

func (h *mockHandle) WriteFrame(frame []int16) error {
	h.frames.Add(1)
	return nil
}

func (h *mockHandle) Events() <-chan device.HandleEvent { return h.events }

func (h *mockHandle) Stats() quality.TransportStats { return quality.TransportStats{} }

func (h *mockHandle) InboundRTP() <-chan *rtp.Packet { return h.inbound }

func (h *mockHandle) snapshot() (accepted, rejected, disconnected int, digits []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted, h.rejected, h.disconnected, append([]string(nil), h.digits...)
}

type mockRegistrar struct {
	ready      atomic.Bool
	registers  atomic.Int32
	handle     *mockHandle
	connectErr error
	params     device.ConnectParams
}

func (r *mockRegistrar) Ready() bool { return r.ready.Load() }

func (r *mockRegistrar) Register(ctx context.Context) error {
	r.registers.Add(1)
	r.ready.Store(true)
	return nil
}

func (r *mockRegistrar) Connect(ctx context.Context, params device.ConnectParams) (device.Handle, error) {
	r.params = params
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.handle, nil
}

// blockingSource never produces a frame; it returns when ctx is done.
type blockingSource struct{ closed atomic.Bool }

func (s *blockingSource) ReadFrame(ctx context.Context, frame []int16) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingSource) Close() error {
	s.closed.Store(true)
	return nil
}

type failingSource struct{}

func (failingSource) ReadFrame(ctx context.Context, frame []int16) error {
	return errors.New("microphone unplugged")
}

func (failingSource) Close() error { return nil }

type fixture struct {
	manager   *Manager
	registrar *mockRegistrar
	handle    *mockHandle
	source    *blockingSource
	sink      *calllog.MemorySink
	clock     *clock.Manual
	events    <-chan Event
}

func newFixture(t *testing.T, src audio.Source) *fixture {
	t.Helper()
	f := &fixture{
		registrar: &mockRegistrar{handle: newMockHandle("+15550100")},
		source:    &blockingSource{},
		sink:      calllog.NewMemorySink(),
		clock:     clock.NewManual(testStart),
	}
	f.handle = f.registrar.handle
	f.registrar.ready.Store(true)
	if src == nil {
		src = f.source
	}
	sources := SourceFactoryFunc(func(ctx context.Context, layout audio.PipelineConfig) (audio.Source, error) {
		return src, nil
	})

	m, err := NewManager(f.registrar, sources, DefaultConfig(), WithClock(f.clock), WithSink(f.sink))
	require.NoError(t, err)
	f.manager = m

	events, unsubscribe := m.Bus().Subscribe(256)
	f.events = events
	t.Cleanup(func() {
		unsubscribe()
		_ = m.Close()
	})
	return f
}

func (f *fixture) waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 5*time.Millisecond,
		"session did not reach %s", want)
}

// waitMedia waits until the duration and quality tickers are running.
func (f *fixture) waitMedia(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return f.clock.ActiveTickers() == 2 }, 2*time.Second, 5*time.Millisecond)
}

// drain returns the buffered events of type T.
func drain[T Event](events <-chan Event) []T {
	var out []T
	for {
		select {
		case ev := <-events:
			if v, ok := ev.(T); ok {
				out = append(out, v)
			}
		default:
			return out
		}
	}
}

func only[T Event](events []Event) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func stateSequence(changes []StateChanged) []State {
	out := make([]State, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.To)
	}
	return out
}
