package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/softphone/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingSource struct {
	inner TokenSource
	calls atomic.Int32
}

func (c *countingSource) Token(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return c.inner.Token(ctx)
}

func newTestRegistrar(t *testing.T) (*DeviceRegistrar, *SimulatedRegistrar, *countingSource, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testStart)
	sim := NewSimulatedRegistrar(DefaultSimulatedConfig(), clk)
	tokens := &countingSource{inner: &LocalTokenSource{
		Secret:   []byte("secret"),
		Identity: "alice",
		TTL:      10 * time.Minute,
		Now:      clk.Now,
	}}
	reg := NewDeviceRegistrar(sim, tokens, nil, clk)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, sim, tokens, clk
}

func TestDeviceRegistrarRegister(t *testing.T) {
	reg, sim, tokens, _ := newTestRegistrar(t)

	var mu sync.Mutex
	var states []State
	reg.SetStateCallback(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	require.NoError(t, reg.Register(context.Background()))
	assert.True(t, reg.Ready())
	assert.True(t, sim.Registered())
	assert.Equal(t, int32(1), tokens.calls.Load())
	assert.True(t, reg.ExpiresAt().Equal(testStart.Add(10*time.Minute)))

	mu.Lock()
	assert.Equal(t, []State{StateRegistering, StateReady}, states)
	mu.Unlock()
}

func TestDeviceRegistrarScheduledRefresh(t *testing.T) {
	reg, _, tokens, clk := newTestRegistrar(t)
	require.NoError(t, reg.Register(context.Background()))

	clk.Advance(8*time.Minute + 59*time.Second)
	assert.Equal(t, int32(1), tokens.calls.Load())

	clk.Advance(time.Second)
	assert.Equal(t, int32(2), tokens.calls.Load())
	assert.True(t, reg.Ready())
	assert.True(t, reg.ExpiresAt().Equal(testStart.Add(19*time.Minute)))
}

func TestDeviceRegistrarExpiryNotice(t *testing.T) {
	reg, sim, tokens, _ := newTestRegistrar(t)
	require.NoError(t, reg.Register(context.Background()))

	sim.ExpireToken()
	assert.Eventually(t, func() bool { return tokens.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestDeviceRegistrarRegisterFailure(t *testing.T) {
	clk := clock.NewManual(testStart)
	sim := NewSimulatedRegistrar(DefaultSimulatedConfig(), clk)
	boom := errors.New("token service down")
	reg := NewDeviceRegistrar(sim, TokenSourceFunc(func(context.Context) (string, error) {
		return "", boom
	}), nil, clk)
	defer reg.Close()

	err := reg.Register(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, reg.State())

	_, err = reg.Connect(context.Background(), ConnectParams{To: "bob"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDeviceRegistrarConnectRequiresReady(t *testing.T) {
	reg, _, _, _ := newTestRegistrar(t)

	_, err := reg.Connect(context.Background(), ConnectParams{To: "bob"})
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, reg.Register(context.Background()))
	h, err := reg.Connect(context.Background(), ConnectParams{To: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", h.RemoteIdentity())
}

func TestDeviceRegistrarIncoming(t *testing.T) {
	reg, sim, _, _ := newTestRegistrar(t)

	got := make(chan Handle, 1)
	reg.SetIncomingHandler(func(h Handle) { got <- h })
	require.NoError(t, reg.Register(context.Background()))

	_, err := sim.SimulateIncoming("carol")
	require.NoError(t, err)

	select {
	case h := <-got:
		assert.Equal(t, "carol", h.RemoteIdentity())
	case <-time.After(2 * time.Second):
		t.Fatal("incoming handle not delivered")
	}
}

func TestDeviceRegistrarClose(t *testing.T) {
	reg, _, _, _ := newTestRegistrar(t)
	require.NoError(t, reg.Register(context.Background()))

	require.NoError(t, reg.Close())
	assert.Equal(t, StateUnregistered, reg.State())
	assert.ErrorIs(t, reg.Register(context.Background()), ErrClosed)
	assert.NoError(t, reg.Close())
}
