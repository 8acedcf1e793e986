package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/softphone/calllog"
	"github.com/opd-ai/softphone/device"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/opd-ai/softphone/metrics"
	"github.com/opd-ai/softphone/network"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/opd-ai/softphone/call"

// Registrar is the registration surface the manager needs.
// device.DeviceRegistrar implements it.
type Registrar interface {
	Ready() bool
	Register(ctx context.Context) error
	Connect(ctx context.Context, params device.ConnectParams) (device.Handle, error)
}

// Manager enforces a single active call and creates sessions.
type Manager struct {
	mu        sync.Mutex
	config    *Config
	registrar Registrar
	sources   SourceFactory
	sink      calllog.Sink
	bus       *Bus
	clock     clock.Clock
	tracer    trace.Tracer
	active    *Session
	closed    bool

	sigMu   sync.RWMutex
	netInfo network.Info
	cpuLoad float64

	registering atomic.Bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrReal(c) }
}

// WithSink sets the call record sink.
func WithSink(s calllog.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithBus shares an existing event bus.
func WithBus(b *Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithTracer sets the tracer for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithNetworkInfo seeds the network signals.
func WithNetworkInfo(info network.Info) Option {
	return func(m *Manager) { m.netInfo = info }
}

// WithCPULoad seeds the baseline CPU load fraction.
func WithCPULoad(load float64) Option {
	return func(m *Manager) { m.cpuLoad = load }
}

// NewManager creates a call manager.
func NewManager(registrar Registrar, sources SourceFactory, config *Config, opts ...Option) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewManager",
	}).Info("Creating call manager")

	if registrar == nil {
		return nil, errors.New("registrar cannot be nil")
	}
	if sources == nil {
		return nil, errors.New("source factory cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("call config: %w", err)
	}

	m := &Manager{
		config:    config,
		registrar: registrar,
		sources:   sources,
		sink:      calllog.LogSink{},
		bus:       NewBus(),
		clock:     clock.Real{},
		tracer:    otel.Tracer(tracerName),
		netInfo:   network.Info{EffectiveType: network.FourG},
	}
	for _, opt := range opts {
		opt(m)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"dial_timeout":   config.DialTimeout.String(),
		"digit_queue":    config.DigitQueueSize,
		"effective_type": string(m.netInfo.EffectiveType),
		"frame_size":     config.Pipeline.FrameSize,
	}).Info("Call manager created successfully")
	return m, nil
}

// Bus returns the event bus.
func (m *Manager) Bus() *Bus { return m.bus }

// Active returns the current session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) busyLocked() bool {
	return m.active != nil && !m.active.State().Terminal()
}

// InitiateCall dials number. It fails fast with ErrDeviceNotReady (and
// starts a re-registration) or ErrCallInProgress.
func (m *Manager) InitiateCall(ctx context.Context, number, contactID string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "Manager.InitiateCall",
		"number":     number,
		"contact_id": contactID,
	}).Info("Initiating call")

	if !m.registrar.Ready() {
		m.reregister()
		return "", ErrDeviceNotReady
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	if m.busyLocked() {
		activeID := m.active.ID()
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.InitiateCall",
			"active":   activeID,
		}).Warn("Call already in progress")
		return "", ErrCallInProgress
	}
	s, err := newSession(m, Outbound, number, contactID, nil)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.active = s
	m.mu.Unlock()

	s.adapt(zeroStats)
	if err := s.advance(StateConnecting, ReasonNone, nil); err != nil {
		return "", err
	}

	h, err := m.registrar.Connect(ctx, device.ConnectParams{To: number, ContactID: contactID, SessionID: s.ID()})
	if err != nil {
		if errors.Is(err, device.ErrNotReady) {
			err = fmt.Errorf("%w: %w", ErrDeviceNotReady, err)
			m.reregister()
		}
		_ = s.advance(StateError, ReasonTransportError, err)
		return "", err
	}
	s.attach(h)
	return s.ID(), nil
}

// HandleIncoming takes an inbound handle from the registrar. While another
// call is active the handle is rejected as busy.
func (m *Manager) HandleIncoming(h device.Handle) {
	m.mu.Lock()
	if m.closed || m.busyLocked() {
		m.mu.Unlock()
		m.rejectBusy(h)
		return
	}
	s, err := newSession(m, Inbound, h.RemoteIdentity(), "", h)
	if err != nil {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.HandleIncoming",
			"error":    err.Error(),
		}).Error("Failed to create inbound session")
		_ = h.Reject()
		return
	}
	m.active = s
	m.mu.Unlock()

	s.adapt(zeroStats)
	if err := s.advance(StateRinging, ReasonNone, nil); err != nil {
		return
	}
	s.watch()
}

func (m *Manager) rejectBusy(h device.Handle) {
	remote := h.RemoteIdentity()
	if err := h.Reject(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.rejectBusy",
			"error":    err.Error(),
		}).Debug("Busy reject failed")
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.rejectBusy",
		"remote":   remote,
	}).Warn("Incoming call rejected, another call is active")

	now := m.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.config.TelemetryFlushTimeout)
	defer cancel()
	err := m.sink.Write(ctx, calllog.Record{
		SessionID:      uuid.NewString(),
		RemoteIdentity: remote,
		Direction:      string(Inbound),
		EndedReason:    string(ReasonBusy),
		StartedAt:      now,
		EndedAt:        now,
	})
	metrics.RecordCallLogWrite(err)
	metrics.RecordMissed(string(Inbound), string(ReasonBusy))
}

// reregister starts a background registration unless one is running.
func (m *Manager) reregister() {
	if !m.registering.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.registering.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := m.registrar.Register(ctx)
		metrics.RecordRegistration(err)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.reregister",
				"error":    err.Error(),
			}).Error("Device re-registration failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Manager.reregister",
		}).Info("Device re-registered")
	}()
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

func (m *Manager) current() (*Session, error) {
	s := m.Active()
	if s == nil || s.State().Terminal() {
		return nil, ErrNoActiveCall
	}
	return s, nil
}

// Hangup ends the active call.
func (m *Manager) Hangup() error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Hangup()
}

// Accept answers the ringing inbound call.
func (m *Manager) Accept(ctx context.Context) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Accept(ctx)
}

// Reject declines the ringing inbound call.
func (m *Manager) Reject() error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Reject()
}

// ToggleMute flips mute on the active call and returns the new flag.
func (m *Manager) ToggleMute() bool {
	s, err := m.current()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ToggleMute",
		}).Warn("No active call to mute")
		return false
	}
	return s.ToggleMute()
}

// ToggleHold flips hold on the active call and returns the new flag.
func (m *Manager) ToggleHold() bool {
	s, err := m.current()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ToggleHold",
		}).Warn("No active call to hold")
		return false
	}
	return s.ToggleHold()
}

// SendDigits queues DTMF on the active call.
func (m *Manager) SendDigits(tones string) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.SendDigits(tones)
}

// SetNetworkInfo updates the network signals and re-evaluates the active
// call's network profile and codec.
func (m *Manager) SetNetworkInfo(info network.Info) {
	m.sigMu.Lock()
	m.netInfo = info
	m.sigMu.Unlock()
	m.readapt()
}

// SetCPULoad updates the baseline CPU load fraction.
func (m *Manager) SetCPULoad(load float64) {
	m.sigMu.Lock()
	m.cpuLoad = load
	m.sigMu.Unlock()
	m.readapt()
}

func (m *Manager) readapt() {
	if s := m.Active(); s != nil && !s.State().Terminal() {
		s.adapt(zeroStats)
	}
}

func (m *Manager) signals() (network.Info, float64) {
	m.sigMu.RLock()
	defer m.sigMu.RUnlock()
	return m.netInfo, m.cpuLoad
}

// Close hangs up any active call and refuses new ones.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	s := m.active
	m.mu.Unlock()

	if s != nil {
		_ = s.Hangup()
		select {
		case <-s.Done():
		case <-time.After(m.config.TeardownTimeout + m.config.TelemetryFlushTimeout):
			logrus.WithFields(logrus.Fields{
				"function":   "Manager.Close",
				"session_id": s.ID(),
			}).Warn("Active call did not finish before close")
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Close",
	}).Info("Call manager closed")
	return nil
}
