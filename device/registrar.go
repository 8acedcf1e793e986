package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/softphone/internal/clock"
	"github.com/sirupsen/logrus"
)

// Config controls registration and token refresh.
type Config struct {
	RefreshBuffer   time.Duration // refresh this long before expiry (default: 60s)
	MinRefreshDelay time.Duration // lower bound on the refresh delay (default: 5s)
	RegisterTimeout time.Duration // bound on one registration attempt (default: 10s)
}

// DefaultConfig returns the default registrar configuration.
func DefaultConfig() *Config {
	return &Config{
		RefreshBuffer:   60 * time.Second,
		MinRefreshDelay: 5 * time.Second,
		RegisterTimeout: 10 * time.Second,
	}
}

// DeviceRegistrar owns the device registration and token lifecycle.
type DeviceRegistrar struct {
	mu        sync.RWMutex
	config    *Config
	sdk       Registrar
	tokens    TokenSource
	clock     clock.Clock
	state     State
	expiresAt time.Time
	refresh   clock.Timer
	closed    bool

	incomingHandler func(Handle)
	stateCallback   func(State)

	watchOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDeviceRegistrar creates an adapter around an SDK registrar.
func NewDeviceRegistrar(sdk Registrar, tokens TokenSource, config *Config, clk clock.Clock) *DeviceRegistrar {
	if config == nil {
		config = DefaultConfig()
	}
	logrus.WithFields(logrus.Fields{
		"function":          "NewDeviceRegistrar",
		"refresh_buffer_ms": config.RefreshBuffer.Milliseconds(),
	}).Info("Creating device registrar")

	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceRegistrar{
		config: config,
		sdk:    sdk,
		tokens: tokens,
		clock:  clock.OrReal(clk),
		state:  StateUnregistered,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetIncomingHandler registers the receiver of incoming call handles.
func (d *DeviceRegistrar) SetIncomingHandler(fn func(Handle)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.incomingHandler = fn
}

// SetStateCallback registers a hook invoked on registration state changes.
func (d *DeviceRegistrar) SetStateCallback(fn func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateCallback = fn
}

// State returns the registration state.
func (d *DeviceRegistrar) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Ready reports whether calls can be placed.
func (d *DeviceRegistrar) Ready() bool {
	return d.State() == StateReady
}

// ExpiresAt returns the current token's expiry.
func (d *DeviceRegistrar) ExpiresAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.expiresAt
}

func (d *DeviceRegistrar) setState(s State) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	old := d.state
	d.state = s
	cb := d.stateCallback
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "DeviceRegistrar.setState",
		"from":     old.String(),
		"to":       s.String(),
	}).Info("Device registration state changed")
	if cb != nil {
		cb(s)
	}
}

// Register fetches a token, registers the device and schedules the refresh.
func (d *DeviceRegistrar) Register(ctx context.Context) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	d.setState(StateRegistering)
	if err := d.registerOnce(ctx); err != nil {
		d.setState(StateFailed)
		logrus.WithFields(logrus.Fields{
			"function": "DeviceRegistrar.Register",
			"error":    err.Error(),
		}).Error("Device registration failed")
		return err
	}
	d.setState(StateReady)
	d.watchOnce.Do(d.startWatch)
	return nil
}

func (d *DeviceRegistrar) registerOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.RegisterTimeout)
	defer cancel()

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}
	if err := d.sdk.Register(ctx, token); err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	expiry, err := TokenExpiry(token)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeviceRegistrar.registerOnce",
			"error":    err.Error(),
		}).Warn("Token expiry unknown, relying on SDK expiry notice")
		return nil
	}
	d.scheduleRefresh(expiry)
	return nil
}

func (d *DeviceRegistrar) scheduleRefresh(expiry time.Time) {
	delay := expiry.Sub(d.clock.Now()) - d.config.RefreshBuffer
	if delay < d.config.MinRefreshDelay {
		delay = d.config.MinRefreshDelay
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.expiresAt = expiry
	if d.refresh != nil {
		d.refresh.Stop()
	}
	if d.closed {
		return
	}
	d.refresh = d.clock.AfterFunc(delay, func() {
		if err := d.Refresh(d.ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DeviceRegistrar.refresh",
				"error":    err.Error(),
			}).Error("Scheduled token refresh failed")
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":   "DeviceRegistrar.scheduleRefresh",
		"expires_at": expiry,
		"refresh_in": delay.String(),
	}).Debug("Token refresh scheduled")
}

// Refresh re-registers with a fresh token without leaving the Ready state
// unless the refresh fails.
func (d *DeviceRegistrar) Refresh(ctx context.Context) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeviceRegistrar.Refresh",
	}).Info("Refreshing device token")
	if err := d.registerOnce(ctx); err != nil {
		d.setState(StateFailed)
		return err
	}
	d.setState(StateReady)
	return nil
}

// Connect places an outbound call. The device must be Ready.
func (d *DeviceRegistrar) Connect(ctx context.Context, params ConnectParams) (Handle, error) {
	if !d.Ready() {
		return nil, ErrNotReady
	}
	return d.sdk.Connect(ctx, params)
}

func (d *DeviceRegistrar) startWatch() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case h, ok := <-d.sdk.Incoming():
				if !ok {
					return
				}
				d.mu.RLock()
				handler := d.incomingHandler
				d.mu.RUnlock()
				if handler == nil {
					logrus.WithFields(logrus.Fields{
						"function": "DeviceRegistrar.watch",
						"remote":   h.RemoteIdentity(),
					}).Warn("Incoming call with no handler, rejecting")
					_ = h.Reject()
					continue
				}
				handler(h)
			case <-d.sdk.TokenWillExpire():
				if err := d.Refresh(d.ctx); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "DeviceRegistrar.watch",
						"error":    err.Error(),
					}).Error("Token refresh after expiry notice failed")
				}
			}
		}
	}()
}

// Close stops refresh and watchers and closes the SDK registrar.
func (d *DeviceRegistrar) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.refresh != nil {
		d.refresh.Stop()
	}
	d.mu.Unlock()

	d.cancel()
	err := d.sdk.Close()
	d.wg.Wait()
	d.setState(StateUnregistered)
	return err
}
