package softphone

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/opd-ai/softphone/call"
	"github.com/opd-ai/softphone/calllog"
	"github.com/opd-ai/softphone/config"
	"github.com/opd-ai/softphone/device"
	"github.com/opd-ai/softphone/eventstream"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/opd-ai/softphone/metrics"
	"github.com/opd-ai/softphone/mic"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/sirupsen/logrus"
)

// Phone is the UI and CRM facing softphone.
type Phone struct {
	mu         sync.Mutex
	config     *config.Config
	clock      clock.Clock
	sdk        device.Registrar
	registrar  *device.DeviceRegistrar
	manager    *call.Manager
	sink       calllog.Sink
	hub        *eventstream.Hub
	servers    map[string]*http.Server
	addrs      map[string]string
	stateCbs   []func(call.State, call.CallMeta)
	qualityCbs []func(quality.Metrics)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New builds a phone from cfg and registers the device. A failed
// registration is logged and retried on the next InitiateCall. A nil cfg
// uses config.Default.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Phone, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	clk := clock.OrReal(o.clock)

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"transport": cfg.Device.Transport,
		"identity":  cfg.Device.Identity,
		"mic":       cfg.Mic.Source,
	}).Info("Creating softphone")

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	sdk := o.sdk
	if sdk == nil {
		if cfg.Device.Transport == config.TransportExternal {
			return nil, errors.New("external transport requires a registrar option")
		}
		sdk = device.NewSimulatedRegistrar(simulatedConfig(cfg), clk)
	}
	tokens := o.tokens
	if tokens == nil {
		tokens = tokenSource(cfg, clk)
	}
	registrar := device.NewDeviceRegistrar(sdk, tokens, &device.Config{
		RefreshBuffer:   cfg.Device.RefreshBuffer,
		MinRefreshDelay: 5 * time.Second,
		RegisterTimeout: 10 * time.Second,
	}, clk)

	sink := o.sink
	if sink == nil {
		var err error
		if sink, err = buildSink(cfg.CallLog); err != nil {
			_ = registrar.Close()
			return nil, err
		}
	}

	sources := o.sources
	if sources == nil {
		sources = mic.Factory{
			Source: cfg.Mic.Source,
			Tone:   mic.ToneConfig{FrequencyHz: cfg.Mic.ToneHz, Amplitude: cfg.Mic.Amplitude},
			Clock:  clk,
		}
	}

	manager, err := call.NewManager(registrar, sources, callConfig(cfg),
		call.WithClock(clk),
		call.WithSink(sink),
		call.WithNetworkInfo(network.Info{
			EffectiveType: network.EffectiveType(cfg.Network.EffectiveType),
			DownlinkMbps:  cfg.Network.DownlinkMbps,
			RTTMs:         float64(cfg.Network.RTTMs),
		}),
		call.WithCPULoad(cfg.Network.CPULoad),
	)
	if err != nil {
		_ = registrar.Close()
		_ = sink.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p := &Phone{
		config:    cfg,
		clock:     clk,
		sdk:       sdk,
		registrar: registrar,
		manager:   manager,
		sink:      sink,
		servers:   make(map[string]*http.Server),
		addrs:     make(map[string]string),
		ctx:       runCtx,
		cancel:    cancel,
	}

	registrar.SetIncomingHandler(manager.HandleIncoming)
	registrar.SetStateCallback(func(s device.State) {
		logrus.WithFields(logrus.Fields{
			"function": "Phone.registrarState",
			"state":    s.String(),
		}).Info("Device registration state changed")
	})

	events, unsubscribe := manager.Bus().Subscribe(cfg.Call.EventBuffer)
	p.wg.Add(1)
	go p.dispatch(events, unsubscribe)

	if err := p.startServers(); err != nil {
		_ = p.Close()
		return nil, err
	}

	err = registrar.Register(ctx)
	metrics.RecordRegistration(err)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"error":    err.Error(),
		}).Warn("Initial device registration failed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"ready":    registrar.Ready(),
	}).Info("Softphone created successfully")
	return p, nil
}

func simulatedConfig(cfg *config.Config) device.SimulatedConfig {
	sim := device.DefaultSimulatedConfig()
	sim.RingDelay = cfg.Device.RingDelay
	sim.AnswerDelay = cfg.Device.AnswerDelay
	sim.AutoAnswer = cfg.Device.AutoAnswer
	sim.DropEvery = cfg.Device.DropEvery
	sim.ClockRate = uint32(cfg.Audio.SampleRate)
	return sim
}

func tokenSource(cfg *config.Config, clk clock.Clock) device.TokenSource {
	if cfg.Device.TokenURL != "" {
		return &device.HTTPTokenSource{Endpoint: cfg.Device.TokenURL}
	}
	return &device.LocalTokenSource{
		Secret:   []byte(cfg.Device.TokenSecret),
		Identity: cfg.Device.Identity,
		TTL:      cfg.Device.TokenTTL,
		Now:      clk.Now,
	}
}

func buildSink(cfg config.CallLogConfig) (calllog.Sink, error) {
	switch cfg.Sink {
	case "memory":
		return calllog.NewMemorySink(), nil
	case "amqp":
		enc, err := calllog.EncoderFor(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		return calllog.NewAMQPSink(calllog.AMQPConfig{URL: cfg.AMQPURL, Queue: cfg.Queue}, enc)
	default:
		return calllog.LogSink{}, nil
	}
}

func callConfig(cfg *config.Config) *call.Config {
	cc := call.DefaultConfig()
	cc.DialTimeout = cfg.Call.DialTimeout
	cc.TeardownTimeout = cfg.Call.TeardownTimeout
	cc.TelemetryFlushTimeout = cfg.Call.TelemetryFlushTimeout
	cc.DigitQueueSize = cfg.Call.DigitQueueSize
	cc.Pipeline.SampleRate = cfg.Audio.SampleRate
	cc.Pipeline.Channels = cfg.Audio.Channels
	cc.Pipeline.FrameSize = cfg.Audio.FrameSize
	if cfg.Audio.FrameBudget > 0 {
		cc.FrameBudget = cfg.Audio.FrameBudget
	}
	cc.Quality.TickInterval = cfg.Quality.Interval
	cc.Quality.HistorySize = cfg.Quality.HistorySize
	return cc
}

// dispatch delivers bus events to the registered callbacks.
func (p *Phone) dispatch(events <-chan call.Event, unsubscribe func()) {
	defer p.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case call.StateChanged:
				p.mu.Lock()
				cbs := append(([]func(call.State, call.CallMeta))(nil), p.stateCbs...)
				p.mu.Unlock()
				for _, cb := range cbs {
					cb(e.To, e.Meta)
				}
			case call.QualityUpdated:
				p.mu.Lock()
				cbs := append(([]func(quality.Metrics))(nil), p.qualityCbs...)
				p.mu.Unlock()
				for _, cb := range cbs {
					cb(e.Metrics)
				}
			}
		}
	}
}

func (p *Phone) startServers() error {
	if p.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := p.serve("metrics", p.config.Metrics.Addr, mux); err != nil {
			return err
		}
	}
	if p.config.Events.Enabled {
		hubCfg := eventstream.DefaultConfig()
		hubCfg.AllowedOrigins = p.config.Events.AllowedOrigins
		hubCfg.Token = p.config.Events.Token
		p.hub = eventstream.NewHub(p, hubCfg)
		events, unsubscribe := p.manager.Bus().Subscribe(p.config.Call.EventBuffer)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer unsubscribe()
			p.hub.Run(p.ctx, events)
		}()
		mux := http.NewServeMux()
		mux.Handle("/events", p.hub)
		if err := p.serve("events", p.config.Events.Addr, mux); err != nil {
			return err
		}
	}
	return nil
}

func (p *Phone) serve(name, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	p.mu.Lock()
	p.servers[name] = srv
	p.addrs[name] = ln.Addr().String()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Phone.serve",
				"server":   name,
				"error":    err.Error(),
			}).Error("HTTP server failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Phone.serve",
		"server":   name,
		"addr":     ln.Addr().String(),
	}).Info("HTTP endpoint listening")
	return nil
}

// Addr returns the listen address of the "metrics" or "events" endpoint,
// or "" when it is disabled.
func (p *Phone) Addr(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addrs[name]
}

// InitiateCall dials number and returns the new session ID.
func (p *Phone) InitiateCall(ctx context.Context, number, contactID string) (string, error) {
	return p.manager.InitiateCall(ctx, number, contactID)
}

// Hangup ends the active call.
func (p *Phone) Hangup() error { return p.manager.Hangup() }

// Accept answers the ringing inbound call.
func (p *Phone) Accept(ctx context.Context) error { return p.manager.Accept(ctx) }

// Reject declines the ringing inbound call.
func (p *Phone) Reject() error { return p.manager.Reject() }

// ToggleMute flips mute and returns the new value.
func (p *Phone) ToggleMute() bool { return p.manager.ToggleMute() }

// ToggleHold flips hold and returns the new value.
func (p *Phone) ToggleHold() bool { return p.manager.ToggleHold() }

// SendDigits sends DTMF tones on the active call.
func (p *Phone) SendDigits(digits string) error { return p.manager.SendDigits(digits) }

// SetNetworkInfo reports new network signals from the platform.
func (p *Phone) SetNetworkInfo(info network.Info) { p.manager.SetNetworkInfo(info) }

// Active returns the current session, or nil.
func (p *Phone) Active() *call.Session { return p.manager.Active() }

// Ready reports whether the device is registered.
func (p *Phone) Ready() bool { return p.registrar.Ready() }

// Simulator returns the simulated transport, or nil for an external SDK.
func (p *Phone) Simulator() *device.SimulatedRegistrar {
	sim, _ := p.sdk.(*device.SimulatedRegistrar)
	return sim
}

// OnStateChange registers a callback for every state transition.
func (p *Phone) OnStateChange(cb func(call.State, call.CallMeta)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateCbs = append(p.stateCbs, cb)
}

// OnQualityUpdate registers a callback for every quality sample.
func (p *Phone) OnQualityUpdate(cb func(quality.Metrics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qualityCbs = append(p.qualityCbs, cb)
}

// Subscribe returns a typed event channel. Call the returned function to
// unsubscribe.
func (p *Phone) Subscribe(buffer int) (<-chan call.Event, func()) {
	return p.manager.Bus().Subscribe(buffer)
}

// Close hangs up, unregisters the device, flushes the call log and stops
// the HTTP endpoints.
func (p *Phone) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	servers := make([]*http.Server, 0, len(p.servers))
	for _, srv := range p.servers {
		servers = append(servers, srv)
	}
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Phone.Close",
	}).Info("Closing softphone")

	errs := []error{p.manager.Close(), p.registrar.Close()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	p.cancel()
	p.manager.Bus().Close()
	p.wg.Wait()
	errs = append(errs, p.sink.Close())

	err := errors.Join(errs...)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Phone.Close",
			"error":    err.Error(),
		}).Warn("Softphone closed with errors")
	}
	return err
}
