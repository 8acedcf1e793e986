package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/softphone/audio"
	"github.com/opd-ai/softphone/calllog"
	"github.com/opd-ai/softphone/codec"
	"github.com/opd-ai/softphone/device"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/opd-ai/softphone/metrics"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/opd-ai/softphone/vad"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Session is one call. All state changes go through advance; control
// operations take the session mutex and are safe to call concurrently with
// the media loops.
type Session struct {
	mu        sync.Mutex
	m         *Manager
	id        string
	direction Direction
	state     State
	remote    string
	contactID string

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	duration    int
	muted       bool
	onHold      bool
	endReason   EndReason
	endErr      error
	codec       codec.Profile
	network     network.Profile
	hasNetwork  bool
	scores      []int

	handle device.Handle
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	dialTimer      clock.Timer
	durationTicker clock.Ticker
	qualityTicker  clock.Ticker
	digits         chan string
	mediaWG        sync.WaitGroup

	pipeline     *audio.Pipeline
	monitor      *quality.Monitor
	source       audio.Source
	adapter      *network.Adapter
	selector     *codec.Selector
	qualityTicks int
	remoteAudio  codec.RemoteAudio

	// adaptMu serializes adapt so profile and codec decisions commit in
	// the order they were made.
	adaptMu sync.Mutex

	finalizeOnce sync.Once
	done         chan struct{}
}

func newSession(m *Manager, dir Direction, remote, contactID string, h device.Handle) (*Session, error) {
	cfg := m.config
	selector, err := codec.NewSelector(cfg.Codec)
	if err != nil {
		return nil, err
	}
	selector.SetTimeProvider(m.clock)
	adapter := network.NewAdapter(cfg.Network)
	adapter.SetTimeProvider(m.clock)

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ctx, span := m.tracer.Start(ctx, "call.session", trace.WithAttributes(
		attribute.String("call.id", id),
		attribute.String("call.direction", string(dir)),
	))

	s := &Session{
		m:         m,
		id:        id,
		direction: dir,
		state:     StateIdle,
		remote:    remote,
		contactID: contactID,
		startedAt: m.clock.Now(),
		handle:    h,
		ctx:       ctx,
		cancel:    cancel,
		span:      span,
		digits:    make(chan string, cfg.DigitQueueSize),
		adapter:   adapter,
		selector:  selector,
		done:      make(chan struct{}),
	}
	metrics.CallStarted()

	logrus.WithFields(logrus.Fields{
		"function":   "newSession",
		"session_id": id,
		"direction":  string(dir),
		"remote":     remote,
	}).Info("Call session created")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Direction returns who placed the call.
func (s *Session) Direction() Direction { return s.direction }

// RemoteIdentity returns the far end identity.
func (s *Session) RemoteIdentity() string { return s.remote }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has been finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the cause of an error termination.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// EndReason returns why the call finished, or ReasonNone while it runs.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Meta returns a snapshot of the session.
func (s *Session) Meta() CallMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaLocked()
}

// QualityHistory returns the composite scores recorded so far.
func (s *Session) QualityHistory() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.scores...)
}

// Muted reports the mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// OnHold reports the hold flag.
func (s *Session) OnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onHold
}

func (s *Session) metaLocked() CallMeta {
	meta := CallMeta{
		SessionID:       s.id,
		Direction:       s.direction,
		State:           s.state,
		RemoteIdentity:  s.remote,
		ContactID:       s.contactID,
		StartedAt:       s.startedAt,
		ConnectedAt:     s.connectedAt,
		EndedAt:         s.endedAt,
		DurationSeconds: s.duration,
		Muted:           s.muted,
		OnHold:          s.onHold,
		Codec:           s.codec.Name,
		EndReason:       s.endReason,
		Err:             s.endErr,
	}
	if s.hasNetwork {
		meta.NetworkClass = s.network.Class.String()
		meta.TargetBitrate = s.network.TargetBitrate
		meta.JitterBufferMs = s.network.JitterBufferMs
		meta.PLCEnabled = s.network.PLCEnabled
	}
	return meta
}

// advance performs a transition. When only is non-empty the transition
// happens only from one of the listed states.
func (s *Session) advance(to State, reason EndReason, cause error, only ...State) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) || (len(only) > 0 && !containsState(only, from)) {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Session.advance",
			"session_id": s.id,
			"from":       from.String(),
			"to":         to.String(),
		}).Debug("Transition refused")
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	now := s.m.clock.Now()
	s.state = to
	switch {
	case to == StateConnecting:
		s.dialTimer = s.m.clock.AfterFunc(s.m.config.DialTimeout, s.onDialTimeout)
	case to == StateConnected:
		s.connectedAt = now
	case to.Terminal():
		s.endedAt = now
		s.endReason = reason
		s.endErr = cause
	}
	if to != StateConnecting && s.dialTimer != nil {
		s.dialTimer.Stop()
		s.dialTimer = nil
	}
	s.span.AddEvent("state", trace.WithAttributes(attribute.String("call.state", to.String())))
	if !to.Terminal() {
		// Published under the lock so subscribers observe transitions in order.
		s.m.bus.Publish(StateChanged{SessionID: s.id, From: from, To: to, Meta: s.metaLocked(), At: now})
	}
	s.mu.Unlock()

	metrics.RecordTransition(to.String())
	fields := logrus.Fields{
		"function":   "Session.advance",
		"session_id": s.id,
		"from":       from.String(),
		"to":         to.String(),
	}
	if reason != ReasonNone {
		fields["reason"] = string(reason)
	}
	if cause != nil {
		fields["error"] = cause.Error()
		logrus.WithFields(fields).Error("Call failed")
	} else {
		logrus.WithFields(fields).Info("Call state changed")
	}

	switch {
	case to == StateConnected:
		s.onConnected()
	case to.Terminal():
		s.finalize(from)
	}
	return nil
}

func containsState(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Session) onDialTimeout() {
	_ = s.advance(StateError, ReasonDialTimeout, ErrDialTimeout, StateConnecting)
}

// attach binds an outbound handle once the registrar has produced it.
func (s *Session) attach(h device.Handle) {
	s.adaptMu.Lock()
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		s.adaptMu.Unlock()
		_ = h.Disconnect()
		return
	}
	s.handle = h
	profile, hasNetwork := s.network, s.hasNetwork
	s.mu.Unlock()
	if hasNetwork {
		s.tune(h, profile)
	}
	s.adaptMu.Unlock()
	s.watch()
}

// watch starts the handle event loop.
func (s *Session) watch() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return
	}

	go func() {
		events := h.Events()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					if !s.State().Terminal() {
						_ = s.advance(StateError, ReasonTransportError, errors.New("handle event stream closed"))
					}
					return
				}
				s.handleEvent(ev)
			}
		}
	}()
}

func (s *Session) handleEvent(ev device.HandleEvent) {
	logrus.WithFields(logrus.Fields{
		"function":   "Session.handleEvent",
		"session_id": s.id,
		"kind":       string(ev.Kind),
	}).Debug("Handle event")

	switch ev.Kind {
	case device.EventRinging:
		_ = s.advance(StateRinging, ReasonNone, nil, StateConnecting)
	case device.EventAccept:
		_ = s.advance(StateConnected, ReasonNone, nil, StateConnecting, StateRinging)
	case device.EventDisconnect, device.EventCancel:
		_ = s.advance(StateEnded, ReasonRemoteHangup, nil)
	case device.EventReject:
		_ = s.advance(StateEnded, ReasonRejected, nil)
	case device.EventError:
		cause := ev.Err
		if cause == nil {
			cause = errors.New("unspecified transport error")
		}
		_ = s.advance(StateError, ReasonTransportError, fmt.Errorf("transport: %w", cause))
	case device.EventWarning, device.EventWarningCleared:
		s.m.bus.Publish(NetworkWarning{
			SessionID: s.id,
			Name:      ev.Warning,
			Active:    ev.Kind == device.EventWarning,
			At:        s.m.clock.Now(),
		})
	}
}

func (s *Session) onConnected() {
	s.mu.Lock()
	setup := s.connectedAt.Sub(s.startedAt)
	s.mu.Unlock()
	metrics.ObserveSetup(setup)

	if err := s.startMedia(); err != nil {
		reason := ReasonTransportError
		if errors.Is(err, ErrDeviceLost) {
			reason = ReasonDeviceLost
		}
		_ = s.advance(StateError, reason, err)
	}
}

// startMedia opens the audio source and starts the pipeline, quality,
// duration and DTMF goroutines.
func (s *Session) startMedia() error {
	cfg := s.m.config
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	src, err := s.m.sources.Open(s.ctx, cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	pipeline, err := audio.NewPipeline(cfg.Pipeline)
	if err != nil {
		src.Close()
		return err
	}
	load := pipeline.Load()
	load.SetBudget(cfg.FrameBudget)
	budget := load.Budget()
	load.SetObserver(func(d time.Duration) { metrics.ObserveFrame(d, d > budget) })

	vadCfg := cfg.VAD
	vadCfg.SampleRate, vadCfg.Channels = cfg.Pipeline.SampleRate, cfg.Pipeline.Channels
	detector, err := vad.New(vadCfg)
	if err != nil {
		src.Close()
		return err
	}
	detector.OnSpeakingStart(func() { s.publishVoice(true) })
	detector.OnSilenceStart(func() { s.publishVoice(false) })
	pipeline.AddObserver(func(frame []int16) { detector.ProcessFrame(frame) })

	monitor, err := quality.NewMonitor(cfg.Quality, cfg.Pipeline, pipeline.Tap(), quality.StatsFunc(h.Stats), pipeline)
	if err != nil {
		src.Close()
		return err
	}
	monitor.SetMetricsCallback(s.onQuality)
	monitor.SetDegradedCallback(s.onDegraded)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		src.Close()
		return nil
	}
	s.pipeline, s.monitor, s.source = pipeline, monitor, src
	pipeline.SetMuted(s.muted || s.onHold)
	s.durationTicker = s.m.clock.NewTicker(time.Second)
	s.qualityTicker = s.m.clock.NewTicker(monitor.Interval())

	s.mediaWG.Add(4)
	go s.runPipeline(pipeline, src, h)
	go s.runQuality(monitor, s.qualityTicker)
	go s.runDuration(s.durationTicker)
	go s.runDigits(h)
	if in, ok := h.(device.InboundMedia); ok && s.codec.PayloadType != 0 {
		s.mediaWG.Add(1)
		go s.runInspector(codec.NewInboundInspector(s.codec.PayloadType), in.InboundRTP())
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Session.startMedia",
		"session_id": s.id,
		"codec":      s.codec.Name,
		"stages":     pipeline.StageNames(),
	}).Info("Call media started")
	return nil
}

func (s *Session) runPipeline(p *audio.Pipeline, src audio.Source, h device.Handle) {
	defer s.mediaWG.Done()
	err := p.Run(s.ctx, src, audio.SinkFunc(h.WriteFrame))
	if err == nil || s.ctx.Err() != nil {
		return
	}
	reason := ReasonTransportError
	if errors.Is(err, audio.ErrDeviceLost) {
		reason = ReasonDeviceLost
		err = fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	// Finalize waits for this goroutine, so the transition runs elsewhere.
	go func() { _ = s.advance(StateError, reason, err) }()
}

func (s *Session) runQuality(m *quality.Monitor, ticker clock.Ticker) {
	defer s.mediaWG.Done()
	m.Run(s.ctx, ticker.C())
}

func (s *Session) runDuration(ticker clock.Ticker) {
	defer s.mediaWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C():
			s.mu.Lock()
			if s.state != StateConnected {
				s.mu.Unlock()
				return
			}
			secs := int(now.Sub(s.connectedAt) / time.Second)
			if secs > s.duration {
				s.duration = secs
				s.m.bus.Publish(DurationTick{SessionID: s.id, Seconds: secs})
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) runDigits(h device.Handle) {
	defer s.mediaWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case tones := <-s.digits:
			if err := h.SendDigits(tones); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "Session.runDigits",
					"session_id": s.id,
					"error":      err.Error(),
				}).Warn("Failed to send DTMF digits")
			}
		}
	}
}

// runInspector learns the remote's Opus bandwidth and channel layout from
// inbound packets.
func (s *Session) runInspector(inspector *codec.InboundInspector, packets <-chan *rtp.Packet) {
	defer s.mediaWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			remote, err := inspector.InspectRTP(pkt)
			if err != nil {
				continue
			}
			s.mu.Lock()
			s.remoteAudio = remote
			s.mu.Unlock()
		}
	}
}

// RemoteAudio returns the remote format learned from inbound Opus packets.
// The bool is false until a packet has been decoded.
func (s *Session) RemoteAudio() (codec.RemoteAudio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAudio, s.remoteAudio != codec.RemoteAudio{}
}

var zeroStats quality.TransportStats

func (s *Session) publishVoice(speaking bool) {
	s.m.bus.Publish(VoiceActivity{SessionID: s.id, Speaking: speaking, At: s.m.clock.Now()})
}

// onQuality records audio samples and drives periodic adaptation. Samples
// taken while muted or on hold only carry transport counters, so they feed
// adaptation but not the score history.
func (s *Session) onQuality(sample quality.Metrics) {
	s.mu.Lock()
	if !sample.Muted {
		s.scores = append(s.scores, sample.CompositeScore)
		if limit := s.historyLimit(); len(s.scores) > limit {
			s.scores = s.scores[len(s.scores)-limit:]
		}
	}
	s.qualityTicks++
	adaptNow := s.qualityTicks%s.m.config.AdaptEvery == 0
	s.mu.Unlock()

	if !sample.Muted {
		metrics.RecordQuality(sample.CompositeScore)
		s.m.bus.Publish(QualityUpdated{SessionID: s.id, Metrics: sample})
	}
	if adaptNow {
		s.adapt(sample.Transport)
	}
}

func (s *Session) historyLimit() int {
	if q := s.m.config.Quality; q != nil && q.HistorySize > 0 {
		return q.HistorySize
	}
	return quality.DefaultConfig().HistorySize
}

func (s *Session) onDegraded(degraded bool, sample quality.Metrics) {
	if degraded {
		metrics.RecordDegraded()
	}
	s.m.bus.Publish(NetworkWarning{
		SessionID: s.id,
		Name:      "network-degraded",
		Active:    degraded,
		At:        sample.Timestamp,
	})
}

// adapt recomputes the network profile and re-evaluates the codec. A
// mid-call switch is sent to the far end as an SDP re-offer.
func (s *Session) adapt(stats quality.TransportStats) {
	s.adaptMu.Lock()
	defer s.adaptMu.Unlock()

	info, cpu := s.m.signals()
	if stats.RTT > 0 {
		info.RTTMs = float64(stats.RTT) / float64(time.Millisecond)
	}
	if stats.PacketLoss > info.PacketLoss {
		info.PacketLoss = stats.PacketLoss
	}

	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	if pipeline != nil {
		if l := pipeline.Load().Load(); l > cpu {
			cpu = l
		}
	}

	profile, changed := s.adapter.Update(info)
	if changed {
		metrics.RecordAdaptation(profile.Class.String(), profile.TargetBitrate)
	}
	d := s.selector.Evaluate(codec.Constraints{CeilingBitrate: profile.TargetBitrate, CPULoad: cpu})

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.network, s.hasNetwork = profile, true
	if d.Changed {
		s.codec = d.Profile
	}
	h := s.handle
	s.mu.Unlock()

	if changed {
		s.m.bus.Publish(NetworkProfileChanged{SessionID: s.id, Profile: profile, At: s.m.clock.Now()})
		if h != nil {
			s.tune(h, profile)
		}
	}
	if !d.Changed {
		return
	}
	s.m.bus.Publish(CodecChanged{SessionID: s.id, From: d.Previous.Name, To: d.Profile.Name, Reason: d.Reason})
	if d.Initial || h == nil {
		return
	}
	metrics.RecordCodecSwitch(d.Previous.Name, d.Profile.Name)
	s.renegotiate(h, d.Profile)
}

// tune hands transport parameters to handles that accept them.
func (s *Session) tune(h device.Handle, p network.Profile) {
	tuner, ok := h.(device.TransportTuner)
	if !ok {
		return
	}
	if err := tuner.ApplyProfile(p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.tune",
			"session_id": s.id,
			"error":      err.Error(),
		}).Warn("Transport rejected network profile")
	}
}

func (s *Session) renegotiate(h device.Handle, p codec.Profile) {
	offer, err := codec.BuildOffer(p, codec.OfferOptions{
		SessionID:      uint64(s.startedAt.Unix()),
		SessionVersion: s.selector.Switches() + 1,
	})
	if err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = h.Renegotiate(ctx, offer)
		cancel()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.renegotiate",
			"session_id": s.id,
			"codec":      p.Name,
			"error":      err.Error(),
		}).Warn("Codec re-offer failed")
	}
}

// Accept answers a ringing inbound call. The session becomes connected when
// the transport confirms.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	state, h := s.state, s.handle
	s.mu.Unlock()
	if s.direction != Inbound || state != StateRinging || h == nil {
		return fmt.Errorf("%w: accept while %s", ErrInvalidTransition, state)
	}
	return h.Accept(ctx)
}

// Reject declines a ringing inbound call.
func (s *Session) Reject() error {
	s.mu.Lock()
	state, h := s.state, s.handle
	s.mu.Unlock()
	if s.direction != Inbound || state != StateRinging || h == nil {
		return fmt.Errorf("%w: reject while %s", ErrInvalidTransition, state)
	}
	if err := h.Reject(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.Reject",
			"session_id": s.id,
			"error":      err.Error(),
		}).Warn("Handle reject failed")
	}
	return s.advance(StateEnded, ReasonRejected, nil, StateRinging)
}

// Hangup ends the call from any state. It is a no-op once the call has
// ended.
func (s *Session) Hangup() error {
	err := s.advance(StateEnded, ReasonHangup, nil)
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// SetMuted sets the mute flag and returns the resulting value. Outside the
// connected state it logs a warning and leaves the flag unchanged.
func (s *Session) SetMuted(muted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMutedLocked(muted)
}

// ToggleMute flips the mute flag.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMutedLocked(!s.muted)
}

// SetOnHold sets the hold flag and returns the resulting value.
func (s *Session) SetOnHold(onHold bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHoldLocked(onHold)
}

// ToggleHold flips the hold flag.
func (s *Session) ToggleHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHoldLocked(!s.onHold)
}

func (s *Session) setMutedLocked(muted bool) bool {
	if s.state != StateConnected {
		s.warnNotConnected("mute")
		return s.muted
	}
	if s.muted == muted {
		return muted
	}
	s.muted = muted
	s.applyMediaFlagsLocked()
	if err := s.handle.Mute(muted); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.SetMuted",
			"session_id": s.id,
			"error":      err.Error(),
		}).Warn("Handle mute failed")
	}
	return muted
}

func (s *Session) setHoldLocked(onHold bool) bool {
	if s.state != StateConnected {
		s.warnNotConnected("hold")
		return s.onHold
	}
	if s.onHold == onHold {
		return onHold
	}
	s.onHold = onHold
	s.applyMediaFlagsLocked()
	if err := s.handle.Hold(onHold); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Session.SetOnHold",
			"session_id": s.id,
			"error":      err.Error(),
		}).Warn("Handle hold failed")
	}
	return onHold
}

func (s *Session) applyMediaFlagsLocked() {
	if s.pipeline != nil {
		s.pipeline.SetMuted(s.muted || s.onHold)
	}
}

func (s *Session) warnNotConnected(op string) {
	logrus.WithFields(logrus.Fields{
		"function":   "Session." + op,
		"session_id": s.id,
		"state":      s.state.String(),
	}).Warn("Control operation ignored outside connected state")
}

const validDigits = "0123456789*#ABCDw,"

// ValidateDigits checks a DTMF string. w and comma are pauses.
func ValidateDigits(tones string) error {
	if tones == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDigits)
	}
	for _, r := range tones {
		if !strings.ContainsRune(validDigits, r) {
			return fmt.Errorf("%w: %q", ErrInvalidDigits, r)
		}
	}
	return nil
}

// SendDigits queues DTMF tones for the digit worker. Outside the connected
// state it logs a warning and does nothing.
func (s *Session) SendDigits(tones string) error {
	s.mu.Lock()
	state := s.state
	if state != StateConnected {
		s.warnNotConnected("SendDigits")
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := ValidateDigits(tones); err != nil {
		return err
	}
	select {
	case s.digits <- tones:
		return nil
	default:
		return ErrDigitQueueFull
	}
}

// finalize releases everything the session owns. It runs once, on the
// goroutine that performed the terminal transition.
func (s *Session) finalize(from State) {
	s.finalizeOnce.Do(func() {
		cfg := s.m.config

		s.mu.Lock()
		if s.dialTimer != nil {
			s.dialTimer.Stop()
			s.dialTimer = nil
		}
		tickers := []clock.Ticker{s.durationTicker, s.qualityTicker}
		h, src := s.handle, s.source
		s.mu.Unlock()

		for _, t := range tickers {
			if t != nil {
				t.Stop()
			}
		}
		s.cancel()

		waited := make(chan struct{})
		go func() {
			s.mediaWG.Wait()
			close(waited)
		}()
		teardown := time.NewTimer(cfg.TeardownTimeout)
		select {
		case <-waited:
			teardown.Stop()
		case <-teardown.C:
			logrus.WithFields(logrus.Fields{
				"function":   "Session.finalize",
				"session_id": s.id,
				"timeout":    cfg.TeardownTimeout.String(),
			}).Warn("Media loops did not stop in time")
		}

		if h != nil {
			if err := h.Disconnect(); err != nil && !errors.Is(err, device.ErrHandleClosed) {
				logrus.WithFields(logrus.Fields{
					"function":   "Session.finalize",
					"session_id": s.id,
					"error":      err.Error(),
				}).Debug("Handle release failed")
			}
		}
		if src != nil {
			if err := src.Close(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "Session.finalize",
					"session_id": s.id,
					"error":      err.Error(),
				}).Warn("Audio source close failed")
			}
		}

		s.mu.Lock()
		meta := s.metaLocked()
		rec := s.recordLocked()
		s.mu.Unlock()

		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.TelemetryFlushTimeout)
		err := s.m.sink.Write(flushCtx, rec)
		cancel()
		metrics.RecordCallLogWrite(err)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Session.finalize",
				"session_id": s.id,
				"error":      err.Error(),
			}).Error("Failed to write call record")
		}

		var connected time.Duration
		if !meta.ConnectedAt.IsZero() {
			connected = meta.EndedAt.Sub(meta.ConnectedAt)
		}
		metrics.CallFinished(string(meta.Direction), string(meta.EndReason), connected)

		if meta.Err != nil {
			s.span.RecordError(meta.Err)
			s.span.SetStatus(codes.Error, string(meta.EndReason))
		}
		s.span.SetAttributes(
			attribute.String("call.end_reason", string(meta.EndReason)),
			attribute.Int("call.duration_s", meta.DurationSeconds),
		)
		s.span.End()

		s.m.release(s)
		s.m.bus.Publish(StateChanged{SessionID: s.id, From: from, To: meta.State, Meta: meta, At: meta.EndedAt})
		close(s.done)

		logrus.WithFields(logrus.Fields{
			"function":   "Session.finalize",
			"session_id": s.id,
			"state":      meta.State.String(),
			"reason":     string(meta.EndReason),
			"duration_s": meta.DurationSeconds,
		}).Info("Call session finalized")
	})
}

func (s *Session) recordLocked() calllog.Record {
	rec := calllog.Record{
		SessionID:       s.id,
		ContactID:       s.contactID,
		RemoteIdentity:  s.remote,
		Direction:       string(s.direction),
		DurationSeconds: s.duration,
		Codec:           s.codec.Name,
		EndedReason:     string(s.endReason),
		StartedAt:       s.startedAt,
		EndedAt:         s.endedAt,
	}
	if n := len(s.scores); n > 0 {
		rec.FinalQualityScore = s.scores[n-1]
	}
	if s.hasNetwork {
		rec.NetworkClass = s.network.Class.String()
	}
	if s.endErr != nil {
		rec.Error = s.endErr.Error()
	}
	return rec
}
