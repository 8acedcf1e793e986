package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/softphone/internal/clock"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/opd-ai/softphone/rtpstats"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"
)

// SimulatedConfig tunes the simulated transport.
type SimulatedConfig struct {
	RingDelay      time.Duration // dial to ringing (default: 1s)
	AnswerDelay    time.Duration // ringing to accept (default: 2s)
	AutoAnswer     bool          // remote answers outbound calls
	ReportInterval time.Duration // RTCP sender report period (default: 1s)
	PayloadType    uint8         // RTP payload type for L16 media (default: 96)
	ClockRate      uint32
	DropEvery      int // drop every Nth outbound packet; 0 disables loss
}

// DefaultSimulatedConfig returns a configuration where outbound calls ring
// for two seconds and are answered.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		RingDelay:      time.Second,
		AnswerDelay:    2 * time.Second,
		AutoAnswer:     true,
		ReportInterval: time.Second,
		PayloadType:    96,
		ClockRate:      48000,
	}
}

// SimulatedRegistrar is an in-process device SDK. Calls progress on timers
// and media is carried as RTP over a loopback UDP pair with RTCP reports,
// so transport statistics are real measurements.
type SimulatedRegistrar struct {
	mu         sync.Mutex
	config     SimulatedConfig
	clock      clock.Clock
	registered bool
	closed     bool
	token      string
	handles    map[string]*SimulatedHandle
	incoming   chan Handle
	expiry     chan struct{}
}

// NewSimulatedRegistrar creates a simulated SDK.
func NewSimulatedRegistrar(config SimulatedConfig, clk clock.Clock) *SimulatedRegistrar {
	if config.ClockRate == 0 {
		config.ClockRate = 48000
	}
	if config.PayloadType == 0 {
		config.PayloadType = 96
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = time.Second
	}
	return &SimulatedRegistrar{
		config:   config,
		clock:    clock.OrReal(clk),
		handles:  make(map[string]*SimulatedHandle),
		incoming: make(chan Handle, 4),
		expiry:   make(chan struct{}, 1),
	}
}

// Register accepts any well-formed JWT.
func (r *SimulatedRegistrar) Register(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	if _, err := TokenExpiry(token); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.registered = true
	r.token = token
	return nil
}

// Registered reports whether Register has succeeded.
func (r *SimulatedRegistrar) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// Connect starts an outbound call.
func (r *SimulatedRegistrar) Connect(ctx context.Context, params ConnectParams) (Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if !r.registered {
		r.mu.Unlock()
		return nil, ErrNotReady
	}
	h := r.newHandleLocked(params.To, true)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "SimulatedRegistrar.Connect",
		"to":         params.To,
		"session_id": params.SessionID,
		"handle":     h.id,
	}).Info("Simulated outbound call")

	h.schedule(r.config.RingDelay, func() { h.emit(HandleEvent{Kind: EventRinging}) })
	if r.config.AutoAnswer {
		h.schedule(r.config.RingDelay+r.config.AnswerDelay, func() {
			if err := h.activate(); err != nil {
				h.Fail(err)
			}
		})
	}
	return h, nil
}

// SimulateIncoming delivers an inbound call from the given identity.
func (r *SimulatedRegistrar) SimulateIncoming(from string) (*SimulatedHandle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	h := r.newHandleLocked(from, false)
	r.mu.Unlock()

	select {
	case r.incoming <- h:
		return h, nil
	default:
		h.release()
		return nil, errors.New("incoming queue full")
	}
}

// ExpireToken raises the SDK's token-will-expire notice.
func (r *SimulatedRegistrar) ExpireToken() {
	select {
	case r.expiry <- struct{}{}:
	default:
	}
}

// Incoming returns the channel of inbound calls.
func (r *SimulatedRegistrar) Incoming() <-chan Handle { return r.incoming }

// TokenWillExpire returns the expiry notice channel.
func (r *SimulatedRegistrar) TokenWillExpire() <-chan struct{} { return r.expiry }

// Close releases every handle.
func (r *SimulatedRegistrar) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.registered = false
	handles := make([]*SimulatedHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = map[string]*SimulatedHandle{}
	r.mu.Unlock()

	for _, h := range handles {
		h.release()
	}
	return nil
}

func (r *SimulatedRegistrar) newHandleLocked(remote string, outbound bool) *SimulatedHandle {
	h := &SimulatedHandle{
		id:       uuid.NewString(),
		reg:      r,
		remote:   remote,
		outbound: outbound,
		clock:    r.clock,
		config:   r.config,
		events:   make(chan HandleEvent, 32),
	}
	r.handles[h.id] = h
	return h
}

func (r *SimulatedRegistrar) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

type simState int

const (
	simPending simState = iota
	simActive
	simEnded
)

// SimulatedHandle is one simulated call leg. Methods prefixed Remote or
// named after remote actions (Hangup, Warn, Fail) drive the far end.
type SimulatedHandle struct {
	mu       sync.Mutex
	id       string
	reg      *SimulatedRegistrar
	remote   string
	outbound bool
	clock    clock.Clock
	config   SimulatedConfig
	events   chan HandleEvent

	state          simState
	muted          bool
	held           bool
	digits         strings.Builder
	renegotiations int
	profile        network.Profile
	tuned          int
	timers         []clock.Timer
	media          *loopback
}

// ID returns the handle identifier.
func (h *SimulatedHandle) ID() string { return h.id }

// RemoteIdentity returns the far end identity.
func (h *SimulatedHandle) RemoteIdentity() string { return h.remote }

// Events returns the handle's event channel.
func (h *SimulatedHandle) Events() <-chan HandleEvent { return h.events }

func (h *SimulatedHandle) schedule(d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timers = append(h.timers, h.clock.AfterFunc(d, fn))
}

func (h *SimulatedHandle) emit(ev HandleEvent) {
	h.mu.Lock()
	ended := h.state == simEnded
	h.mu.Unlock()
	if ended {
		return
	}
	ev.At = h.clock.Now()
	select {
	case h.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedHandle.emit",
			"handle":   h.id,
			"kind":     string(ev.Kind),
		}).Warn("Handle event dropped, consumer not keeping up")
	}
}

// activate opens media and reports acceptance.
func (h *SimulatedHandle) activate() error {
	h.mu.Lock()
	if h.state != simPending {
		h.mu.Unlock()
		return nil
	}
	media, err := newLoopback(h.clock, h.config)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.media = media
	h.state = simActive
	h.mu.Unlock()

	h.emit(HandleEvent{Kind: EventAccept})
	return nil
}

// Accept answers an inbound call.
func (h *SimulatedHandle) Accept(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == simEnded {
		return ErrHandleClosed
	}
	return h.activate()
}

// Reject declines a pending call.
func (h *SimulatedHandle) Reject() error {
	return h.end()
}

// Disconnect hangs up locally.
func (h *SimulatedHandle) Disconnect() error {
	return h.end()
}

func (h *SimulatedHandle) end() error {
	h.mu.Lock()
	if h.state == simEnded {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	h.mu.Unlock()
	h.release()
	return nil
}

// release stops timers and media; further events are suppressed.
func (h *SimulatedHandle) release() {
	h.mu.Lock()
	if h.state == simEnded {
		h.mu.Unlock()
		return
	}
	h.state = simEnded
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
	media := h.media
	h.media = nil
	h.mu.Unlock()

	if media != nil {
		media.close()
	}
	h.reg.forget(h.id)
}

// Mute records the transport mute flag.
func (h *SimulatedHandle) Mute(muted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == simEnded {
		return ErrHandleClosed
	}
	h.muted = muted
	return nil
}

// Hold suspends outbound media while set.
func (h *SimulatedHandle) Hold(onHold bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == simEnded {
		return ErrHandleClosed
	}
	h.held = onHold
	return nil
}

// SendDigits records DTMF digits.
func (h *SimulatedHandle) SendDigits(digits string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != simActive {
		return ErrHandleClosed
	}
	h.digits.WriteString(digits)
	return nil
}

// Digits returns every digit sent so far.
func (h *SimulatedHandle) Digits() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.digits.String()
}

// Renegotiate validates an SDP offer.
func (h *SimulatedHandle) Renegotiate(ctx context.Context, offer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(offer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrInvalidOffer)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == simEnded {
		return ErrHandleClosed
	}
	h.renegotiations++
	return nil
}

// Renegotiations returns the number of accepted offers.
func (h *SimulatedHandle) Renegotiations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.renegotiations
}

// ApplyProfile records the transport parameters chosen for the call.
func (h *SimulatedHandle) ApplyProfile(p network.Profile) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == simEnded {
		return ErrHandleClosed
	}
	h.profile = p
	h.tuned++
	logrus.WithFields(logrus.Fields{
		"function":      "SimulatedHandle.ApplyProfile",
		"handle_id":     h.id,
		"target_bps":    p.TargetBitrate,
		"jitter_ms":     p.JitterBufferMs,
		"plc":           p.PLCEnabled,
		"network_class": p.Class.String(),
	}).Debug("Simulated transport retuned")
	return nil
}

// Profile returns the last applied transport parameters and how many
// profiles have been applied.
func (h *SimulatedHandle) Profile() (network.Profile, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.profile, h.tuned
}

// WriteFrame sends one frame as an RTP packet. Frames are discarded before
// the call is answered and while on hold.
func (h *SimulatedHandle) WriteFrame(frame []int16) error {
	h.mu.Lock()
	state, held, media := h.state, h.held, h.media
	h.mu.Unlock()

	switch {
	case state == simEnded:
		return ErrHandleClosed
	case state == simPending || held || media == nil:
		return nil
	}
	return media.send(frame)
}

// Stats returns the outbound transport statistics measured via RTCP.
func (h *SimulatedHandle) Stats() quality.TransportStats {
	h.mu.Lock()
	media := h.media
	h.mu.Unlock()
	if media == nil {
		return quality.TransportStats{}
	}
	return media.local.Stats()
}

// RemoteReceived returns the packets the far end has received.
func (h *SimulatedHandle) RemoteReceived() uint64 {
	h.mu.Lock()
	media := h.media
	h.mu.Unlock()
	if media == nil {
		return 0
	}
	return media.peer.Stats().PacketsReceived
}

// Hangup ends the call from the far end.
func (h *SimulatedHandle) Hangup() {
	h.emit(HandleEvent{Kind: EventDisconnect})
	h.release()
}

// RemoteReject declines an outbound call from the far end.
func (h *SimulatedHandle) RemoteReject() {
	h.emit(HandleEvent{Kind: EventReject})
	h.release()
}

// Cancel withdraws an inbound call before it is answered.
func (h *SimulatedHandle) Cancel() {
	h.emit(HandleEvent{Kind: EventCancel})
	h.release()
}

// Warn raises a named network warning.
func (h *SimulatedHandle) Warn(name string) {
	h.emit(HandleEvent{Kind: EventWarning, Warning: name})
}

// ClearWarning clears a named network warning.
func (h *SimulatedHandle) ClearWarning(name string) {
	h.emit(HandleEvent{Kind: EventWarningCleared, Warning: name})
}

// Fail reports a transport error and releases the handle.
func (h *SimulatedHandle) Fail(err error) {
	h.emit(HandleEvent{Kind: EventError, Err: err})
	h.release()
}

// loopback carries media between a local and a peer UDP socket.
type loopback struct {
	clock     clock.Clock
	conn      *net.UDPConn
	peerConn  *net.UDPConn
	peerAddr  *net.UDPAddr
	local     *rtpstats.Tracker
	peer      *rtpstats.Tracker
	pt        uint8
	dropEvery int

	mu  sync.Mutex
	seq uint16
	ts  uint32

	ticker clock.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func newLoopback(clk clock.Clock, config SimulatedConfig) (*loopback, error) {
	loAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	conn, err := net.ListenUDP("udp", loAddr)
	if err != nil {
		return nil, fmt.Errorf("open media socket: %w", err)
	}
	peerConn, err := net.ListenUDP("udp", loAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open peer socket: %w", err)
	}

	l := &loopback{
		clock:     clk,
		conn:      conn,
		peerConn:  peerConn,
		peerAddr:  peerConn.LocalAddr().(*net.UDPAddr),
		local:     rtpstats.NewTracker(config.ClockRate, rand.Uint32()),
		peer:      rtpstats.NewTracker(config.ClockRate, rand.Uint32()),
		pt:        config.PayloadType,
		dropEvery: config.DropEvery,
		seq:       uint16(rand.Uint32()),
		ts:        rand.Uint32(),
		ticker:    clk.NewTicker(config.ReportInterval),
		done:      make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "newLoopback",
		"local":      conn.LocalAddr().String(),
		"peer":       l.peerAddr.String(),
		"local_ssrc": l.local.SSRC(),
	}).Debug("Simulated media path opened")

	l.wg.Add(3)
	go l.peerLoop()
	go l.localLoop()
	go l.reportLoop()
	return l, nil
}

// isRTCP distinguishes RTCP from RTP on a multiplexed socket (RFC 5761).
func isRTCP(buf []byte) bool {
	return len(buf) >= 2 && buf[1] >= 192 && buf[1] <= 223
}

func (l *loopback) send(frame []int16) error {
	payload := make([]byte, 2*len(frame))
	for i, s := range frame {
		binary.BigEndian.PutUint16(payload[2*i:], uint16(s))
	}

	l.mu.Lock()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    l.pt,
			SequenceNumber: l.seq,
			Timestamp:      l.ts,
			SSRC:           l.local.SSRC(),
		},
		Payload: payload,
	}
	l.seq++
	l.ts += uint32(len(frame))
	drop := l.dropEvery > 0 && int(pkt.SequenceNumber)%l.dropEvery == 0
	l.mu.Unlock()

	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	l.local.Sent(pkt)
	if drop {
		return nil
	}
	if _, err := l.conn.WriteToUDP(buf, l.peerAddr); err != nil {
		return fmt.Errorf("send rtp: %w", err)
	}
	return nil
}

// peerLoop plays the far end: it records inbound RTP and answers sender
// reports with receiver reports.
func (l *loopback) peerLoop() {
	defer l.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, addr, err := l.peerConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		now := l.clock.Now()
		if isRTCP(buf[:n]) {
			pkts, err := rtcp.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			l.peer.ProcessPackets(pkts, now)
			out, err := l.peer.ReceiverReport(now).Marshal()
			if err != nil {
				continue
			}
			_, _ = l.peerConn.WriteToUDP(out, addr)
			continue
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		l.peer.Received(&pkt, now)
	}
}

func (l *loopback) localLoop() {
	defer l.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !isRTCP(buf[:n]) {
			continue
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		l.local.ProcessPackets(pkts, l.clock.Now())
	}
}

func (l *loopback) reportLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.ticker.C():
			out, err := l.local.SenderReport(l.clock.Now()).Marshal()
			if err != nil {
				continue
			}
			_, _ = l.conn.WriteToUDP(out, l.peerAddr)
		}
	}
}

func (l *loopback) close() {
	close(l.done)
	l.ticker.Stop()
	l.conn.Close()
	l.peerConn.Close()
	l.wg.Wait()
}
