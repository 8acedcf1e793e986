package eventstream

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/softphone/call"
	"github.com/sirupsen/logrus"
)

// Controller executes client commands. softphone.Phone implements it.
type Controller interface {
	InitiateCall(ctx context.Context, number, contactID string) (string, error)
	Hangup() error
	Accept(ctx context.Context) error
	Reject() error
	ToggleMute() bool
	ToggleHold() bool
	SendDigits(digits string) error
}

// Config controls client buffering and timeouts.
type Config struct {
	SendBuffer     int           // queued messages per client (default: 64)
	WriteTimeout   time.Duration // default: 10s
	PingInterval   time.Duration // default: 30s
	ReadLimit      int64         // max command size in bytes (default: 4096)
	CommandTimeout time.Duration // bound on dial and accept (default: 10s)

	// AllowedOrigins lists browser origins (scheme://host[:port]) accepted in
	// addition to the endpoint's own origin.
	AllowedOrigins []string
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// or a token query parameter before a client is accepted.
	Token string
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() *Config {
	return &Config{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadLimit:      4096,
		CommandTimeout: 10 * time.Second,
	}
}

// Hub fans encoded events out to WebSocket clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	ctrl     Controller
	config   *Config
	upgrader websocket.Upgrader
	closed   bool
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	remote  string
	dropped atomic.Int64
	once    sync.Once
}

// NewHub creates a hub. ctrl may be nil for a read-only stream.
func NewHub(ctrl Controller, config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	h := &Hub{
		clients: make(map[*client]struct{}),
		ctrl:    ctrl,
		config:  config,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts non-browser clients (no Origin header), same-origin
// pages and the configured allowlist.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Hub.checkOrigin",
		"origin":   origin,
		"host":     r.Host,
	}).Warn("Rejected cross-origin event stream client")
	return false
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.config.Token == "" {
		return true
	}
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.config.Token)) == 1
}

// Run encodes every event from events and broadcasts it until ctx is done
// or events is closed. It then disconnects all clients.
func (h *Hub) Run(ctx context.Context, events <-chan call.Event) {
	logrus.WithFields(logrus.Fields{
		"function": "Hub.Run",
	}).Info("Event stream hub started")
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := Encode(ev)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Hub.Run",
					"error":    err.Error(),
				}).Warn("Failed to encode event")
				continue
			}
			h.Broadcast(data)
		}
	}
}

// Broadcast queues data for every client. A client whose queue is full
// misses the message.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		logrus.WithFields(logrus.Fields{
			"function": "Hub.ServeHTTP",
			"remote":   r.RemoteAddr,
		}).Warn("Rejected event stream client without a valid token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Hub.ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		remote: r.RemoteAddr,
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	logrus.WithFields(logrus.Fields{
		"function": "Hub.register",
		"remote":   c.remote,
		"clients":  len(h.clients),
	}).Info("Event stream client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
		logrus.WithFields(logrus.Fields{
			"function": "Hub.unregister",
			"remote":   c.remote,
			"clients":  len(h.clients),
		}).Info("Event stream client disconnected")
	}
	h.mu.Unlock()
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Hub.shutdown",
	}).Info("Event stream hub stopped")
}

// enqueue is called with the hub lock held, so send is never closed here.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		n := c.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "client.enqueue",
				"remote":   c.remote,
				"dropped":  n,
			}).Warn("Event stream client lagging, message dropped")
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "client.writePump",
					"remote":   c.remote,
					"error":    err.Error(),
				}).Debug("Event stream write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(c.hub.config.ReadLimit)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithFields(logrus.Fields{
					"function": "client.readPump",
					"remote":   c.remote,
					"error":    err.Error(),
				}).Warn("Event stream client read failed")
			}
			return
		}

		var cmd Command
		var reply Reply
		if err := json.Unmarshal(data, &cmd); err != nil {
			reply = Reply{Op: "invalid", Error: fmt.Sprintf("malformed command: %v", err)}
		} else {
			reply = c.hub.execute(cmd)
		}
		out, err := json.Marshal(Envelope{Type: "reply", SessionID: reply.SessionID, Data: reply})
		if err != nil {
			continue
		}
		c.hub.mu.RLock()
		if _, ok := c.hub.clients[c]; ok {
			c.enqueue(out)
		}
		c.hub.mu.RUnlock()
	}
}

// execute runs one command against the controller.
func (h *Hub) execute(cmd Command) Reply {
	reply := Reply{ID: cmd.ID, Op: cmd.Op}
	if h.ctrl == nil {
		reply.Error = "commands are disabled"
		return reply
	}

	logrus.WithFields(logrus.Fields{
		"function": "Hub.execute",
		"op":       cmd.Op,
		"id":       cmd.ID,
	}).Debug("Executing client command")

	var err error
	switch cmd.Op {
	case "dial":
		ctx, cancel := context.WithTimeout(context.Background(), h.config.CommandTimeout)
		reply.SessionID, err = h.ctrl.InitiateCall(ctx, cmd.Number, cmd.ContactID)
		cancel()
	case "hangup":
		err = h.ctrl.Hangup()
	case "accept":
		ctx, cancel := context.WithTimeout(context.Background(), h.config.CommandTimeout)
		err = h.ctrl.Accept(ctx)
		cancel()
	case "reject":
		err = h.ctrl.Reject()
	case "mute":
		muted := h.ctrl.ToggleMute()
		reply.Muted = &muted
	case "hold":
		onHold := h.ctrl.ToggleHold()
		reply.OnHold = &onHold
	case "digits":
		err = h.ctrl.SendDigits(cmd.Digits)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}

	if err != nil {
		reply.Error = err.Error()
		logrus.WithFields(logrus.Fields{
			"function": "Hub.execute",
			"op":       cmd.Op,
			"error":    err.Error(),
		}).Warn("Client command failed")
		return reply
	}
	reply.OK = true
	return reply
}
