// Package relay is the cross-context message channel between sandboxed
// content, the viewer controller and host pages. Each session has websocket
// participants in two roles; traffic between them flows over the message bus
// so any viewer process can serve any participant.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/odvcencio/scormview/pkg/bus"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/observability"
)

const (
	readDeadline  = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 100
	maxMessage    = 64 << 10

	// DefaultAckTimeout bounds how long a command waits for the bridge.
	DefaultAckTimeout = 2 * time.Second
)

// Envelope is a message read from a participant.
type Envelope struct {
	Action string          `json:"scormAction,omitempty"`
	Signal string          `json:"signal,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Ack    *AckEnvelope    `json:"ack,omitempty"`
	// Role is stamped by the hub before the envelope is forwarded.
	Role string `json:"role,omitempty"`
}

// AckEnvelope correlates a bridge reply with a command id.
type AckEnvelope struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Kind names the envelope for logs and metrics.
func (e Envelope) Kind() string {
	switch {
	case e.Ack != nil:
		return "ack"
	case e.Action != "":
		return "action"
	case e.Signal != "":
		return "signal"
	default:
		return "unknown"
	}
}

// Options tunes a Hub.
type Options struct {
	// Rate and Burst limit inbound messages per connection.
	Rate           float64
	Burst          int
	AckTimeout     time.Duration
	AllowedOrigins []string
}

// Hub upgrades participant connections and bridges them to the bus.
type Hub struct {
	bus      bus.MessageBus
	opts     Options
	logger   *observability.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub publishing through b.
func NewHub(b bus.MessageBus, opts Options, logger *observability.Logger) *Hub {
	if opts.Rate <= 0 {
		opts.Rate = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if logger == nil {
		logger = observability.Discard()
	}
	h := &Hub{
		bus:     b,
		opts:    opts,
		logger:  logger.Component("relay"),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Sandboxed content runs with an opaque origin, so "null" is always accepted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.opts.AllowedOrigins) == 0 || origin == "" || origin == "null" {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" && strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	session string
	role    string
	logger  *observability.Logger
	limiter *rate.Limiter

	send    chan []byte
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	pendingMu sync.Mutex
	pending   map[string]chan AckEnvelope

	subs []bus.Subscription
}

// ServeWS upgrades the request into a participant connection for the given
// session and role. Authentication is the caller's concern.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID, role string) {
	if role != bus.RoleContent && role != bus.RoleHost {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxMessage)

	// The request context ends with the upgrade.
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		hub:     h,
		conn:    conn,
		session: sessionID,
		role:    role,
		logger:  h.logger.WithSession(sessionID),
		limiter: rate.NewLimiter(rate.Limit(h.opts.Rate), h.opts.Burst),
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan AckEnvelope),
	}
	if err := c.subscribe(); err != nil {
		c.logger.Error("relay subscribe failed", slog.String("error", err.Error()))
		cancel()
		c.unsubscribe()
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	observability.RelayConnections.WithLabelValues(role).Inc()
	c.logger.Info("relay connection established",
		slog.String("role", role),
		slog.String("remote_addr", r.RemoteAddr),
	)

	go c.writePump()
	go c.readPump()
}

func (c *client) subscribe() error {
	sub, err := c.hub.bus.Subscribe(c.ctx, bus.SessionSubject(c.session, c.role), func(msg *bus.Message) []byte {
		c.enqueue(msg.Data)
		observability.RelayMessages.WithLabelValues("to_"+c.role, "publish").Inc()
		return nil
	})
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	if c.role != bus.RoleContent {
		return nil
	}
	sub, err = c.hub.bus.Subscribe(c.ctx, bus.CommandSubject(c.session), c.handleCommand)
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *client) unsubscribe() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
}

// handleCommand writes a command to the bridge and answers the bus request
// with the bridge's ack.
func (c *client) handleCommand(msg *bus.Message) []byte {
	var cmd navigation.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return mustJSON(navigation.Ack{OK: false, Detail: "malformed command"})
	}
	if cmd.ID == "" {
		cmd.ID = ulid.Make().String()
	}
	wait := make(chan AckEnvelope, 1)
	c.pendingMu.Lock()
	c.pending[cmd.ID] = wait
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(cmd)
	if err != nil {
		return mustJSON(navigation.Ack{OK: false, Detail: err.Error()})
	}
	if !c.enqueue(data) {
		return mustJSON(navigation.Ack{OK: false, Detail: "content backlogged"})
	}
	observability.RelayMessages.WithLabelValues("to_content", "command").Inc()

	timer := time.NewTimer(c.hub.opts.AckTimeout)
	defer timer.Stop()
	select {
	case ack := <-wait:
		return mustJSON(navigation.Ack{OK: ack.OK, Detail: ack.Detail})
	case <-timer.C:
		return mustJSON(navigation.Ack{OK: false, Detail: "ack timeout"})
	case <-c.ctx.Done():
		return nil
	}
}

func (c *client) resolve(ack AckEnvelope) {
	c.pendingMu.Lock()
	wait, ok := c.pending[ack.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- ack:
	default:
	}
}

// enqueue queues data for the write pump, dropping it when the connection
// is backlogged.
func (c *client) enqueue(data []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		observability.RelayDrops.WithLabelValues("backpressure").Inc()
		c.logger.Warn("relay backpressure, dropping message", slog.String("role", c.role))
		return false
	}
}

func (c *client) readPump() {
	defer c.hub.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay read error", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if !c.limiter.Allow() {
			observability.RelayDrops.WithLabelValues("rate_limited").Inc()
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			observability.RelayDrops.WithLabelValues("malformed").Inc()
			continue
		}
		c.route(env, len(data))
	}
}

func (c *client) route(env Envelope, size int) {
	kind := env.Kind()
	observability.RelayMessages.WithLabelValues("from_"+c.role, kind).Inc()
	c.logger.MessageRelayed("from_"+c.role, kind, size)

	switch kind {
	case "ack":
		if c.role == bus.RoleContent {
			c.resolve(*env.Ack)
		}
	case "action", "signal":
		if kind == "signal" && c.role != bus.RoleContent {
			return
		}
		env.Role = c.role
		if err := bus.PublishJSON(c.ctx, c.hub.bus, bus.InboundSubject(c.session), env); err != nil {
			c.logger.Warn("relay forward failed", slog.String("error", err.Error()))
		}
	default:
		observability.RelayDrops.WithLabelValues("unknown").Inc()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	c.unsubscribe()
	c.writeMu.Lock()
	_ = c.conn.Close()
	c.writeMu.Unlock()
	observability.RelayConnections.WithLabelValues(c.role).Dec()
	c.logger.Info("relay connection closed", slog.String("role", c.role))
}

// Connections returns the number of live connections for a session and
// role. An empty role counts both.
func (h *Hub) Connections(sessionID, role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.session == sessionID && (role == "" || c.role == role) {
			n++
		}
	}
	return n
}

// CloseSession disconnects every participant of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.RLock()
	var doomed []*client
	for c := range h.clients {
		if c.session == sessionID {
			doomed = append(doomed, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range doomed {
		c.cancel()
		h.remove(c)
	}
}

// Shutdown disconnects every participant.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.cancel()
		h.remove(c)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"ok":false}`)
	}
	return data
}
