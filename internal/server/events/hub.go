package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultQueueSize bounds events waiting for dispatch.
	DefaultQueueSize = 256

	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Authorizer proves elevated sessions for the privileged channel.
type Authorizer interface {
	// SessionToken extracts the session credential carried by the upgrade request.
	SessionToken(r *http.Request) string
	// Authorize verifies a credential; a nil error grants privileged membership.
	Authorize(token string) error
}

// Hub fans events out to WebSocket connections. Publish only enqueues; a
// single dispatcher started by Run does the fan-out, so a slow or broken
// observer never reaches the publisher.
type Hub struct {
	auth     Authorizer
	upgrader websocket.Upgrader
	queue    chan Event
	origins  []string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// Client is one observer connection. Privileged membership lives only here
// and ends with the connection.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	token      string
	remote     string
	privileged atomic.Bool
}

// NewHub creates a hub. A nil auth refuses every privileged join. Browsers
// may connect from the server's own host or one of allowedOrigins
// (scheme://host[:port]); requests without an Origin header are accepted.
func NewHub(auth Authorizer, queueSize int, allowedOrigins ...string) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	h := &Hub{
		auth:    auth,
		queue:   make(chan Event, queueSize),
		clients: make(map[*Client]struct{}),
	}
	for _, o := range allowedOrigins {
		h.origins = append(h.origins, strings.ToLower(strings.TrimRight(o, "/")))
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin keeps pages on other origins from opening a socket that rides
// the admin's session cookie.
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
	origin = strings.ToLower(u.Scheme + "://" + u.Host)
	for _, allowed := range h.origins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped.
func (h *Hub) Publish(ev Event) {
	select {
	case h.queue <- ev:
	default:
		slog.Warn("event queue full, dropping event", "event", ev.Type)
	}
}

// Run dispatches queued events until ctx is cancelled, then disconnects
// every observer.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("event hub started")
	for {
		select {
		case ev := <-h.queue:
			h.dispatch(ev)
		case <-ctx.Done():
			h.Close()
			slog.Info("event hub stopped")
			return
		}
	}
}

// ServeWS upgrades the request and registers the connection on the public channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var token string
	if h.auth != nil {
		token = h.auth.SessionToken(r)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("failed to upgrade websocket connection", "error", err)
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		token:  token,
		remote: r.RemoteAddr,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("observer connected", "remote", c.remote)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PrivilegedCount returns the number of observers on the privileged channel.
func (h *Hub) PrivilegedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if c.privileged.Load() {
			n++
		}
	}
	return n
}

// Close disconnects every observer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) dispatch(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", "event", ev.Type, "error", err)
		return
	}

	audience := ev.Audience()
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if audience == AudiencePrivileged && !c.privileged.Load() {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow observer", "remote", c.remote)
		h.unregister(c)
	}
}

// reply sends a message to a single connection if it is still registered.
func (h *Hub) reply(c *Client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

type clientMessage struct {
	Action string `json:"action"`
}

// handleMessage applies a join or leave request from the observer.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		msg.Action = strings.TrimSpace(string(raw))
	}

	switch msg.Action {
	case "join_admin", "join_privileged":
		if h.auth == nil || c.token == "" || h.auth.Authorize(c.token) != nil {
			slog.Warn("privileged join refused", "remote", c.remote)
			return
		}
		c.privileged.Store(true)
		slog.Info("observer joined privileged channel", "remote", c.remote)
		h.reply(c, Event{Type: TypeStatus, Data: StatusData{Message: "joined admin channel"}})
	case "leave_admin", "leave_privileged":
		if c.privileged.Swap(false) {
			slog.Info("observer left privileged channel", "remote", c.remote)
		}
	default:
		slog.Debug("ignoring observer message", "remote", c.remote, "action", msg.Action)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		slog.Info("observer disconnected", "remote", c.remote)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleMessage(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
