// Package ws implements the broadcast hub that fans domain events out to
// WebSocket subscribers. Every broadcast serializes the envelope once and
// pushes the same bytes onto each interested client's bounded send queue; a
// slow or broken client never blocks delivery to the others.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arbtrack/arbtrack/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// defaultSendBuffer is the per-client queue depth when none is configured.
	defaultSendBuffer = 256
)

// subscribeAll is the subscription key meaning "every event type".
const subscribeAll = "all"

// OverflowPolicy decides what happens when a client's send queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued message to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDisconnect tears the slow client down.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// Envelope is the wire message sent to every subscriber. Field names are a
// frozen contract with existing clients.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
	Sequence  uint64 `json:"sequence"`
}

// Config tunes hub behavior.
type Config struct {
	SendBufferSize int
	Overflow       OverflowPolicy
	FlushTimeout   time.Duration // per-client drain budget on shutdown
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// Hub manages the set of connected clients and assigns the monotonically
// increasing broadcast sequence.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	clients  map[string]*client
	draining bool

	seq  atomic.Uint64
	wg   sync.WaitGroup // tracks per-client write pumps
}

// NewHub creates a Hub with the given configuration, applying defaults for
// zero values.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowDropOldest
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	return &Hub{
		cfg:     cfg,
		clients: make(map[string]*client),
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
}

// client represents a single WebSocket connection. Teardown runs exactly
// once regardless of which path (read error, overflow, shutdown) wins.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	subMu sync.RWMutex
	subs  map[string]bool

	closeOnce sync.Once
}

// subscribeMsg is the JSON control frame a client sends to manage its
// subscriptions, e.g. {"action":"subscribe","types":["riskAlert"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Types  []string `json:"types"`
}

// Broadcast serializes the envelope once and enqueues it for every
// interested client. Messages broadcast from one goroutine reach each client
// in call order.
func (h *Hub) Broadcast(evtType string, data any) error {
	env := Envelope{
		Type:      evtType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  h.seq.Add(1),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	for _, c := range h.clients {
		if c.wants(evtType) {
			c.enqueue(payload)
		}
	}
	h.mu.RUnlock()
	return nil
}

// BroadcastEvent forwards a domain event as an envelope.
func (h *Hub) BroadcastEvent(evt domain.Event) {
	if err := h.Broadcast(string(evt.Type), evt.Data); err != nil {
		h.logger.Warn("broadcast failed",
			slog.String("event_type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// SendToClient delivers one envelope to a single client. Delivery to a
// client that disconnected between dispatch and send is logged and dropped,
// never an error for the caller.
func (h *Hub) SendToClient(clientID, evtType string, data any) {
	env := Envelope{
		Type:      evtType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Sequence:  h.seq.Add(1),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("send to client: marshal failed", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("send to client: client gone",
			slog.String("client_id", clientID),
			slog.String("type", evtType),
		)
		return
	}
	c.enqueue(payload)
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client. New connections are refused while the hub is draining.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	draining := h.draining
	h.mu.RUnlock()
	if draining {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBufferSize),
		done: make(chan struct{}),
		subs: map[string]bool{subscribeAll: true},
	}

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected",
		slog.String("client_id", c.id),
		slog.Int("total_clients", total),
	)

	h.wg.Add(1)
	go c.writePump()
	go c.readPump()
}

// Shutdown stops accepting connections, gives each client's queue a bounded
// flush, then closes every socket. It returns when all write pumps have
// exited or the context expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.teardown("shutdown")
	}

	doneCh := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wants reports whether the client subscribed to this event type.
func (c *client) wants(evtType string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[subscribeAll] || c.subs[evtType]
}

// enqueue pushes a serialized envelope onto the client's queue, applying the
// configured overflow policy when the queue is full.
func (c *client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
		return
	default:
	}

	switch c.hub.cfg.Overflow {
	case OverflowDisconnect:
		c.hub.logger.Warn("client queue overflow, disconnecting",
			slog.String("client_id", c.id),
		)
		// Broadcast holds the hub read lock here; teardown needs the write
		// lock, so it must run off this goroutine.
		go c.teardown("send queue overflow")
	default: // OverflowDropOldest
		select {
		case <-c.send:
			c.hub.logger.Warn("client queue overflow, dropping oldest",
				slog.String("client_id", c.id),
			)
		default:
		}
		select {
		case c.send <- payload:
		default:
		}
	}
}

// teardown releases the client exactly once: deregister from the hub and
// signal the write pump, which flushes and closes the socket.
func (c *client) teardown(reason string) {
	c.closeOnce.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c.id)
		total := len(c.hub.clients)
		c.hub.mu.Unlock()

		close(c.done)

		c.hub.logger.Info("client disconnected",
			slog.String("client_id", c.id),
			slog.String("reason", reason),
			slog.Int("total_clients", total),
		)
	})
}

// readPump consumes inbound frames: subscription control messages are
// applied, anything malformed is logged and ignored, and the connection
// stays open for further messages.
func (c *client) readPump() {
	defer c.teardown("read loop exit")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			c.hub.logger.Debug("ignoring malformed client message",
				slog.String("client_id", c.id),
			)
			continue
		}
		c.applySubscription(sub)
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	switch msg.Action {
	case "subscribe":
		if len(msg.Types) == 0 {
			c.subs[subscribeAll] = true
			return
		}
		// Named subscriptions replace the implicit "all".
		delete(c.subs, subscribeAll)
		for _, t := range msg.Types {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.subs, t)
		}
	}
}

// writePump pumps queued envelopes to the socket and sends keepalive pings.
// On teardown it drains the remaining queue within the hub's flush budget
// before closing the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.teardown("write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown("ping failed")
				return
			}

		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush drains the send queue best-effort within the flush budget.
func (c *client) flush() {
	deadline := time.Now().Add(c.hub.cfg.FlushTimeout)
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			if time.Now().After(deadline) {
				return
			}
		default:
			return
		}
	}
}
