package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbtrack/arbtrack/internal/domain"
)

func newTestHub(cfg Config) *Hub {
	return NewHub(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wireEnvelope mirrors Envelope with raw data so tests can decode the payload
// per event type.
type wireEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wireEnvelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ClientCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastFanOut(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, srv)
	}
	waitForClients(t, h, 3)

	require.NoError(t, h.Broadcast(string(domain.EventRiskAlert), map[string]string{"id": "a-1"}))

	for _, conn := range conns {
		env := readEnvelope(t, conn)
		assert.Equal(t, string(domain.EventRiskAlert), env.Type)
		assert.Positive(t, env.Timestamp)
		assert.Equal(t, uint64(1), env.Sequence)

		var data map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "a-1", data["id"])
	}
}

func TestSequenceIncreasesPerBroadcast(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Broadcast("odds-update", map[string]int{"n": i}))
	}

	var last uint64
	for i := 0; i < 5; i++ {
		env := readEnvelope(t, conn)
		assert.Equal(t, last+1, env.Sequence)
		last = env.Sequence
	}
}

func TestSubscriptionFiltering(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	h.mu.RLock()
	var c *client
	for _, reg := range h.clients {
		c = reg
	}
	h.mu.RUnlock()
	require.NotNil(t, c)

	// Fresh connections receive everything.
	assert.True(t, c.wants("odds-update"))

	err := conn.WriteJSON(map[string]any{
		"action": "subscribe",
		"types":  []string{string(domain.EventRiskAlert)},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !c.wants("odds-update")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.wants(string(domain.EventRiskAlert)))

	require.NoError(t, h.Broadcast("odds-update", map[string]int{"n": 1}))
	require.NoError(t, h.Broadcast(string(domain.EventRiskAlert), map[string]string{"id": "a-2"}))

	env := readEnvelope(t, conn)
	assert.Equal(t, string(domain.EventRiskAlert), env.Type)
}

func TestUnsubscribeRemovesType(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	h.mu.RLock()
	var c *client
	for _, reg := range h.clients {
		c = reg
	}
	h.mu.RUnlock()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "subscribe",
		"types":  []string{"odds-update", string(domain.EventRiskAlert)},
	}))
	require.Eventually(t, func() bool {
		return c.wants("odds-update") && !c.wants("positionAdded")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": "unsubscribe",
		"types":  []string{"odds-update"},
	}))
	require.Eventually(t, func() bool {
		return !c.wants("odds-update")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.wants(string(domain.EventRiskAlert)))
}

func TestMalformedClientMessageIgnored(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection must survive the garbage frame.
	require.NoError(t, h.Broadcast("odds-update", map[string]int{"n": 1}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "odds-update", env.Type)
	assert.Equal(t, 1, h.ClientCount())
}

func TestSendToClient(t *testing.T) {
	h := newTestHub(Config{})
	srv := newTestServer(t, h)

	connA := dial(t, srv)
	waitForClients(t, h, 1)

	h.mu.RLock()
	var idA string
	for id := range h.clients {
		idA = id
	}
	h.mu.RUnlock()

	connB := dial(t, srv)
	waitForClients(t, h, 2)

	h.SendToClient(idA, "snapshot", map[string]int{"positions": 4})

	env := readEnvelope(t, connA)
	assert.Equal(t, "snapshot", env.Type)

	// The other client must not see the direct message.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := connB.ReadMessage()
	assert.Error(t, err)
}

func TestSendToClientUnknownIDIsNoop(t *testing.T) {
	h := newTestHub(Config{})
	h.SendToClient("no-such-client", "snapshot", nil)
	assert.Equal(t, 0, h.ClientCount())
}

func TestEnqueueDropOldest(t *testing.T) {
	h := newTestHub(Config{SendBufferSize: 1, Overflow: OverflowDropOldest})
	c := &client{
		id:   "c-1",
		hub:  h,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
		subs: map[string]bool{subscribeAll: true},
	}

	c.enqueue([]byte("first"))
	c.enqueue([]byte("second"))

	select {
	case got := <-c.send:
		assert.Equal(t, "second", string(got))
	default:
		t.Fatal("expected a queued message")
	}
	assert.Empty(t, c.send)
}

func TestEnqueueDisconnectPolicy(t *testing.T) {
	h := newTestHub(Config{SendBufferSize: 1, Overflow: OverflowDisconnect})
	c := &client{
		id:   "c-1",
		hub:  h,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
		subs: map[string]bool{subscribeAll: true},
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	c.enqueue([]byte("first"))
	c.enqueue([]byte("overflow"))

	require.Eventually(t, func() bool {
		return h.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-c.done:
	default:
		t.Fatal("expected client done channel to be closed")
	}
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	h := newTestHub(Config{SendBufferSize: 1, Overflow: OverflowDropOldest})

	slow := &client{
		id:   "slow",
		hub:  h,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
		subs: map[string]bool{subscribeAll: true},
	}
	fast := &client{
		id:   "fast",
		hub:  h,
		send: make(chan []byte, 8),
		done: make(chan struct{}),
		subs: map[string]bool{subscribeAll: true},
	}
	h.mu.Lock()
	h.clients[slow.id] = slow
	h.clients[fast.id] = fast
	h.mu.Unlock()

	for i := 0; i < 10; i++ {
		require.NoError(t, h.Broadcast("odds-update", map[string]int{"n": i}))
	}

	// The fast client keeps its full buffer; the slow one keeps only the
	// newest message.
	assert.Equal(t, 8, len(fast.send))
	assert.Equal(t, 1, len(slow.send))

	var env wireEnvelope
	require.NoError(t, json.Unmarshal(<-slow.send, &env))
	assert.Equal(t, uint64(10), env.Sequence)
}

func TestShutdownClosesClientsAndRefusesNew(t *testing.T) {
	h := newTestHub(Config{FlushTimeout: time.Second})
	srv := newTestServer(t, h)

	connA := dial(t, srv)
	connB := dial(t, srv)
	waitForClients(t, h, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	assert.Equal(t, 0, h.ClientCount())

	for _, conn := range []*websocket.Conn{connA, connB} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
			"expected normal closure, got %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestShutdownFlushesQueuedMessages(t *testing.T) {
	h := newTestHub(Config{FlushTimeout: time.Second})
	srv := newTestServer(t, h)

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Broadcast("odds-update", map[string]int{"n": i}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	// Everything queued before shutdown must still arrive, then the close.
	for i := 0; i < 3; i++ {
		env := readEnvelope(t, conn)
		assert.Equal(t, "odds-update", env.Type)
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
