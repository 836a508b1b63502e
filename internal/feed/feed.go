// Package feed connects to an upstream odds feed over WebSocket and pushes
// parsed, validated ticks into the rest of the system.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/ingest"
	"github.com/arbtrack/arbtrack/internal/validate"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickSink receives each accepted tick.
type TickSink func(domain.OddsTick)

// subscribeCommand is the upstream subscription message.
type subscribeCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

// Feed is a WebSocket client for an upstream odds feed. It manages the
// connection lifecycle, reconnects with exponential backoff, and hands each
// well-formed tick to the configured sink. Malformed or invalid records are
// logged and skipped; a bad upstream message never takes the feed down.
type Feed struct {
	url     string
	symbols []string
	sink    TickSink
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}

	// stats, updated from the read loop only.
	accepted uint64
	rejected uint64
}

// New creates a Feed that subscribes to the given symbols. An empty symbols
// slice subscribes to the full firehose.
func New(url string, symbols []string, sink TickSink, logger *slog.Logger) *Feed {
	return &Feed{
		url:     url,
		symbols: symbols,
		sink:    sink,
		logger:  logger.With(slog.String("component", "feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and consumes the feed until ctx is cancelled or Close is
// called. Disconnects are retried with exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		started := time.Now()
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxReconnectDelay {
			// The connection was healthy for a while; start backoff over.
			delay = reconnectDelay
		}

		f.logger.WarnContext(ctx, "feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops.
func (f *Feed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Action: "subscribe", Symbols: f.symbols}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "feed subscribed",
		slog.String("url", f.url),
		slog.Int("symbols", len(f.symbols)),
	)

	// Ping loop plus context/done watcher. Closing the connection unblocks
	// the read loop below.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-f.done:
				_ = conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

// handleMessage parses and validates one upstream record, forwarding it to the
// sink when it passes.
func (f *Feed) handleMessage(ctx context.Context, raw []byte) {
	tick, err := ingest.ParseTick(raw, ingest.DetectFormat(raw))
	if err != nil {
		f.rejected++
		f.logger.DebugContext(ctx, "feed record unparseable",
			slog.String("error", err.Error()),
		)
		return
	}

	if err := validate.Tick(tick); err != nil {
		f.rejected++
		f.logger.DebugContext(ctx, "feed record invalid",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	f.accepted++
	if f.sink != nil {
		f.sink(tick)
	}
}

// Close stops the feed. Safe to call more than once.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
