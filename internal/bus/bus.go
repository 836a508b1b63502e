// Package bus implements the in-process event bus that decouples tracker
// mutations from their consumers (risk engine, broadcast hub, notifier).
// Delivery is synchronous and in registration order within the publishing
// call; there is no persistence or replay.
package bus

import (
	"log/slog"
	"sync"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// Handler consumes one event. Handlers run on the publisher's goroutine and
// should return quickly; anything slow belongs behind its own queue.
type Handler func(evt domain.Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is a synchronous publish/subscribe dispatcher keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[domain.EventType][]subscription
	catchAll []subscription
	logger   *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]subscription),
		logger:   logger.With(slog.String("component", "bus")),
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function. A handler registered after an event fires never
// sees it.
func (b *Bus) Subscribe(t domain.EventType, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[t] = remove(b.handlers[t], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.catchAll = append(b.catchAll, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.catchAll = remove(b.catchAll, id)
	}
}

func remove(subs []subscription, id int) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers the event to every matching handler in registration
// order. A panicking handler is recovered and logged; later handlers still
// run and the mutation that triggered the event is never rolled back.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[evt.Type])+len(b.catchAll))
	subs = append(subs, b.handlers[evt.Type]...)
	subs = append(subs, b.catchAll...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s subscription, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event_type", string(evt.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	s.fn(evt)
}
