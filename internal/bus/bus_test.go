package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbtrack/arbtrack/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func event(t domain.EventType, data any) domain.Event {
	return domain.Event{Type: t, At: time.Now(), Data: data}
}

func TestPublishToSubscriber(t *testing.T) {
	b := newTestBus()

	var got []domain.Event
	b.Subscribe(domain.EventPositionAdded, func(evt domain.Event) {
		got = append(got, evt)
	})

	b.Publish(event(domain.EventPositionAdded, "p1"))
	b.Publish(event(domain.EventPositionClosed, "p2")) // different type, not seen

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Data)
}

func TestDeliveryOrder(t *testing.T) {
	b := newTestBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(domain.EventRiskAlert, func(domain.Event) {
			order = append(order, i)
		})
	}

	b.Publish(event(domain.EventRiskAlert, nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus()

	var calls int
	unsub := b.Subscribe(domain.EventPositionUpdated, func(domain.Event) { calls++ })

	b.Publish(event(domain.EventPositionUpdated, nil))
	unsub()
	b.Publish(event(domain.EventPositionUpdated, nil))

	assert.Equal(t, 1, calls)

	// Unsubscribing twice is harmless.
	unsub()
}

func TestSubscribeAll(t *testing.T) {
	b := newTestBus()

	var types []domain.EventType
	b.SubscribeAll(func(evt domain.Event) {
		types = append(types, evt.Type)
	})

	b.Publish(event(domain.EventPositionAdded, nil))
	b.Publish(event(domain.EventRiskAlert, nil))
	b.Publish(event(domain.EventOddsUpdate, nil))

	assert.Equal(t, []domain.EventType{
		domain.EventPositionAdded,
		domain.EventRiskAlert,
		domain.EventOddsUpdate,
	}, types)
}

func TestTypedHandlersRunBeforeCatchAll(t *testing.T) {
	b := newTestBus()

	var order []string
	b.SubscribeAll(func(domain.Event) { order = append(order, "all") })
	b.Subscribe(domain.EventPositionAdded, func(domain.Event) { order = append(order, "typed") })

	b.Publish(event(domain.EventPositionAdded, nil))
	assert.Equal(t, []string{"typed", "all"}, order)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := newTestBus()

	var after int
	b.Subscribe(domain.EventPositionAdded, func(domain.Event) { panic("boom") })
	b.Subscribe(domain.EventPositionAdded, func(domain.Event) { after++ })

	assert.NotPanics(t, func() {
		b.Publish(event(domain.EventPositionAdded, nil))
	})
	assert.Equal(t, 1, after)
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := newTestBus()

	b.Publish(event(domain.EventPositionAdded, nil))

	var calls int
	b.Subscribe(domain.EventPositionAdded, func(domain.Event) { calls++ })
	assert.Zero(t, calls)
}

func TestConcurrentPublish(t *testing.T) {
	b := newTestBus()

	var mu sync.Mutex
	var calls int
	b.SubscribeAll(func(domain.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(event(domain.EventOddsUpdate, nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, calls)
}
