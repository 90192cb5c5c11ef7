package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewEventBus()
	var received []Event

	bus.Subscribe(func(e Event) {
		received = append(received, e)
	})

	bus.Emit(Event{Type: EventAddressChanged, Payload: AddressEvent{Host: "10.0.0.2"}})
	bus.Emit(Event{Type: EventServiceStarted, Payload: ServiceEvent{Name: "mqtt"}})

	require.Len(t, received, 2)
	assert.Equal(t, EventAddressChanged, received[0].Type)
	assert.Equal(t, EventServiceStarted, received[1].Type)
}

func TestSubscribeTypes(t *testing.T) {
	bus := NewEventBus()
	var received []Event

	bus.SubscribeTypes(func(e Event) {
		received = append(received, e)
	}, EventServiceStarted, EventServiceStopped)

	bus.Emit(Event{Type: EventServiceStarted, Payload: ServiceEvent{Name: "valkey"}})
	bus.Emit(Event{Type: EventAddressChanged, Payload: AddressEvent{Host: "h"}}) // filtered
	bus.Emit(Event{Type: EventServiceStopped, Payload: ServiceEvent{Name: "kafka"}})

	require.Len(t, received, 2)
	assert.Equal(t, "valkey", received[0].Payload.(ServiceEvent).Name)
	assert.Equal(t, "kafka", received[1].Payload.(ServiceEvent).Name)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	count := 0

	id := bus.Subscribe(func(e Event) {
		count++
	})

	bus.Emit(Event{Type: EventConfigSaved})
	require.Equal(t, 1, count)

	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventConfigSaved})
	assert.Equal(t, 1, count, "after unsubscribe")
}

func TestUnsubscribeNonExistent(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() { bus.Unsubscribe(999) })
}

func TestEmitSetsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var received Event

	bus.Subscribe(func(e Event) {
		received = e
	})

	bus.Emit(Event{Type: EventConfigSaved})
	assert.False(t, received.Timestamp.IsZero())
}

func TestConcurrentEmit(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(Event{Type: EventServiceStarted})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 100, count)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "address_changed", EventAddressChanged.String())
	assert.Equal(t, "service_failed", EventServiceFailed.String())
	assert.Equal(t, "unknown", EventType(0).String())
}
