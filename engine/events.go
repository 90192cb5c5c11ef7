package engine

import (
	"sync"
	"time"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Link events
	EventAddressChanged EventType = iota + 1
	EventConfigSaved

	// Republisher and web surface events
	EventServiceStarted
	EventServiceFailed
	EventServiceStopped
)

func (t EventType) String() string {
	switch t {
	case EventAddressChanged:
		return "address_changed"
	case EventConfigSaved:
		return "config_saved"
	case EventServiceStarted:
		return "service_started"
	case EventServiceFailed:
		return "service_failed"
	case EventServiceStopped:
		return "service_stopped"
	default:
		return "unknown"
	}
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// AddressEvent is the payload for EventAddressChanged.
type AddressEvent struct {
	Host    string
	Connect bool // the change also requested a connection
}

// ServiceEvent is the payload for web/MQTT/Valkey/Kafka lifecycle events.
type ServiceEvent struct {
	Name    string
	Address string
	Error   string
}

// SystemEvent is the payload for system-level events.
type SystemEvent struct {
	Detail string
}

// HandlerID identifies an EventBus subscription.
type HandlerID int

type handler struct {
	fn    func(Event)
	types map[EventType]bool // nil = all types
}

// EventBus delivers engine events synchronously to every handler.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[HandlerID]handler
	next     HandlerID
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[HandlerID]handler)}
}

// Subscribe registers fn for every event type.
func (b *EventBus) Subscribe(fn func(Event)) HandlerID {
	return b.SubscribeTypes(fn)
}

// SubscribeTypes registers fn for the listed types only. With no types it
// receives everything.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) HandlerID {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[b.next] = handler{fn: fn, types: filter}
	return b.next
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (b *EventBus) Unsubscribe(id HandlerID) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Emit stamps the event and calls every matching handler in the caller's
// goroutine.
func (b *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		if h.types == nil || h.types[e.Type] {
			fns = append(fns, h.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
