package status

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"maintlink/logging"
)

// Event types carried by a Relay.
const (
	EventSnapshot = "snapshot"
	EventStatus   = "status"
	EventStats    = "stats"
)

// Event is one hub callback captured for asynchronous delivery.
type Event struct {
	Type     string
	At       time.Time
	Snapshot Snapshot
	Label    string
	Stats    StatsUpdate
}

// Payload returns the value a republisher serialises for the event.
func (e Event) Payload() interface{} {
	switch e.Type {
	case EventSnapshot:
		return e.Snapshot
	case EventStatus:
		return StatusMessage{Label: e.Label, At: e.At}
	default:
		return e.Stats
	}
}

// StatusMessage is the serialised form of a status label.
type StatusMessage struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
}

// DefaultRelayQueue is the default number of events a relay buffers.
const DefaultRelayQueue = 100

// Relay is a Subscriber that hands events to a single worker goroutine, so
// a slow broker never stalls the publisher. When the queue is full the
// event is dropped and counted.
type Relay struct {
	name    string
	log     *zap.Logger
	handle  func(Event)
	queue   chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
	alive   atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
}

// NewRelay starts a relay whose worker calls handle for every event.
func NewRelay(name string, size int, handle func(Event)) *Relay {
	if size <= 0 {
		size = DefaultRelayQueue
	}
	r := &Relay{
		name:   name,
		log:    logging.Named("relay").With(zap.String("relay", name)),
		handle: handle,
		queue:  make(chan Event, size),
		stop:   make(chan struct{}),
	}
	r.alive.Store(true)
	r.wg.Add(1)
	go r.worker()
	return r
}

func (r *Relay) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case ev := <-r.queue:
			r.handle(ev)
		}
	}
}

func (r *Relay) enqueue(ev Event) {
	if !r.alive.Load() {
		return
	}
	select {
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warn("relay queue full, dropping events", zap.Uint64("dropped", n))
		}
	}
}

// Alive reports false once Close has been called.
func (r *Relay) Alive() bool { return r.alive.Load() }

func (r *Relay) OnSnapshot(s Snapshot) {
	r.enqueue(Event{Type: EventSnapshot, At: s.At, Snapshot: s})
}

func (r *Relay) OnStatus(label string) {
	r.enqueue(Event{Type: EventStatus, At: time.Now(), Label: label})
}

func (r *Relay) OnStats(u StatsUpdate) {
	r.enqueue(Event{Type: EventStats, At: time.Now(), Stats: u})
}

// Dropped returns how many events were discarded on a full queue.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Close stops the worker and waits for the event in progress to finish.
// Queued events are discarded.
func (r *Relay) Close() {
	r.once.Do(func() {
		r.alive.Store(false)
		close(r.stop)
		r.wg.Wait()
	})
}
