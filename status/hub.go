package status

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"maintlink/logging"
)

// SubscriberID identifies a registration with a Hub.
type SubscriberID uint64

// Capacities sets the rolling buffer sizes.
type Capacities struct {
	Connection int
	Values     int
	Errors     int
}

// DefaultCapacities returns a 60-sample timeline, 100-sample value history
// and 20 recent errors.
func DefaultCapacities() Capacities {
	return Capacities{Connection: 60, Values: 100, Errors: 20}
}

// Hub distributes snapshots, status labels and stats to subscribers and
// owns the rolling statistics.
type Hub struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   map[SubscriberID]Subscriber
	nextID SubscriberID

	conn   *Ring[ConnectionSample]
	values *Ring[ValueSample]
	errs   *Ring[ErrorEvent]
	stats  ConnectionStats
	last   *Snapshot
	label  string

	// deliverMu keeps delivery order identical to publish order, including
	// replays to newly opened surfaces.
	deliverMu sync.Mutex
}

// NewHub creates a hub with the given buffer capacities.
func NewHub(caps Capacities) *Hub {
	return &Hub{
		log:    logging.Named("status"),
		subs:   make(map[SubscriberID]Subscriber),
		conn:   NewRing[ConnectionSample](caps.Connection),
		values: NewRing[ValueSample](caps.Values),
		errs:   NewRing[ErrorEvent](caps.Errors),
		stats:  ConnectionStats{State: "Disconnected"},
	}
}

// Subscribe registers s and returns its id.
func (h *Hub) Subscribe(s Subscriber) SubscriberID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs[h.nextID] = s
	return h.nextID
}

// Unsubscribe removes a registration. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id SubscriberID) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// SubscriberCount returns the number of registrations, including any dead
// subscribers not yet pruned.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// live returns the subscribers that are still alive, in registration
// order, and drops the rest. Must be called with h.mu held.
func (h *Hub) live() []Subscriber {
	ids := make([]SubscriberID, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		s := h.subs[id]
		if !s.Alive() {
			delete(h.subs, id)
			h.log.Debug("dropped closed subscriber", zap.Uint64("id", uint64(id)))
			continue
		}
		out = append(out, s)
	}
	return out
}

// deliver calls fn for every subscriber still alive at delivery time.
func (h *Hub) deliver(subs []Subscriber, fn func(Subscriber)) {
	for _, s := range subs {
		if s.Alive() {
			fn(s)
		}
	}
}

// PublishSnapshot records snap in the value history and forwards it.
func (h *Hub) PublishSnapshot(snap Snapshot) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.values.Add(ValueSample{At: snap.At, Seq: snap.Seq, Panel: snap.Panel})
	h.last = &snap
	subs := h.live()
	h.mu.Unlock()

	h.deliver(subs, func(s Subscriber) { s.OnSnapshot(snap) })
}

// PublishStatus forwards a connection state label.
func (h *Hub) PublishStatus(label string) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.label = label
	subs := h.live()
	h.mu.Unlock()

	h.deliver(subs, func(s Subscriber) { s.OnStatus(label) })
}

// TickSummary appends a connection sample and republishes the stats,
// whether or not anything changed since the previous tick.
func (h *Hub) TickSummary(at time.Time) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.conn.Add(ConnectionSample{At: at, State: h.stats.State, Connected: h.stats.Connected})
	update := h.statsLocked()
	subs := h.live()
	h.mu.Unlock()

	h.deliver(subs, func(s Subscriber) { s.OnStats(update) })
}

// SetConnection records the current connection state.
func (h *Hub) SetConnection(state string, connected bool, host string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if connected && !h.stats.Connected {
		t := at
		h.stats.ConnectedSince = &t
	} else if !connected {
		h.stats.ConnectedSince = nil
	}
	h.stats.State = state
	h.stats.Connected = connected
	h.stats.Host = host
}

// RecordRequest counts one issued read.
func (h *Hub) RecordRequest() {
	h.mu.Lock()
	h.stats.TotalRequests++
	h.mu.Unlock()
}

// RecordReconnectAttempt counts one automatic reconnect attempt.
func (h *Hub) RecordReconnectAttempt() {
	h.mu.Lock()
	h.stats.ReconnectAttempts++
	h.mu.Unlock()
}

// RecordError counts a failure and keeps it in the recent error list.
func (h *Hub) RecordError(op string, err error, at time.Time) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.ErrorCount++
	h.stats.LastError = err.Error()
	h.errs.Add(ErrorEvent{At: at, Op: op, Message: err.Error()})
}

func (h *Hub) statsLocked() StatsUpdate {
	cs := h.stats
	cs.RecentErrors = h.errs.Items()
	return StatsUpdate{
		ConnectionStats: cs,
		HistoricalData: HistoricalData{
			Connection: h.conn.Items(),
			Values:     h.values.Items(),
		},
	}
}

// Stats returns the current aggregate stats and history.
func (h *Hub) Stats() StatsUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statsLocked()
}

// LastSnapshot returns the most recently published snapshot.
func (h *Hub) LastSnapshot() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return Snapshot{}, false
	}
	return *h.last, true
}

// LastStatus returns the most recently published label.
func (h *Hub) LastStatus() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.label
}

// Replay sends the latest status, snapshot and stats to s alone. Used when a
// surface opens after the link is already running.
func (h *Hub) Replay(s Subscriber) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	label, snap, update := h.replayStateLocked()
	h.mu.Unlock()
	replay(s, label, snap, update)
}

// SubscribeAndReplay registers s and replays the latest state to it as one
// step, so a publish racing the registration reaches s exactly once.
func (h *Hub) SubscribeAndReplay(s Subscriber) SubscriberID {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = s
	label, snap, update := h.replayStateLocked()
	h.mu.Unlock()
	replay(s, label, snap, update)
	return id
}

func (h *Hub) replayStateLocked() (string, *Snapshot, StatsUpdate) {
	var snap *Snapshot
	if h.last != nil {
		cp := *h.last
		snap = &cp
	}
	return h.label, snap, h.statsLocked()
}

func replay(s Subscriber, label string, snap *Snapshot, update StatsUpdate) {
	if !s.Alive() {
		return
	}
	if label != "" {
		s.OnStatus(label)
	}
	if snap != nil {
		s.OnSnapshot(*snap)
	}
	s.OnStats(update)
}
