// Package status fans connection state and decoded snapshots out to the
// registered display surfaces and keeps the rolling history they render.
package status

import (
	"time"

	"maintlink/catalog"
)

// Snapshot is one decoded poll cycle. It is never modified after it is
// published; subscribers must treat the maps inside it as read-only.
type Snapshot struct {
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
	catalog.Decoded
}

// ConnectionSample is one heartbeat entry of the connection timeline.
type ConnectionSample struct {
	At        time.Time `json:"at"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
}

// ValueSample is one entry of the value history.
type ValueSample struct {
	At    time.Time     `json:"at"`
	Seq   uint64        `json:"seq"`
	Panel catalog.Panel `json:"panel"`
}

// ErrorEvent is one recorded failure.
type ErrorEvent struct {
	At      time.Time `json:"at"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

// ConnectionStats are the aggregate counters shown in the status panel.
type ConnectionStats struct {
	State             string       `json:"state"`
	Connected         bool         `json:"connected"`
	Host              string       `json:"host"`
	TotalRequests     uint64       `json:"totalRequests"`
	ErrorCount        uint64       `json:"errorCount"`
	ReconnectAttempts uint64       `json:"reconnectAttempts"`
	LastError         string       `json:"lastError,omitempty"`
	ConnectedSince    *time.Time   `json:"connectedSince,omitempty"`
	RecentErrors      []ErrorEvent `json:"recentErrors"`
}

// HistoricalData holds the rolling buffers, oldest first.
type HistoricalData struct {
	Connection []ConnectionSample `json:"connection"`
	Values     []ValueSample      `json:"values"`
}

// StatsUpdate is the payload of the periodic heartbeat.
type StatsUpdate struct {
	ConnectionStats ConnectionStats `json:"connectionStats"`
	HistoricalData  HistoricalData  `json:"historicalData"`
}

// Subscriber is a display surface. Callbacks run on the publishing goroutine
// and must not block. A subscriber reporting !Alive() is skipped and dropped.
type Subscriber interface {
	Alive() bool
	OnSnapshot(Snapshot)
	OnStatus(label string)
	OnStats(StatsUpdate)
}

// Funcs adapts plain functions to Subscriber. Nil callbacks are ignored and
// a nil AliveFunc means always alive.
type Funcs struct {
	AliveFunc    func() bool
	SnapshotFunc func(Snapshot)
	StatusFunc   func(string)
	StatsFunc    func(StatsUpdate)
}

func (f Funcs) Alive() bool {
	return f.AliveFunc == nil || f.AliveFunc()
}

func (f Funcs) OnSnapshot(s Snapshot) {
	if f.SnapshotFunc != nil {
		f.SnapshotFunc(s)
	}
}

func (f Funcs) OnStatus(label string) {
	if f.StatusFunc != nil {
		f.StatusFunc(label)
	}
}

func (f Funcs) OnStats(u StatsUpdate) {
	if f.StatsFunc != nil {
		f.StatsFunc(u)
	}
}
