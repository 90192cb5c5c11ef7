package plcman

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"maintlink/config"
	"maintlink/driver"
	"maintlink/s7"
	"maintlink/status"
)

// manualClock fires timers only when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the durations of timers that have neither fired nor been stopped.
func (c *manualClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PendingCount returns how many live timers have duration d.
func (c *manualClock) PendingCount(d time.Duration) int {
	n := 0
	for _, p := range c.Pending() {
		if p == d {
			n++
		}
	}
	return n
}

var errRefused = errors.New("dial tcp 10.0.0.9:102: connect: connection refused")

// fakeEndpoint serves reads from a fixed value map.
type fakeEndpoint struct {
	mu      sync.Mutex
	values  map[string]interface{}
	readErr error
	gate    chan struct{}
	delay   time.Duration

	reads       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
	closed      atomic.Bool
	writes      []writeCall
	writeErr    error
}

type writeCall struct {
	key   string
	value interface{}
}

func newFakeEndpoint(values map[string]interface{}) *fakeEndpoint {
	return &fakeEndpoint{values: values}
}

func (e *fakeEndpoint) Read(ctx context.Context, items []s7.Item) (map[string]interface{}, error) {
	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		peak := e.maxInflight.Load()
		if n <= peak || e.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}
	e.reads.Add(1)

	e.mu.Lock()
	gate, delay := e.gate, e.delay
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return nil, e.readErr
	}
	out := make(map[string]interface{}, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out, nil
}

func (e *fakeEndpoint) Write(ctx context.Context, item s7.Item, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writeErr != nil {
		return e.writeErr
	}
	e.writes = append(e.writes, writeCall{key: item.Key, value: value})
	e.values[item.Key] = value
	return nil
}

func (e *fakeEndpoint) Writes() []writeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]writeCall(nil), e.writes...)
}

func (e *fakeEndpoint) setReadErr(err error) {
	e.mu.Lock()
	e.readErr = err
	e.mu.Unlock()
}

func (e *fakeEndpoint) setGate(ch chan struct{}) {
	e.mu.Lock()
	e.gate = ch
	e.mu.Unlock()
}

func (e *fakeEndpoint) Close() error {
	e.closed.Store(true)
	return errors.New("close on a dead socket")
}

func (e *fakeEndpoint) ConnectionMode() string { return "fake" }

// fakeDialer fails the first failures attempts, then hands out a fresh
// endpoint per attempt. All endpoints share one value map.
type fakeDialer struct {
	mu       sync.Mutex
	clock    *manualClock
	failures int
	values   map[string]interface{}
	eps      []*fakeEndpoint
	attempts []time.Time
	hosts    []string
}

func (d *fakeDialer) Dial(ctx context.Context, cfg config.PLCConfig) (driver.Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, d.clock.Now())
	d.hosts = append(d.hosts, cfg.Host)
	if len(d.attempts) <= d.failures {
		return nil, errRefused
	}
	ep := newFakeEndpoint(d.values)
	d.eps = append(d.eps, ep)
	return ep, nil
}

func (d *fakeDialer) Attempts() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

func (d *fakeDialer) Hosts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.hosts...)
}

// Latest returns the most recently dialled endpoint.
func (d *fakeDialer) Latest() *fakeEndpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.eps) == 0 {
		return nil
	}
	return d.eps[len(d.eps)-1]
}

// watcher records what a display surface would see.
type watcher struct {
	mu     sync.Mutex
	labels []string
	snaps  []status.Snapshot
	stats  int
}

func (w *watcher) Alive() bool { return true }

func (w *watcher) OnSnapshot(s status.Snapshot) {
	w.mu.Lock()
	w.snaps = append(w.snaps, s)
	w.mu.Unlock()
}

func (w *watcher) OnStatus(label string) {
	w.mu.Lock()
	w.labels = append(w.labels, label)
	w.mu.Unlock()
}

func (w *watcher) OnStats(status.StatsUpdate) {
	w.mu.Lock()
	w.stats++
	w.mu.Unlock()
}

func (w *watcher) Labels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.labels...)
}

func (w *watcher) Snapshots() []status.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]status.Snapshot(nil), w.snaps...)
}

func (w *watcher) SnapshotCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.snaps)
}
