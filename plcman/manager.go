// Package plcman supervises the link to the controller: it connects,
// polls the catalog items on a fixed period, detects failures and keeps
// reconnecting until told to stop.
//
// All link state is owned by a single event-loop goroutine. Commands, I/O
// completions and timer fires are events on one channel, so none of them
// ever run in parallel with another.
package plcman

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/driver"
	"maintlink/logging"
	"maintlink/status"
)

// Timing holds the loop periods.
type Timing struct {
	Poll      time.Duration
	Reconnect time.Duration
	Status    time.Duration
}

// DefaultTiming returns 100ms polling, a 5s reconnect delay and a 1s
// status heartbeat.
func DefaultTiming() Timing {
	return Timing{
		Poll:      100 * time.Millisecond,
		Reconnect: 5 * time.Second,
		Status:    time.Second,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces driver.Default.
func WithDialer(d driver.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTiming replaces DefaultTiming.
func WithTiming(t Timing) Option {
	return func(m *Manager) { m.timing = t }
}

// WithLogger replaces the component logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager is the link supervisor. Its exported methods may be called from
// any goroutine; commands return immediately and their effect is observed
// through the status hub.
type Manager struct {
	log    *zap.Logger
	dialer driver.Dialer
	cat    *catalog.Catalog
	hub    *status.Hub
	clock  Clock
	timing Timing

	events  chan event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	// Owned by the loop goroutine.
	cfg         config.PLCConfig
	state       State
	ep          driver.Endpoint
	epoch       uint64
	reading     bool
	autoAttempt bool
	seq         uint64
	faults      int
	outputs     map[string]bool
	timers      *timerSet

	// Read-only mirrors for other goroutines.
	stateView atomic.Int32
	cfgMu     sync.RWMutex
	cfgView   config.PLCConfig
}

// New creates a manager for cfg. The manager does nothing until Start.
func New(cfg config.PLCConfig, cat *catalog.Catalog, hub *status.Hub, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:     logging.Named("plcman"),
		dialer:  driver.Default,
		cat:     cat,
		hub:     hub,
		clock:   realClock{},
		timing:  DefaultTiming(),
		events:  make(chan event, 64),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		cfg:     cfg,
		cfgView: cfg,
		outputs: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timers = newTimerSet(m.clock, func(ev timerFired) { m.post(ev) })
	hub.SetConnection(StateDisconnected.String(), false, cfg.Host, m.clock.Now())
	return m
}

// Start launches the event loop.
func (m *Manager) Start() {
	if m.stopped.Load() || !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

// Stop tears down the link, stops the loop and waits for in-flight I/O to
// return. The final state is Disconnected.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	if m.started.Load() {
		<-m.done
	} else {
		close(m.done)
	}
	m.wg.Wait()
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.stateView.Load())
}

// Config returns the connection configuration the next attempt will use.
func (m *Manager) Config() config.PLCConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfgView
}

// Hub returns the status hub the manager publishes to.
func (m *Manager) Hub() *status.Hub { return m.hub }

// Catalog returns the address catalog being polled.
func (m *Manager) Catalog() *catalog.Catalog { return m.cat }

// ConnectionMode describes the live session, or "Not connected".
func (m *Manager) ConnectionMode() string {
	mode := "Not connected"
	m.invoke(func() {
		if m.ep != nil {
			mode = m.ep.ConnectionMode()
		}
	})
	return mode
}

type event interface{}

// invokeEvent runs fn on the loop goroutine.
type invokeEvent struct {
	fn   func()
	done chan struct{}
}

// post hands an event to the loop. It returns false once the loop has exited.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// invoke runs fn on the loop goroutine and waits for it. It returns false
// without running fn if the loop is not running.
func (m *Manager) invoke(fn func()) bool {
	if !m.started.Load() {
		return false
	}
	ev := invokeEvent{fn: fn, done: make(chan struct{})}
	if !m.post(ev) {
		return false
	}
	select {
	case <-ev.done:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev event) {
	switch e := ev.(type) {
	case cmdConnect:
		if e.host != "" {
			m.updateConfig(e.host)
		}
		m.connect()
	case cmdDisconnect:
		m.disconnect()
	case cmdUpdateAddress:
		m.updateConfig(e.host)
	case cmdToggle:
		m.toggle(e.name)
	case connectDone:
		m.connectDone(e)
	case readDone:
		m.readDone(e)
	case writeDone:
		m.writeDone(e)
	case timerFired:
		m.timerFired(e)
	case invokeEvent:
		e.fn()
		close(e.done)
	default:
		m.log.Error("unknown event", zap.Any("event", ev))
	}
}

func (m *Manager) timerFired(ev timerFired) {
	if !m.timers.take(ev) {
		return
	}
	switch ev.kind {
	case timerPoll:
		m.tick()
	case timerReconnect:
		if m.state == StateReconnecting {
			m.hub.RecordReconnectAttempt()
			m.attempt(true)
		}
	case timerStatus:
		m.hub.TickSummary(m.clock.Now())
		m.timers.arm(timerStatus, m.timing.Status)
	}
}

// spawn runs fn on a tracked I/O goroutine.
func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) shutdown() {
	m.timers.cancelAll()
	if ep := m.ep; ep != nil {
		m.ep = nil
		if err := ep.Close(); err != nil {
			m.log.Debug("close on shutdown failed", zap.Error(err))
		}
	}
	m.epoch++
	m.reading = false
	if m.state != StateDisconnected {
		m.setState(StateDisconnected)
		m.hub.PublishStatus(LabelDisconnected)
	}
}

// LastSnapshot returns the most recent published snapshot.
func (m *Manager) LastSnapshot() (status.Snapshot, bool) {
	return m.hub.LastSnapshot()
}
