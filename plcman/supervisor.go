package plcman

import (
	"go.uber.org/zap"

	"maintlink/driver"
	"maintlink/logging"
)

type connectDone struct {
	epoch uint64
	ep    driver.Endpoint
	err   error
}

// setState moves the state machine. Illegal transitions are refused.
func (m *Manager) setState(to State) bool {
	from := m.state
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		m.log.Error("illegal state transition refused",
			zap.Stringer("from", from), zap.Stringer("to", to))
		return false
	}
	m.state = to
	m.stateView.Store(int32(to))
	m.hub.SetConnection(to.String(), to == StateConnected, m.cfg.Host, m.clock.Now())
	m.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	return true
}

// connect is the user-initiated connect. From Connected it drops the
// current session first; from Connecting it does nothing since an attempt
// is already in flight.
func (m *Manager) connect() {
	switch m.state {
	case StateConnecting:
		m.log.Debug("connect ignored, attempt in flight")
		return
	case StateConnected:
		m.teardown()
	}
	m.timers.cancel(timerReconnect)
	m.attempt(false)
}

// attempt starts one connect attempt with the current config.
func (m *Manager) attempt(auto bool) {
	if !m.setState(StateConnecting) {
		return
	}
	m.autoAttempt = auto
	if !m.timers.armed(timerStatus) {
		m.timers.arm(timerStatus, m.timing.Status)
	}
	m.hub.PublishStatus(LabelConnecting)

	m.epoch++
	epoch, cfg := m.epoch, m.cfg
	m.log.Info("connecting", zap.String("address", cfg.Address()),
		zap.Stringer("family", cfg.Family), zap.Bool("automatic", auto))

	m.spawn(func() {
		ep, err := m.dialer.Dial(m.ctx, cfg)
		if !m.post(connectDone{epoch: epoch, ep: ep, err: err}) && ep != nil {
			_ = ep.Close()
		}
	})
}

func (m *Manager) connectDone(ev connectDone) {
	if ev.epoch != m.epoch || m.state != StateConnecting {
		if ev.ep != nil {
			m.closeAsync(ev.ep)
		}
		return
	}

	if ev.err != nil {
		m.hub.RecordError("connect", ev.err, m.clock.Now())
		label := LabelConnectFailed
		if m.autoAttempt {
			label = LabelReconnectFailed
		}
		m.log.Warn(label, zap.String("address", m.cfg.Address()), zap.Error(ev.err))
		m.handleFailure(ev.err, label)
		return
	}

	m.ep = ev.ep
	if !m.setState(StateConnected) {
		return
	}
	m.log.Info(LabelConnected, zap.String("address", m.cfg.Address()),
		zap.String("mode", ev.ep.ConnectionMode()))
	m.hub.PublishStatus(LabelConnected)
	m.tick()
}

// handleFailure moves a live or connecting link to Reconnecting. It is a
// no-op when the link is already Reconnecting or Disconnected, so a read and
// a write failing together produce a single transition.
func (m *Manager) handleFailure(cause error, label string) {
	if m.state == StateReconnecting || m.state == StateDisconnected {
		m.log.Debug("duplicate failure ignored", zap.Error(cause))
		return
	}
	if !m.setState(StateReconnecting) {
		return
	}
	logging.DebugDisconnect(m.cfg.Family.String(), m.cfg.Address(), cause.Error())
	m.hub.PublishStatus(label)
	m.teardown()
	m.scheduleReconnect()
}

// scheduleReconnect arms the fixed-delay reconnect timer. There is no
// backoff and no retry limit.
func (m *Manager) scheduleReconnect() {
	m.timers.arm(timerReconnect, m.timing.Reconnect)
	m.log.Info("reconnect scheduled", zap.Duration("delay", m.timing.Reconnect))
}

// disconnect is the explicit user disconnect. All three timers stop.
func (m *Manager) disconnect() {
	if m.state == StateDisconnected {
		return
	}
	m.timers.cancelAll()
	m.teardown()
	m.setState(StateDisconnected)
	m.log.Info("disconnected by request")
	m.hub.PublishStatus(LabelDisconnected)
	m.hub.TickSummary(m.clock.Now())
}

// teardown stops polling and discards the endpoint. Anything still in
// flight belongs to the old epoch and will be ignored on completion.
func (m *Manager) teardown() {
	m.timers.cancel(timerPoll)
	m.epoch++
	m.reading = false
	if ep := m.ep; ep != nil {
		m.ep = nil
		m.closeAsync(ep)
	}
}

// closeAsync closes ep off the loop. Close errors are logged and dropped.
func (m *Manager) closeAsync(ep driver.Endpoint) {
	m.spawn(func() {
		if err := ep.Close(); err != nil {
			m.log.Debug("endpoint close failed", zap.Error(err))
		}
	})
}

// updateConfig changes the host for the next connect attempt. A session
// that is already open or being opened is left alone.
func (m *Manager) updateConfig(host string) {
	if host == "" || host == m.cfg.Host {
		return
	}
	m.cfg.Host = host
	m.cfgMu.Lock()
	m.cfgView.Host = host
	m.cfgMu.Unlock()
	m.hub.SetConnection(m.state.String(), m.state == StateConnected, host, m.clock.Now())
	m.log.Info("controller address updated", zap.String("host", host))
}
