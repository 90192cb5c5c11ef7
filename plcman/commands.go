package plcman

import (
	"go.uber.org/zap"

	"maintlink/driver"
	"maintlink/status"
)

type (
	cmdConnect       struct{ host string }
	cmdDisconnect    struct{}
	cmdUpdateAddress struct{ host string }
	cmdToggle        struct{ name string }
)

type writeDone struct {
	epoch uint64
	name  string
	value bool
	err   error
}

// Connect asks for an immediate connect attempt with the current address.
// Any pending reconnect timer is cancelled. From Connected the session is
// dropped and reopened.
func (m *Manager) Connect() {
	m.post(cmdConnect{})
}

// ConnectTo updates the address to host and then connects.
func (m *Manager) ConnectTo(host string) {
	m.post(cmdConnect{host: host})
}

// Reconnect is the disconnect-then-reconnect request. It behaves exactly
// like Connect.
func (m *Manager) Reconnect() {
	m.post(cmdConnect{})
}

// Disconnect closes the link and stops all retries.
func (m *Manager) Disconnect() {
	m.post(cmdDisconnect{})
}

// UpdateAddress replaces the host used by the next connect attempt.
func (m *Manager) UpdateAddress(host string) {
	m.post(cmdUpdateAddress{host: host})
}

// ToggleOutput inverts a writable boolean signal. It is silently ignored
// when the link is not connected or the name is unknown.
func (m *Manager) ToggleOutput(name string) {
	m.post(cmdToggle{name: name})
}

// OpenSecondaryWindow registers an extra display surface and immediately
// sends it the latest status, snapshot and stats.
func (m *Manager) OpenSecondaryWindow(sub status.Subscriber) status.SubscriberID {
	return m.hub.SubscribeAndReplay(sub)
}

// CloseWindow removes a surface registered with OpenSecondaryWindow.
func (m *Manager) CloseWindow(id status.SubscriberID) {
	m.hub.Unsubscribe(id)
}

func (m *Manager) toggle(name string) {
	if m.state != StateConnected || m.ep == nil {
		m.log.Debug("toggle ignored, not connected", zap.String("output", name))
		return
	}
	item, ok := m.cat.Output(name)
	if !ok {
		m.log.Warn("toggle ignored, unknown output", zap.String("output", name))
		return
	}

	value := !m.outputs[name]
	epoch, ep := m.epoch, m.ep
	m.spawn(func() {
		err := ep.Write(m.ctx, item, value)
		m.post(writeDone{epoch: epoch, name: name, value: value, err: err})
	})
}

func (m *Manager) writeDone(ev writeDone) {
	if ev.epoch != m.epoch {
		return
	}
	if ev.err != nil {
		m.hub.RecordError("write", ev.err, m.clock.Now())
		if driver.IsConnectionError(ev.err) {
			m.log.Warn("write failed", zap.String("output", ev.name), zap.Error(ev.err))
			m.handleFailure(ev.err, LabelLost)
			return
		}
		m.log.Warn("write rejected", zap.String("output", ev.name), zap.Error(ev.err))
		return
	}
	m.outputs[ev.name] = ev.value
	m.log.Info("output toggled", zap.String("output", ev.name), zap.Bool("value", ev.value))
}
