package plcman

import (
	"bytes"

	"go.uber.org/zap"

	"maintlink/catalog"
	"maintlink/logging"
	"maintlink/status"
)

type readDone struct {
	epoch  uint64
	values map[string]interface{}
	err    error
}

// tick issues one batched read. Only one read is ever in flight; the next
// tick is armed when this one completes.
func (m *Manager) tick() {
	if m.state != StateConnected || m.ep == nil || m.reading {
		return
	}
	m.reading = true
	m.hub.RecordRequest()

	epoch, ep, items := m.epoch, m.ep, m.cat.Items()
	m.spawn(func() {
		values, err := ep.Read(m.ctx, items)
		m.post(readDone{epoch: epoch, values: values, err: err})
	})
}

func (m *Manager) readDone(ev readDone) {
	if ev.epoch != m.epoch {
		return
	}
	m.reading = false
	if m.state != StateConnected {
		return
	}

	if ev.err != nil {
		m.hub.RecordError("read", ev.err, m.clock.Now())
		m.log.Warn("read failed", zap.Error(ev.err))
		m.handleFailure(ev.err, LabelLost)
		return
	}

	m.seq++
	snap := status.Snapshot{
		Seq:     m.seq,
		At:      m.clock.Now(),
		Decoded: m.cat.Format(ev.values),
	}
	for _, name := range m.cat.Outputs() {
		if v, ok := snap.Signals[name].(bool); ok {
			m.outputs[name] = v
		}
	}
	m.noteFaults(snap.Decoded)
	m.hub.PublishSnapshot(snap)
	m.timers.arm(timerPoll, m.timing.Poll)
}

// noteFaults logs when the active fault count changes.
func (m *Manager) noteFaults(d catalog.Decoded) {
	n := d.Faults.ActiveCount()
	if n == m.faults {
		return
	}
	m.faults = n
	m.log.Info("active faults changed", zap.Int("count", n), zap.Strings("faults", d.Faults.Active()))
	if logging.GetGlobalDebugLogger() != nil {
		var buf bytes.Buffer
		catalog.Dump(&buf, d)
		logging.DebugLog("plcman", "panel state:\n%s", buf.String())
	}
}
