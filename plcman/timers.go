package plcman

import "time"

type timerKind int

const (
	timerPoll timerKind = iota
	timerReconnect
	timerStatus
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerPoll:
		return "poll"
	case timerReconnect:
		return "reconnect"
	case timerStatus:
		return "status"
	default:
		return "unknown"
	}
}

// timerFired is posted to the loop when a timer expires.
type timerFired struct {
	kind timerKind
	seq  uint64
}

// timerSet holds at most one live timer of each kind. Arming a kind always
// stops the previous timer of that kind first, and every arm or cancel bumps
// the kind's sequence number so a fire that raced with Stop is recognised
// as stale. Only the loop goroutine touches a timerSet.
type timerSet struct {
	clock Clock
	fire  func(timerFired)
	live  [numTimers]Timer
	seq   [numTimers]uint64
}

func newTimerSet(clock Clock, fire func(timerFired)) *timerSet {
	return &timerSet{clock: clock, fire: fire}
}

func (t *timerSet) arm(k timerKind, d time.Duration) {
	t.cancel(k)
	seq := t.seq[k]
	t.live[k] = t.clock.AfterFunc(d, func() {
		t.fire(timerFired{kind: k, seq: seq})
	})
}

func (t *timerSet) cancel(k timerKind) {
	if t.live[k] != nil {
		t.live[k].Stop()
		t.live[k] = nil
	}
	t.seq[k]++
}

func (t *timerSet) cancelAll() {
	for k := timerKind(0); k < numTimers; k++ {
		t.cancel(k)
	}
}

func (t *timerSet) armed(k timerKind) bool {
	return t.live[k] != nil
}

// take consumes a fire event. It returns false for fires of timers that
// have since been cancelled or re-armed.
func (t *timerSet) take(ev timerFired) bool {
	if t.live[ev.kind] == nil || t.seq[ev.kind] != ev.seq {
		return false
	}
	t.live[ev.kind] = nil
	t.seq[ev.kind]++
	return true
}
