package tui

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/plcman"
	"maintlink/status"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	state plcman.State
	hub   *status.Hub
	cat   *catalog.Catalog
	cfg   config.PLCConfig
}

func newFakeController() *fakeController {
	return &fakeController{
		hub: status.NewHub(status.DefaultCapacities()),
		cat: catalog.Default(),
		cfg: config.DefaultConfig().PLC,
	}
}

func (c *fakeController) record(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *fakeController) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeController) Connect() { c.record("connect") }
func (c *fakeController) ConnectTo(host string) { c.record("connect " + host) }
func (c *fakeController) Reconnect() { c.record("reconnect") }
func (c *fakeController) Disconnect() { c.record("disconnect") }
func (c *fakeController) ToggleOutput(n string) { c.record("toggle " + n) }
func (c *fakeController) UpdateAddress(h string) { c.record("address " + h) }
func (c *fakeController) State() plcman.State { return c.state }
func (c *fakeController) Config() config.PLCConfig { return c.cfg }
func (c *fakeController) Hub() *status.Hub { return c.hub }
func (c *fakeController) Catalog() *catalog.Catalog { return c.cat }

func newTestApp(t *testing.T) (*App, *fakeController) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	ctl := newFakeController()
	return NewAppWithScreen(ctl, screen), ctl
}

func key(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestKeysIssueCommands(t *testing.T) {
	a, ctl := newTestApp(t)

	for _, r := range "crd" {
		assert.Nil(t, a.handleGlobalKeys(key(r)))
	}
	assert.Equal(t, []string{"connect", "reconnect", "disconnect"}, ctl.Calls())

	ev := key('x')
	assert.Same(t, ev, a.handleGlobalKeys(ev))
}

func TestToggleSelectedOutput(t *testing.T) {
	a, ctl := newTestApp(t)
	assert.Equal(t, []string{"clearForcing", "faultReset", "indicator"}, a.outputNames)
	assert.Equal(t, "clearForcing", a.selectedOutput())

	a.handleGlobalKeys(key('t'))
	assert.Empty(t, ctl.Calls(), "toggle while disconnected")
	assert.Contains(t, a.statusBar.GetText(true), "Not connected")

	ctl.state = plcman.StateConnected
	a.outputs.Select(3, 0)
	a.handleGlobalKeys(key('t'))
	assert.Equal(t, []string{"toggle indicator"}, ctl.Calls())
}

func TestModalCapturesKeys(t *testing.T) {
	a, ctl := newTestApp(t)

	a.handleGlobalKeys(key('a'))
	front, _ := a.pages.GetFrontPage()
	require.Equal(t, PageAddress, front)

	ev := key('c')
	assert.Same(t, ev, a.handleGlobalKeys(ev))
	assert.Empty(t, ctl.Calls())

	a.closeModal(PageAddress)
	front, _ = a.pages.GetFrontPage()
	assert.Equal(t, PageMain, front)
}

func TestRenderFromHub(t *testing.T) {
	a, ctl := newTestApp(t)
	ctl.state = plcman.StateConnected

	d := ctl.cat.Format(map[string]interface{}{
		"DB6,X0.0":   true,
		"DB1,X58.0":  true,
		"DB1,REAL32": float32(3.5),
	})
	a.OnStatus(plcman.LabelConnected)
	a.OnSnapshot(status.Snapshot{Seq: 12, At: time.Now(), Decoded: d})
	a.OnStats(status.StatsUpdate{ConnectionStats: status.ConnectionStats{TotalRequests: 40, ErrorCount: 2, LastError: "read: timeout"}})
	assert.True(t, a.dirty.Load())
	a.render()

	assert.Contains(t, a.header.GetText(true), plcman.LabelConnected)
	assert.Contains(t, a.header.GetText(true), ctl.cfg.Address())

	panel := a.panel.GetText(true)
	assert.Contains(t, panel, "PRESSED")
	assert.Contains(t, panel, "3.50")
	assert.Contains(t, panel, "Cycle 12")

	stats := a.stats.GetText(true)
	assert.Contains(t, stats, "Requests    40")
	assert.Contains(t, stats, "read: timeout")

	assert.Equal(t, LampOn, a.outputs.GetCell(3, 2).Text)
	assert.Equal(t, LampOff, a.outputs.GetCell(1, 2).Text)
}

func TestSeedFromHub(t *testing.T) {
	a, ctl := newTestApp(t)
	ctl.hub.PublishStatus(plcman.LabelLost)
	a.seed()
	a.render()
	assert.Contains(t, a.header.GetText(true), plcman.LabelLost)
	assert.Contains(t, a.panel.GetText(true), "No data yet")
}

func TestStatsTextRecentErrors(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var errs []status.ErrorEvent
	for i := 0; i < 7; i++ {
		errs = append(errs, status.ErrorEvent{At: at, Op: "read", Message: "e" + strconv.Itoa(i)})
	}
	text := statsText(status.ConnectionStats{RecentErrors: errs})
	assert.Contains(t, text, "read: e6")
	assert.Contains(t, text, "read: e2")
	assert.NotContains(t, text, "read: e1")
	assert.Equal(t, 3+5, len(strings.Split(text, "\n")))
}

func TestBankRow(t *testing.T) {
	row := bankRow("DO A", []catalog.Channel{{State: true}, {}, {ForcedStatus: true}})
	assert.Equal(t, " DO A "+LampOn+" "+LampOff+" "+LampForced, row)
}

func TestStateIndicator(t *testing.T) {
	assert.Equal(t, StatusIndicatorConnected, stateIndicator(plcman.StateConnected))
	assert.Equal(t, StatusIndicatorError, stateIndicator(plcman.StateReconnecting))
	assert.Equal(t, StatusIndicatorDisconnected, stateIndicator(plcman.StateDisconnected))
}
