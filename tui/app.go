package tui

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/logging"
	"maintlink/plcman"
	"maintlink/status"
)

// Controller is the link supervisor as seen by the dashboard.
type Controller interface {
	plcman.Commander
	UpdateAddress(host string)
	State() plcman.State
	Config() config.PLCConfig
	Hub() *status.Hub
	Catalog() *catalog.Catalog
}

// refreshInterval bounds how often hub updates are redrawn.
const refreshInterval = 100 * time.Millisecond

// App is the main TUI application. It is the terminal's main window: a hub
// subscriber for as long as Run is executing.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	header    *tview.TextView
	panel     *tview.TextView
	io        *tview.TextView
	outputs   *tview.Table
	stats     *tview.TextView
	statusBar *tview.TextView

	ctl         Controller
	outputNames []string

	// Latest hub state, written by hub callbacks and read by render.
	mu       sync.Mutex
	label    string
	snap     status.Snapshot
	haveSnap bool
	update   status.StatsUpdate
	dirty    atomic.Bool
	alive    atomic.Bool

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewApp creates a new TUI application on the process terminal.
func NewApp(ctl Controller) *App {
	return newApp(ctl, tview.NewApplication())
}

// NewAppWithScreen creates a TUI application that uses the provided
// tcell.Screen.
func NewAppWithScreen(ctl Controller, screen tcell.Screen) *App {
	return newApp(ctl, tview.NewApplication().SetScreen(screen))
}

func newApp(ctl Controller, app *tview.Application) *App {
	names := ctl.Catalog().Outputs()
	sort.Strings(names)
	a := &App{
		app:         app,
		ctl:         ctl,
		outputNames: names,
		stopChan:    make(chan struct{}),
	}
	a.setupUI()
	return a
}

func (a *App) setupUI() {
	a.header = tview.NewTextView().
		SetDynamicColors(true)
	a.header.SetBorder(true).SetTitle(" Link ").SetBorderColor(ColorBorder)

	a.panel = tview.NewTextView().
		SetDynamicColors(true)
	a.panel.SetBorder(true).SetTitle(" Panel ").SetBorderColor(ColorBorder)

	a.io = tview.NewTextView().
		SetDynamicColors(true)
	a.io.SetBorder(true).SetTitle(" I/O ").SetBorderColor(ColorBorder)

	a.outputs = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.outputs.SetBorder(true).SetTitle(" Outputs ").SetBorderColor(ColorBorder)
	a.outputs.SetSelectedFunc(func(row, col int) { a.toggleSelected() })

	headers := []string{"Name", "Address", "Value"}
	for i, h := range headers {
		a.outputs.SetCell(0, i, tview.NewTableCell(h).
			SetTextColor(ColorAccent).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}
	cat := a.ctl.Catalog()
	for i, name := range a.outputNames {
		item, _ := cat.Output(name)
		a.outputs.SetCell(i+1, 0, tview.NewTableCell(name).SetExpansion(1))
		a.outputs.SetCell(i+1, 1, tview.NewTableCell(item.Key).SetTextColor(ColorDisconnect))
		a.outputs.SetCell(i+1, 2, tview.NewTableCell(LampOff))
	}
	if len(a.outputNames) > 0 {
		a.outputs.Select(1, 0)
	}

	a.stats = tview.NewTextView().
		SetDynamicColors(true)
	a.stats.SetBorder(true).SetTitle(" Statistics ").SetBorderColor(ColorBorder)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(ColorText)

	buttonBar := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(ButtonBar)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.header, 5, 0, false).
		AddItem(a.panel, 0, 1, false).
		AddItem(a.outputs, len(a.outputNames)+3, 0, true)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.io, 0, 2, false).
		AddItem(a.stats, 0, 1, false)

	body := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 1, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(buttonBar, 1, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.pages = tview.NewPages().AddPage(PageMain, mainFlex, true, true)

	a.app.SetInputCapture(a.handleGlobalKeys)
	a.app.SetRoot(a.pages, true)
	a.app.SetFocus(a.outputs)
	a.setStatus("Ready. Press ? for help.")
	a.render()
}

func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	if event == nil {
		return nil
	}

	// Don't intercept keys when a modal/form is open
	if front, _ := a.pages.GetFrontPage(); front != PageMain {
		return event
	}

	switch event.Rune() {
	case 'Q':
		a.Shutdown()
		return nil
	case '?':
		a.showHelp()
		return nil
	case 'c':
		a.ctl.Connect()
		a.setStatus("Connect requested")
		return nil
	case 'r':
		a.ctl.Reconnect()
		a.setStatus("Reconnect requested")
		return nil
	case 'd':
		a.ctl.Disconnect()
		a.setStatus("Disconnect requested")
		return nil
	case 'a':
		a.showAddressDialog()
		return nil
	case 't':
		a.toggleSelected()
		return nil
	}
	return event
}

// selectedOutput returns the output name under the table cursor.
func (a *App) selectedOutput() string {
	row, _ := a.outputs.GetSelection()
	if row <= 0 || row > len(a.outputNames) {
		return ""
	}
	return a.outputNames[row-1]
}

func (a *App) toggleSelected() {
	name := a.selectedOutput()
	if name == "" {
		return
	}
	if a.ctl.State() != plcman.StateConnected {
		a.setStatus("[red]Not connected[-]: " + name + " not toggled")
		return
	}
	a.ctl.ToggleOutput(name)
	a.setStatus("Toggle requested: " + name)
}

func (a *App) setStatus(msg string) {
	a.statusBar.SetText(" " + msg)
}

func (a *App) showHelp() {
	textView := tview.NewTextView().
		SetText(HelpText).
		SetDynamicColors(true)
	textView.SetBorder(true).SetTitle(" Help ")

	textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter || event.Rune() == '?' {
			a.closeModal(PageHelp)
			return nil
		}
		return event
	})

	a.showCenteredModal(PageHelp, textView, 45, 20)
}

// showAddressDialog edits the controller host. Save stores it for the next
// attempt; Connect stores it and connects straight away.
func (a *App) showAddressDialog() {
	form := tview.NewForm()
	form.AddInputField("Host", a.ctl.Config().Host, 30, acceptHost, nil)
	host := func() string {
		return form.GetFormItemByLabel("Host").(*tview.InputField).GetText()
	}
	form.AddButton("Connect", func() {
		if h := host(); h != "" {
			a.ctl.ConnectTo(h)
			a.setStatus("Connecting to " + h)
		}
		a.closeModal(PageAddress)
	})
	form.AddButton("Save", func() {
		if h := host(); h != "" {
			a.ctl.UpdateAddress(h)
			a.setStatus("Address set to " + h)
		}
		a.closeModal(PageAddress)
	})
	form.AddButton("Cancel", func() {
		a.closeModal(PageAddress)
	})
	form.SetCancelFunc(func() {
		a.closeModal(PageAddress)
	})
	form.SetBorder(true).SetTitle(" Controller Address ")

	a.showCenteredModal(PageAddress, form, 50, 7)
}

func (a *App) showCenteredModal(name string, p tview.Primitive, width, height int) {
	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage(name, modal, true, true)
	a.app.SetFocus(p)
}

func (a *App) closeModal(name string) {
	a.pages.RemovePage(name)
	a.app.SetFocus(a.outputs)
}

// Alive reports whether the dashboard still wants hub events.
func (a *App) Alive() bool { return a.alive.Load() }

// OnSnapshot records the snapshot for the next redraw.
func (a *App) OnSnapshot(s status.Snapshot) {
	a.mu.Lock()
	a.snap, a.haveSnap = s, true
	a.mu.Unlock()
	a.dirty.Store(true)
}

// OnStatus records the status label for the next redraw.
func (a *App) OnStatus(label string) {
	a.mu.Lock()
	a.label = label
	a.mu.Unlock()
	a.dirty.Store(true)
}

// OnStats records the stats for the next redraw.
func (a *App) OnStats(u status.StatsUpdate) {
	a.mu.Lock()
	a.update = u
	a.mu.Unlock()
	a.dirty.Store(true)
}

// seed loads whatever the hub already holds so the first frame is not blank.
func (a *App) seed() {
	hub := a.ctl.Hub()
	a.OnStatus(hub.LastStatus())
	a.OnStats(hub.Stats())
	if snap, ok := hub.LastSnapshot(); ok {
		a.OnSnapshot(snap)
	}
}

// render copies the latest hub state into the widgets. It runs on the tview
// goroutine once Run has started.
func (a *App) render() {
	a.mu.Lock()
	label, snap, haveSnap, update := a.label, a.snap, a.haveSnap, a.update
	a.mu.Unlock()

	a.header.SetText(headerText(a.ctl.State(), label, a.ctl.Config().Address()))
	a.panel.SetText(panelText(snap, haveSnap))
	a.io.SetText(ioText(snap.IO, haveSnap))
	a.stats.SetText(statsText(update.ConnectionStats))

	for i, name := range a.outputNames {
		lamp := LampOff
		if v, ok := snap.Signals[name].(bool); ok && v && haveSnap {
			lamp = LampOn
		}
		a.outputs.GetCell(i+1, 2).SetText(lamp)
	}
}

// Run subscribes to the hub and blocks until the user quits or Shutdown is
// called.
func (a *App) Run() error {
	hub := a.ctl.Hub()
	a.alive.Store(true)
	id := hub.Subscribe(a)
	defer func() {
		a.alive.Store(false)
		hub.Unsubscribe(id)
	}()
	a.seed()
	a.render()

	go a.periodicRefresh()
	defer a.stop()

	logging.Named("tui").Info("dashboard started")
	return a.app.Run()
}

// periodicRefresh redraws at most once per refreshInterval, and only when a
// hub callback changed something.
func (a *App) periodicRefresh() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			if a.dirty.Swap(false) {
				a.app.QueueUpdateDraw(a.render)
			}
		}
	}
}

func (a *App) stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
}

// Shutdown stops the refresh loop and the application.
func (a *App) Shutdown() {
	a.stop()
	a.app.Stop()
}
