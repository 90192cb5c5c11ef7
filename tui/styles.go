// Package tui provides the terminal dashboard for the training panel link.
package tui

import "github.com/gdamore/tcell/v2"

// Color scheme
var (
	ColorAccent     = tcell.ColorYellow
	ColorError      = tcell.ColorRed
	ColorConnected  = tcell.ColorGreen
	ColorDisconnect = tcell.ColorGray
	ColorText       = tcell.ColorWhite
	ColorBorder     = tcell.ColorBlue
)

// Status indicator strings
const (
	StatusIndicatorConnected    = "[green]●[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
	StatusIndicatorConnecting   = "[yellow]◐[-]"
	StatusIndicatorError        = "[red]●[-]"
)

// Channel lamps
const (
	LampOn     = "[green]■[-]"
	LampOff    = "[gray]□[-]"
	LampForced = "[yellow]F[-]"
)

// Page names
const (
	PageMain    = "main"
	PageHelp    = "help"
	PageAddress = "address"
)

// ButtonBar is the key legend shown above the dashboard.
const ButtonBar = " [yellow]c[white]onnect  [yellow]r[white]econnect  [yellow]d[white]isconnect  " +
	"[yellow]a[white]ddress  [yellow]t[white]oggle output  [gray]│[white]  [yellow]?[white] help  [yellow]Q[white] quit "

// acceptHost is a validation function for the address input field.
func acceptHost(text string, lastChar rune) bool {
	switch lastChar {
	case ' ', '\t', '/', '\\':
		return false
	}
	return true
}

// Help text
const HelpText = `
 Keyboard Shortcuts
 ──────────────────────────────────────

 Link
   c            Connect
   r            Reconnect now
   d            Disconnect
   a            Change controller address

 Outputs
   Up/Down      Select output
   t / Enter    Toggle selected output

 Application
   ?            Show this help
   Escape       Close dialog
   Q            Quit
`
