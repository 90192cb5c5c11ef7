package plcman

import (
	"errors"
	"fmt"
)

// Commander is the command surface shared by every remote control surface.
// *Manager implements it.
type Commander interface {
	Connect()
	ConnectTo(host string)
	Reconnect()
	Disconnect()
	ToggleOutput(name string)
}

var _ Commander = (*Manager)(nil)

// Command is a remote command as carried by the broker and websocket
// surfaces.
type Command struct {
	Action string `json:"action"` // toggle, connect, reconnect, disconnect
	Output string `json:"output,omitempty"`
	Host   string `json:"host,omitempty"`
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownOutput = errors.New("unknown output")
)

// Execute hands cmd to c. valid reports whether a toggle target exists; a
// nil valid accepts every name. The command is queued, not completed, when
// Execute returns nil.
func Execute(c Commander, cmd Command, valid func(name string) bool) error {
	switch cmd.Action {
	case "toggle":
		if cmd.Output == "" || (valid != nil && !valid(cmd.Output)) {
			return fmt.Errorf("%w: %q", ErrUnknownOutput, cmd.Output)
		}
		c.ToggleOutput(cmd.Output)
	case "connect":
		if cmd.Host != "" {
			c.ConnectTo(cmd.Host)
		} else {
			c.Connect()
		}
	case "reconnect":
		c.Reconnect()
	case "disconnect":
		c.Disconnect()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	return nil
}
