package plcman

// State is the connection state of the supervised link.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Status labels pushed to display surfaces.
const (
	LabelConnecting      = "Connecting to controller"
	LabelConnected       = "Connected to controller"
	LabelConnectFailed   = "Connection failed"
	LabelReconnectFailed = "Reconnection Failed"
	LabelLost            = "PLC Lost Connection"
	LabelDisconnected    = "Disconnected"
)

// transitions lists the legal next states. Connected -> Connecting is the
// user asking to drop the session and connect again.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected, StateConnecting},
	StateReconnecting: {StateConnecting, StateDisconnected},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
