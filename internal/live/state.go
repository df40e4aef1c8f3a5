package live

// State is the lifecycle state of a Session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSetup
	StateReady
	StateReconnecting
)

// String returns the state name used in logs, status and metrics.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetup:
		return "awaiting_setup"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Active reports whether the session holds or is opening a connection.
func (s State) Active() bool {
	return s == StateConnecting || s == StateAwaitingSetup || s == StateReady
}

// stateNames lists every state for the session state gauge.
var stateNames = []string{
	StateDisconnected.String(),
	StateConnecting.String(),
	StateAwaitingSetup.String(),
	StateReady.String(),
	StateReconnecting.String(),
}
