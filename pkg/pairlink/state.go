package pairlink

// LinkState represents the connection state of a single link (Listener or Connector)
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "Disconnected"
	case LinkConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// LinkStateOf converts a connected flag into a LinkState
func LinkStateOf(connected bool) LinkState {
	if connected {
		return LinkConnected
	}
	return LinkDisconnected
}

// NodeState represents the overall lifecycle state of a node
type NodeState int

const (
	// StateUninitialized is the state before Start is called
	StateUninitialized NodeState = iota
	// StateStarting means the node is started but neither link is connected yet
	StateStarting
	// StateDegraded means exactly one of the two links is connected
	StateDegraded
	// StateHealthy means both links are connected to the tracked peer
	StateHealthy
	// StateDisposed is terminal; no transitions happen after it
	StateDisposed
)

func (s NodeState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateStarting:
		return "Starting"
	case StateDegraded:
		return "Degraded"
	case StateHealthy:
		return "Healthy"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}
