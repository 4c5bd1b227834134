package duplex

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle       State = iota // Created, Open not yet called
	StateConnecting              // Resolving credentials and dialing
	StateOpen                    // Connection established, loops running
	StateClosing                 // Close requested, flushing and awaiting the peer
	StateClosed                  // Terminated cleanly
	StateFailed                  // Terminated by an error
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
