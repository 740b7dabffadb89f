package roomchat

// ConnectionState is the state of the binding between the manager and a room.
//
// A binding moves strictly forward: Idle, Connecting, Open, Closing, Closed.
// Closed is terminal for the binding; a new SetRoom starts a new binding.
type ConnectionState int

const (
	// StateIdle means no room has been requested yet.
	StateIdle ConnectionState = iota

	// StateConnecting means the transport is being opened for the current room.
	StateConnecting

	// StateOpen means the room is joined and sends are accepted.
	StateOpen

	// StateClosing means the transport has been asked to close.
	StateClosing

	// StateClosed means the binding is over.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
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
	default:
		return "unknown"
	}
}

// canTransition reports whether a binding may move from s to next.
// Closed is reachable from every state so failures can end a binding early.
func (s ConnectionState) canTransition(next ConnectionState) bool {
	if next == StateClosed {
		return s != StateClosed
	}
	return next > s
}

// StateEvent represents a state change of the current binding.
type StateEvent struct {
	Room     RoomID
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
}
