package hub

import "fmt"

// State is the lifecycle state of a connection.
//
//	Connected --join--> Joined
//	Connected --close--> Closed
//	Joined    --close--> Closed
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateConnected:
		return next == StateJoined || next == StateClosed
	case StateJoined:
		return next == StateClosed
	default:
		return false
	}
}
