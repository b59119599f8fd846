package realtime

import "fmt"

// State is the lifecycle state of a backend session.
type State int

// Backend session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateNegotiating
	StateStreaming
	StateDraining
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the allowed edges. Closed is terminal.
//
//	Disconnected → Connecting → Negotiating → Streaming ⇄ Draining
//	                    ↘             ↘           ↘          ↘
//	                                 Closed
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateClosed},
	StateConnecting:   {StateNegotiating, StateClosed},
	StateNegotiating:  {StateStreaming, StateClosed},
	StateStreaming:    {StateDraining, StateClosed},
	StateDraining:     {StateStreaming, StateClosed},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
