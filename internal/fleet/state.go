// ABOUTME: Connection lifecycle states and the transitions allowed between them
// ABOUTME: Connecting -> Open -> (Closed -> Reconnecting -> Open) | Terminated

package fleet

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is where a Connection is in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateConnecting:   {StateOpen, StateTerminated},
	StateOpen:         {StateClosed, StateTerminated},
	StateClosed:       {StateReconnecting, StateTerminated},
	StateReconnecting: {StateOpen, StateTerminated},
}

// CanTransition reports whether moving from s to next is allowed.
// Terminated is final.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
