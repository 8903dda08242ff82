package reactor

import "strconv"

type State int32

const (
	StateInvalid State = iota
	StateReserved
	StateListening
	StatePendingListen
	StateConnected
	StateConnecting
	StatePendingAccept
	StateHalfClosing
	StateBound
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateReserved:
		return "reserved"
	case StateListening:
		return "listening"
	case StatePendingListen:
		return "pending-listen"
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	case StatePendingAccept:
		return "pending-accept"
	case StateHalfClosing:
		return "half-closing"
	case StateBound:
		return "bound"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// live reports whether the socket owns a descriptor.
func (s State) live() bool {
	return s != StateInvalid && s != StateReserved
}

// polled reports whether the descriptor of a socket in this state is
// registered with the poller.
func (s State) polled() bool {
	switch s {
	case StateListening, StateConnected, StateConnecting, StateHalfClosing, StateBound:
		return true
	default:
		return false
	}
}

// sendable reports whether Send may queue data on a socket in this state.
func (s State) sendable() bool {
	switch s {
	case StateConnected, StateConnecting, StateBound:
		return true
	default:
		return false
	}
}
