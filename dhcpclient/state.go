package dhcpclient

import (
	"strings"
)

// Lease state of a DHCP client instance.
type State int

// Lease states. The order matters: the states starting at StateTimeout
// are final, i.e., the timer and the process watch are torn down when
// they are reached.
const (
	StateUnknown State = iota
	StateBound
	StateTimeout
	StateDone
	StateExpire
	StateFail
	StateTerminated
)

var stateNames = map[State]string{
	StateUnknown:    "unknown",
	StateBound:      "bound",
	StateTimeout:    "timeout",
	StateDone:       "done",
	StateExpire:     "expire",
	StateFail:       "fail",
	StateTerminated: "terminated",
}

// Returns the lower-case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// Parses the state name (case-insensitive).
func ParseState(name string) (State, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for state, stateName := range stateNames {
		if stateName == name {
			return state, true
		}
	}
	return StateUnknown, false
}

// Indicates if the state is final. No lease is held in such a state and
// the only way forward is stopping the client.
func (s State) IsFinal() bool {
	return s >= StateTimeout
}

// Checks if the transition from the current state to the given one is
// allowed.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateUnknown:
		return target == StateBound || target == StateTimeout ||
			target == StateFail || target == StateTerminated
	case StateBound:
		return target == StateBound || target == StateExpire || target == StateFail ||
			target == StateDone || target == StateTerminated
	case StateTimeout, StateExpire, StateFail, StateDone:
		return target == StateTerminated
	default:
		return false
	}
}
