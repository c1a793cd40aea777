// killswitch/state.go
package killswitch

// State is the operating state of the kill switch. It is the sole authority
// the execution gate consults: any state other than ACTIVE blocks order flow.
type State string

const (
	// StateActive means trading is allowed.
	StateActive State = "ACTIVE"
	// StateKilled means all execution is blocked, unconditionally.
	StateKilled State = "KILLED"
	// StateRecovering means execution is still blocked while a supervised
	// recovery (approval, health checks, cooldown) is in progress.
	StateRecovering State = "RECOVERING"
	// StateDisabled admits no transitions at all. Used only in simulation
	// and backtest contexts where the switch must be inert.
	StateDisabled State = "DISABLED"
)

// validTransitions defines the permitted transitions between states.
// Everything not listed here is rejected with an InvalidTransitionError.
var validTransitions = map[State][]State{
	StateActive:     {StateKilled},
	StateKilled:     {StateRecovering},
	StateRecovering: {StateActive, StateKilled},
	StateDisabled:   {},
}

// CanTransition reports whether moving from one state to another is permitted.
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsValid reports whether s is one of the four recognized states.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateKilled, StateRecovering, StateDisabled:
		return true
	}
	return false
}

// Blocked reports whether execution must be refused while in this state.
func (s State) Blocked() bool {
	return s == StateKilled || s == StateRecovering
}

// Describe returns a human-readable description of the state for status output.
func Describe(s State) string {
	switch s {
	case StateActive:
		return "Trading allowed"
	case StateKilled:
		return "EMERGENCY STOP - all execution blocked"
	case StateRecovering:
		return "Recovery in progress - execution still blocked"
	case StateDisabled:
		return "Kill switch disabled (simulation/backtest only)"
	default:
		return "Unknown state"
	}
}
