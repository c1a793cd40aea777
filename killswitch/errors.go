// killswitch/errors.go
package killswitch

import (
	"errors"
	"fmt"
)

// ErrExecutionBlocked is the sentinel every blocked-execution error unwraps
// to. Callers must treat it as fatal to the attempted operation: the order
// must not be sent.
var ErrExecutionBlocked = errors.New("execution blocked by kill switch")

// InvalidTransitionError reports a requested state transition that is not in
// the transition table. The current state is left unchanged.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid kill switch transition: %s -> %s", e.From, e.To)
}

// BlockedError carries the state and trigger reason behind a refused
// execution attempt. It unwraps to ErrExecutionBlocked.
type BlockedError struct {
	State  State
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution blocked: kill switch is %s (reason: %s)", e.State, e.Reason)
	}
	return fmt.Sprintf("execution blocked: kill switch is %s", e.State)
}

func (e *BlockedError) Unwrap() error { return ErrExecutionBlocked }
