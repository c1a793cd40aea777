// killswitch/gate.go
package killswitch

// ExecutionGate is the single chokepoint every order-placing call must pass
// through. The gate checks the switch at entry only: a switch that trips in
// the middle of a guarded section does not abort operations already in
// flight. An orchestrator that performs several micro-operations must itself
// re-check between them.
type ExecutionGate struct {
	ks *KillSwitch
}

// NewExecutionGate wraps a kill switch in a gate.
func NewExecutionGate(ks *KillSwitch) *ExecutionGate {
	return &ExecutionGate{ks: ks}
}

// CheckCanExecute returns a BlockedError (unwrapping to ErrExecutionBlocked)
// when the switch is KILLED or RECOVERING, nil otherwise.
func (g *ExecutionGate) CheckCanExecute() error {
	st := g.ks.Status()
	if st.State.Blocked() {
		return &BlockedError{State: st.State, Reason: st.TriggerReason}
	}
	return nil
}

// Execute composes the entry check with the operation itself. The operation
// runs only when the gate is open; its own error is passed through.
func (g *ExecutionGate) Execute(op func() error) error {
	if err := g.CheckCanExecute(); err != nil {
		return err
	}
	return op()
}
