package killswitch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"killswitch_go_1/killswitch"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    killswitch.State
		to      killswitch.State
		allowed bool
	}{
		{killswitch.StateActive, killswitch.StateKilled, true},
		{killswitch.StateKilled, killswitch.StateRecovering, true},
		{killswitch.StateRecovering, killswitch.StateActive, true},
		{killswitch.StateRecovering, killswitch.StateKilled, true},

		{killswitch.StateActive, killswitch.StateRecovering, false},
		{killswitch.StateActive, killswitch.StateDisabled, false},
		{killswitch.StateKilled, killswitch.StateActive, false},
		{killswitch.StateKilled, killswitch.StateDisabled, false},
		{killswitch.StateRecovering, killswitch.StateDisabled, false},
		{killswitch.StateDisabled, killswitch.StateActive, false},
		{killswitch.StateDisabled, killswitch.StateKilled, false},
		{killswitch.StateDisabled, killswitch.StateRecovering, false},
		{killswitch.State("BOGUS"), killswitch.StateKilled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, killswitch.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestStateBlocked(t *testing.T) {
	assert.False(t, killswitch.StateActive.Blocked())
	assert.True(t, killswitch.StateKilled.Blocked())
	assert.True(t, killswitch.StateRecovering.Blocked())
	assert.False(t, killswitch.StateDisabled.Blocked())
}

func TestStateIsValid(t *testing.T) {
	for _, s := range []killswitch.State{
		killswitch.StateActive, killswitch.StateKilled,
		killswitch.StateRecovering, killswitch.StateDisabled,
	} {
		assert.True(t, s.IsValid())
	}
	assert.False(t, killswitch.State("HALTED").IsValid())
}

func TestInvalidTransitionError(t *testing.T) {
	err := &killswitch.InvalidTransitionError{From: killswitch.StateActive, To: killswitch.StateRecovering}
	assert.Contains(t, err.Error(), "ACTIVE")
	assert.Contains(t, err.Error(), "RECOVERING")
}
