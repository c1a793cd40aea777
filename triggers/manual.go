// triggers/manual.go
package triggers

import (
	"time"

	"killswitch_go_1/config"
)

// ManualTrigger never fires from Check. Operators invoke RequestTrigger
// directly, so manual stops travel the same audit path as automatic ones.
type ManualTrigger struct {
	base
}

var _ Trigger = (*ManualTrigger)(nil)

// NewManualTrigger builds a manual trigger from its config entry.
func NewManualTrigger(tc *config.TriggerConfig) *ManualTrigger {
	return &ManualTrigger{
		base: base{
			name:     tc.Name,
			kind:     config.TriggerTypeManual,
			enabled:  tc.Enabled,
			cooldown: time.Duration(tc.CooldownSeconds) * time.Second,
		},
	}
}

// Check never fires; manual stops only go through RequestTrigger.
func (t *ManualTrigger) Check(Context) Result {
	return t.result(false, "manual trigger only fires on explicit request", nil)
}

// RequestTrigger produces a firing result for an operator-requested stop.
func (t *ManualTrigger) RequestTrigger(reason, requestedBy string) Result {
	t.markFired(time.Now())
	return t.result(true, reason, map[string]string{"requested_by": requestedBy})
}
