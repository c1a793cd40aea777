// triggers/threshold.go
package triggers

import (
	"fmt"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/utils"
)

// ThresholdTrigger compares a named numeric metric from the context snapshot
// against a configured threshold. Absence of the metric does not fire: at the
// trigger level missing data is not itself a risk signal.
type ThresholdTrigger struct {
	base
	metric     string
	threshold  float64
	comparator string
}

var _ Trigger = (*ThresholdTrigger)(nil)

// NewThresholdTrigger builds a threshold trigger from its config entry.
func NewThresholdTrigger(tc *config.TriggerConfig) (*ThresholdTrigger, error) {
	var sub config.ThresholdTriggerConfig
	if err := tc.Decode(&sub); err != nil {
		return nil, err
	}
	return &ThresholdTrigger{
		base: base{
			name:     tc.Name,
			kind:     config.TriggerTypeThreshold,
			enabled:  tc.Enabled,
			cooldown: time.Duration(tc.CooldownSeconds) * time.Second,
		},
		metric:     sub.Metric,
		threshold:  sub.Threshold,
		comparator: sub.Comparator,
	}, nil
}

func (t *ThresholdTrigger) Check(ctx Context) Result {
	now := ctx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	if t.onCooldown(now) {
		return t.result(false, "trigger cooldown in effect", nil)
	}

	value, ok := ctx.Metric(t.metric)
	if !ok {
		return t.result(false, fmt.Sprintf("metric '%s' absent from context", t.metric), nil)
	}

	fired := compare(value, t.threshold, t.comparator)
	res := t.result(fired, "", map[string]string{"metric": t.metric})
	res.Value = value
	res.Threshold = t.threshold
	if fired {
		t.markFired(now)
		res.Reason = fmt.Sprintf("%s %s %g (current: %g)", t.metric, t.comparator, t.threshold, value)
	} else {
		res.Reason = fmt.Sprintf("%s within limits (current: %g)", t.metric, value)
	}
	return res
}

func compare(value, threshold float64, comparator string) bool {
	switch comparator {
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "==":
		return utils.FloatEquals(value, threshold)
	case "!=":
		return !utils.FloatEquals(value, threshold)
	default:
		// Unreachable with a validated config.
		return false
	}
}
