// triggers/external.go
package triggers

import (
	"fmt"
	"sync"
	"time"

	"killswitch_go_1/config"
)

// ExternalTrigger watches exchange connectivity from the context snapshot.
// It fires after N consecutive observed connectivity failures, and separately
// flags stale price data and elevated API error counts in its result metadata
// without necessarily firing. Re-checks are rate-limited to the configured
// interval; between checks the previous outcome is repeated.
type ExternalTrigger struct {
	base
	maxConsecutiveFailures int
	maxPriceStaleness      time.Duration
	maxAPIErrors           int
	checkInterval          time.Duration

	stateMu             sync.Mutex
	consecutiveFailures int
	lastCheck           time.Time
	lastResult          Result
}

var _ Trigger = (*ExternalTrigger)(nil)

// NewExternalTrigger builds a connectivity trigger from its config entry.
func NewExternalTrigger(tc *config.TriggerConfig) (*ExternalTrigger, error) {
	var sub config.ExternalTriggerConfig
	if err := tc.Decode(&sub); err != nil {
		return nil, err
	}
	return &ExternalTrigger{
		base: base{
			name:     tc.Name,
			kind:     config.TriggerTypeExternal,
			enabled:  tc.Enabled,
			cooldown: time.Duration(tc.CooldownSeconds) * time.Second,
		},
		maxConsecutiveFailures: sub.MaxConsecutiveFailures,
		maxPriceStaleness:      time.Duration(sub.MaxPriceStalenessSeconds) * time.Second,
		maxAPIErrors:           sub.MaxAPIErrors,
		checkInterval:          time.Duration(sub.CheckIntervalSeconds) * time.Second,
	}, nil
}

// ConsecutiveFailures returns the current connectivity failure streak.
func (t *ExternalTrigger) ConsecutiveFailures() int {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.consecutiveFailures
}

func (t *ExternalTrigger) Check(ctx Context) Result {
	now := ctx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	if t.onCooldown(now) {
		return t.result(false, "trigger cooldown in effect", nil)
	}

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.checkInterval > 0 && !t.lastCheck.IsZero() && now.Sub(t.lastCheck) < t.checkInterval {
		return t.lastResult
	}
	t.lastCheck = now

	if ctx.ExchangeConnected {
		t.consecutiveFailures = 0
	} else {
		t.consecutiveFailures++
	}

	extra := map[string]string{
		"consecutive_failures": fmt.Sprintf("%d", t.consecutiveFailures),
	}
	if t.maxPriceStaleness > 0 && !ctx.LastPriceUpdate.IsZero() {
		if staleness := now.Sub(ctx.LastPriceUpdate); staleness > t.maxPriceStaleness {
			extra["stale_price_data"] = staleness.Round(time.Second).String()
		}
	}
	if t.maxAPIErrors > 0 && ctx.APIErrorCount > t.maxAPIErrors {
		extra["elevated_api_errors"] = fmt.Sprintf("%d", ctx.APIErrorCount)
	}

	var res Result
	if t.consecutiveFailures >= t.maxConsecutiveFailures {
		t.markFired(now)
		res = t.result(true, fmt.Sprintf("exchange connectivity lost (%d consecutive failures)", t.consecutiveFailures), extra)
		res.Value = float64(t.consecutiveFailures)
		res.Threshold = float64(t.maxConsecutiveFailures)
	} else {
		res = t.result(false, "exchange connectivity ok", extra)
		res.Value = float64(t.consecutiveFailures)
		res.Threshold = float64(t.maxConsecutiveFailures)
	}
	t.lastResult = res
	return res
}
