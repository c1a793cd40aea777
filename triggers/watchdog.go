// triggers/watchdog.go
package triggers

import (
	"fmt"
	"sync"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/logs"
	"killswitch_go_1/resources"
)

// WatchdogTrigger fires when the host process stops updating its heartbeat,
// or when memory/CPU usage exceeds the configured percentages. When the
// resource-inspection capability is unavailable on the platform the watchdog
// disables itself rather than failing.
type WatchdogTrigger struct {
	base
	heartbeatInterval time.Duration
	maxMissed         int
	maxMemoryPercent  float64
	maxCPUPercent     float64
	res               resources.Monitor

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

var _ Trigger = (*WatchdogTrigger)(nil)

// NewWatchdogTrigger builds a watchdog from its config entry and the injected
// resource capability.
func NewWatchdogTrigger(tc *config.TriggerConfig, res resources.Monitor) (*WatchdogTrigger, error) {
	var sub config.WatchdogTriggerConfig
	if err := tc.Decode(&sub); err != nil {
		return nil, err
	}
	w := &WatchdogTrigger{
		base: base{
			name:     tc.Name,
			kind:     config.TriggerTypeWatchdog,
			enabled:  tc.Enabled,
			cooldown: time.Duration(tc.CooldownSeconds) * time.Second,
		},
		heartbeatInterval: time.Duration(sub.HeartbeatIntervalSeconds) * time.Second,
		maxMissed:         sub.MaxMissedHeartbeats,
		maxMemoryPercent:  sub.MaxMemoryPercent,
		maxCPUPercent:     sub.MaxCPUPercent,
		res:               res,
		lastHeartbeat:     time.Now(),
	}
	if !res.Available() {
		logs.Warnf("[Triggers] Watchdog '%s': resource inspection unavailable, disabling watchdog", tc.Name)
		w.enabled = false
	}
	return w, nil
}

// Beat records a heartbeat from the host process.
func (t *WatchdogTrigger) Beat() {
	t.hbMu.Lock()
	t.lastHeartbeat = time.Now()
	t.hbMu.Unlock()
}

// LastHeartbeat returns the most recent heartbeat timestamp.
func (t *WatchdogTrigger) LastHeartbeat() time.Time {
	t.hbMu.Lock()
	defer t.hbMu.Unlock()
	return t.lastHeartbeat
}

func (t *WatchdogTrigger) Check(ctx Context) Result {
	now := ctx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	if t.onCooldown(now) {
		return t.result(false, "trigger cooldown in effect", nil)
	}

	t.hbMu.Lock()
	sinceBeat := now.Sub(t.lastHeartbeat)
	t.hbMu.Unlock()
	if t.heartbeatInterval > 0 {
		missed := int(sinceBeat / t.heartbeatInterval)
		if missed >= t.maxMissed {
			t.markFired(now)
			res := t.result(true, fmt.Sprintf("missed %d heartbeats (last %s ago)", missed, sinceBeat.Round(time.Second)),
				map[string]string{"missed_heartbeats": fmt.Sprintf("%d", missed)})
			res.Value = float64(missed)
			res.Threshold = float64(t.maxMissed)
			return res
		}
	}

	if t.maxMemoryPercent > 0 {
		memPct, err := t.res.MemoryPercent()
		if err != nil {
			logs.Warnf("[Triggers] Watchdog '%s': memory reading failed: %v", t.name, err)
		} else if memPct > t.maxMemoryPercent {
			t.markFired(now)
			res := t.result(true, fmt.Sprintf("memory usage %.1f%% exceeds %.1f%%", memPct, t.maxMemoryPercent),
				map[string]string{"resource": "memory"})
			res.Value = memPct
			res.Threshold = t.maxMemoryPercent
			return res
		}
	}

	if t.maxCPUPercent > 0 {
		cpuPct, err := t.res.CPUPercent()
		if err != nil {
			logs.Warnf("[Triggers] Watchdog '%s': cpu reading failed: %v", t.name, err)
		} else if cpuPct > t.maxCPUPercent {
			t.markFired(now)
			res := t.result(true, fmt.Sprintf("cpu usage %.1f%% exceeds %.1f%%", cpuPct, t.maxCPUPercent),
				map[string]string{"resource": "cpu"})
			res.Value = cpuPct
			res.Threshold = t.maxCPUPercent
			return res
		}
	}

	return t.result(false, "heartbeats and resources within limits", nil)
}
