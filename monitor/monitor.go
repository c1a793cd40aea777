// monitor/monitor.go
package monitor

import (
	"context"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/exchange"
	"killswitch_go_1/killswitch"
	"killswitch_go_1/logs"
	"killswitch_go_1/recovery"
	"killswitch_go_1/triggers"
)

// MetricsSource supplies the named numeric risk metrics (drawdown, VaR, pnl)
// the threshold triggers compare against. The economic models producing them
// are outside this module; the monitor only consumes the numbers by name and
// hands each fetched price back through MarkPrice so open positions stay
// revalued.
type MetricsSource interface {
	Snapshot() map[string]float64
	MarkPrice(price float64)
}

// StaticMetrics is the trivial MetricsSource: a fixed map, mainly for
// simulation runs and tests.
type StaticMetrics map[string]float64

func (s StaticMetrics) Snapshot() map[string]float64 { return s }
func (s StaticMetrics) MarkPrice(float64)            {}

// AuditCleaner prunes audit files past the retention window.
type AuditCleaner interface {
	CleanupOldFiles() (int, error)
}

// Start runs the main safety loop until stopChan closes: every tick it
// refreshes the feed, beats the watchdog, builds a context snapshot,
// evaluates the trigger registry, fires the kill switch on any triggered
// result, and polls the recovery ladder while a recovery is in progress.
func Start(
	client exchange.Client,
	ks *killswitch.KillSwitch,
	registry *triggers.Registry,
	watchdog *triggers.WatchdogTrigger,
	recoveryMgr *recovery.Manager,
	metrics MetricsSource,
	trail AuditCleaner,
	cfg *config.Config,
	stopChan <-chan struct{},
) {
	ticker := time.NewTicker(time.Duration(cfg.Normal.MonitorIntervalSeconds) * time.Second)
	defer ticker.Stop()

	lastHeartbeatLog := time.Now()
	lastSyncTime := time.Now()
	lastCleanup := time.Now()

	heartbeatInterval := time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute
	timeSyncInterval := time.Duration(cfg.Normal.TimeSyncIntervalMinutes) * time.Minute

	var (
		lastPriceUpdate time.Time
		lastPrice       float64
		apiErrorCount   int
		connected       bool
	)

	for {
		select {
		case <-stopChan:
			logs.Info("Monitor received stop signal, exiting.")
			return
		case <-ticker.C:
			// The host process is alive; let the watchdog know.
			if watchdog != nil {
				watchdog.Beat()
			}

			reqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			price, err := client.GetPrice(reqCtx, cfg.Symbol)
			cancel()
			if err != nil {
				apiErrorCount++
				connected = false
				logs.Errorf("[Monitor] Failed to get price: %v", err)
			} else {
				connected = true
				lastPrice = price
				lastPriceUpdate = time.Now()
				if metrics != nil {
					metrics.MarkPrice(price)
				}
			}

			snapshot := triggers.Context{
				Timestamp:         time.Now(),
				Metrics:           buildMetrics(metrics, lastPrice),
				ExchangeConnected: connected,
				LastPriceUpdate:   lastPriceUpdate,
				APIErrorCount:     apiErrorCount,
			}

			for _, res := range registry.GetTriggered(snapshot) {
				name := res.Metadata["trigger_name"]
				logs.Warnf("[Monitor] Trigger '%s' fired: %s", name, res.Reason)
				ks.Trigger(res.Reason, name, res.EventMetadata())
			}

			// Recovery is polled, never scheduled: cooldown expiry and
			// capacity escalation are re-evaluated each tick.
			if recoveryMgr != nil {
				advanceRecovery(ks, recoveryMgr)
			}

			if time.Since(lastHeartbeatLog) >= heartbeatInterval {
				logs.Infof("[Heartbeat] Safety loop running, state: %s", ks.State())
				lastHeartbeatLog = time.Now()
			}

			if time.Since(lastSyncTime) >= timeSyncInterval {
				if err := client.SyncTime(); err != nil {
					apiErrorCount++
					logs.Errorf("[Monitor] Time synchronization failed: %v", err)
				}
				lastSyncTime = time.Now()
			}

			// Retention runs once a day; the trail tolerates extra calls.
			if trail != nil && time.Since(lastCleanup) >= 24*time.Hour {
				if _, err := trail.CleanupOldFiles(); err != nil {
					logs.Errorf("[Monitor] Audit cleanup failed: %v", err)
				}
				lastCleanup = time.Now()
			}
		}
	}
}

func buildMetrics(metrics MetricsSource, lastPrice float64) map[string]float64 {
	out := make(map[string]float64)
	if metrics != nil {
		for k, v := range metrics.Snapshot() {
			out[k] = v
		}
	}
	if lastPrice != 0 {
		out["price"] = lastPrice
	}
	return out
}

// advanceRecovery walks a RECOVERING switch through cooldown completion and
// capacity escalation as wall-clock time allows.
func advanceRecovery(ks *killswitch.KillSwitch, mgr *recovery.Manager) {
	req := mgr.Current()
	if req == nil {
		return
	}
	switch req.Stage {
	case recovery.StageCooldown:
		if mgr.CheckCooldownComplete() && ks.State() == killswitch.StateRecovering {
			if ks.CompleteRecovery() {
				mgr.StartGradualRestart()
			}
		}
	case recovery.StageGradualRestart:
		factor := mgr.UpdateGradualRestart()
		logs.Debugf("[Monitor] Trading capacity at %.0f%%", factor*100)
	}
}
