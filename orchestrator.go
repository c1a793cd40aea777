// orchestrator.go
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"killswitch_go_1/audit"
	"killswitch_go_1/config"
	"killswitch_go_1/exchange"
	"killswitch_go_1/health"
	"killswitch_go_1/killswitch"
	"killswitch_go_1/logs"
	"killswitch_go_1/metrics"
	"killswitch_go_1/monitor"
	"killswitch_go_1/recovery"
	"killswitch_go_1/resources"
	"killswitch_go_1/state"
	"killswitch_go_1/triggers"
)

// Orchestrator wires the kill switch, its triggers, the health checker, the
// recovery manager and the monitor loop together, and owns their lifecycle.
type Orchestrator struct {
	cfg          *config.Config
	client       exchange.Client
	killSwitch   *killswitch.KillSwitch
	gate         *killswitch.ExecutionGate
	registry     *triggers.Registry
	manual       *triggers.ManualTrigger
	watchdog     *triggers.WatchdogTrigger
	healthCheck  *health.Checker
	recoveryMgr  *recovery.Manager
	stateManager *state.Manager
	trail        *audit.Trail
	tracker      *metrics.Tracker
	res          resources.Monitor
	approvalCode string

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator builds the full component graph from configuration. The
// resource capability is probed exactly once here and injected everywhere it
// is needed.
func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:          cfg,
		res:          resources.Detect(),
		tracker:      metrics.NewTracker(),
		approvalCode: envCfg.ApprovalCode,
		stopChan:     make(chan struct{}),
	}

	if cfg.UseSimulation {
		o.client = exchange.NewMockClient(100.0, 5.0)
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		o.client = exchange.NewAPIClient(envCfg.ExchangeBaseURL, 10)
		if err := o.client.SyncTime(); err != nil {
			return nil, fmt.Errorf("failed to sync exchange time: %w", err)
		}
	}

	var store killswitch.StateStore
	if cfg.KillSwitch.PersistState {
		sm, err := state.NewManager(cfg.KillSwitch.StateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize state persistence: %w", err)
		}
		o.stateManager = sm
		store = sm
	}

	trail, err := audit.NewTrail(cfg.KillSwitch.AuditDir, cfg.KillSwitch.AuditMaxFileSizeMB,
		cfg.KillSwitch.AuditRetentionDays, cfg.KillSwitch.AuditCompressRotated)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}
	o.trail = trail

	o.killSwitch = killswitch.New(cfg.KillSwitch, envCfg.ApprovalCode, store, trail)
	o.gate = killswitch.NewExecutionGate(o.killSwitch)

	if o.stateManager != nil {
		rec, err := o.stateManager.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted state: %w", err)
		}
		if rec != nil {
			restoreRecord(o.killSwitch, rec)
		}
	}

	if err := o.buildTriggers(); err != nil {
		return nil, err
	}

	o.healthCheck = health.NewChecker(cfg.Health, o.res)
	o.recoveryMgr = recovery.NewManager(cfg.Recovery, o.healthCheck)

	// A kill arriving mid-recovery abandons the live recovery request.
	o.killSwitch.OnKill(func(ev killswitch.Event) {
		o.recoveryMgr.Reset()
	})

	return o, nil
}

func (o *Orchestrator) buildTriggers() error {
	o.registry = triggers.NewRegistry()
	for i := range o.cfg.Triggers {
		tc := &o.cfg.Triggers[i]
		var (
			t   triggers.Trigger
			err error
		)
		switch tc.Type {
		case config.TriggerTypeThreshold:
			t, err = triggers.NewThresholdTrigger(tc)
		case config.TriggerTypeManual:
			mt := triggers.NewManualTrigger(tc)
			o.manual = mt
			t = mt
		case config.TriggerTypeWatchdog:
			wt, werr := triggers.NewWatchdogTrigger(tc, o.res)
			o.watchdog = wt
			t, err = wt, werr
		case config.TriggerTypeExternal:
			t, err = triggers.NewExternalTrigger(tc)
		default:
			err = fmt.Errorf("unknown trigger type '%s'", tc.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to build trigger '%s': %w", tc.Name, err)
		}
		if err := o.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the monitor loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.client, o.killSwitch, o.registry, o.watchdog, o.recoveryMgr,
			o.tracker, o.trail, o.cfg, o.stopChan)
	}()
	logs.Infof("Orchestrator started, monitoring %d trigger(s) every %ds",
		len(o.registry.Names()), o.cfg.Normal.MonitorIntervalSeconds)
}

// RequestRecovery drives the supervised recovery ladder for a killed switch:
// it opens a recovery request, validates the approval code, runs the health
// checks against a fresh snapshot, and moves the switch to RECOVERING. From
// there the monitor loop advances the cooldown and the gradual restart. On
// failure the issues describe what blocked the request.
func (o *Orchestrator) RequestRecovery(approvedBy, approvalCode, reason string) (bool, []string) {
	if st := o.killSwitch.State(); st != killswitch.StateKilled {
		return false, []string{fmt.Sprintf("kill switch is %s, nothing to recover", st)}
	}

	o.recoveryMgr.RequestRecovery(approvedBy, approvalCode, reason)
	if !o.recoveryMgr.ValidateApproval(o.approvalCode) {
		return false, []string{"approval code rejected"}
	}
	if ok, issues := o.recoveryMgr.RunHealthChecks(o.probe()); !ok {
		return false, issues
	}
	if !o.killSwitch.RequestRecovery(approvedBy, approvalCode) {
		return false, []string{"kill switch rejected the recovery request"}
	}
	return true, nil
}

// probe builds a context snapshot for an on-demand check, hitting the feed
// once for connectivity.
func (o *Orchestrator) probe() triggers.Context {
	snapshot := triggers.Context{
		Timestamp: time.Now(),
		Metrics:   o.tracker.Snapshot(),
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.client.GetPrice(reqCtx, o.cfg.Symbol); err == nil {
		snapshot.ExchangeConnected = true
		snapshot.LastPriceUpdate = time.Now()
	}
	return snapshot
}

// Gate returns the execution gate the protected trading system checks before
// placing orders.
func (o *Orchestrator) Gate() *killswitch.ExecutionGate {
	return o.gate
}

// Metrics returns the tracker the trading system reports fills and PnL into.
func (o *Orchestrator) Metrics() *metrics.Tracker {
	return o.tracker
}

// Stop performs graceful shutdown.
func (o *Orchestrator) Stop() {
	close(o.stopChan)
	o.wg.Wait()
	if err := o.trail.Close(); err != nil {
		logs.Errorf("Failed to close audit trail: %v", err)
	}
	logs.Info("Orchestrator stopped.")
}

// restoreRecord hydrates a freshly built switch from a persisted record.
func restoreRecord(ks *killswitch.KillSwitch, rec *state.Record) {
	var killedAt, recoveryStartedAt time.Time
	if rec.KilledAt != nil {
		killedAt = *rec.KilledAt
	}
	if rec.RecoveryStartedAt != nil {
		recoveryStartedAt = *rec.RecoveryStartedAt
	}
	ks.Restore(killswitch.State(rec.State), killedAt, rec.TriggerReason, recoveryStartedAt)
}
