// killswitch/switch.go
package killswitch

import (
	"sync"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/logs"
)

// StateStore persists the switch's durable record. The concrete
// implementation lives in the state package; the switch only ever hands out
// copies of its fields and never lets the store mutate core state.
type StateStore interface {
	Save(st State, killedAt time.Time, triggerReason string, recoveryStartedAt time.Time) error
}

// EventSink receives every transition event for durable audit logging.
type EventSink interface {
	LogEvent(ev Event) error
}

// Callback observes a transition. Registered per class ("on-kill",
// "on-recover"); panics inside a callback are caught and logged, and never
// abort the transition or the remaining callbacks.
type Callback func(ev Event)

// Status is a point-in-time snapshot of the switch, safe to serialize.
type Status struct {
	State             State         `json:"state"`
	KilledAt          time.Time     `json:"killed_at,omitempty"`
	TriggerReason     string        `json:"trigger_reason,omitempty"`
	RecoveryStartedAt time.Time     `json:"recovery_started_at,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	EventCount        int           `json:"event_count"`
}

// KillSwitch is the thread-safe state machine at the center of the module.
// A single mutex guards the current state, timestamps and event history;
// persistence, audit writes and callbacks all happen after the lock is
// released so a slow disk or a slow observer cannot stall concurrent readers.
type KillSwitch struct {
	mu sync.Mutex

	state             State
	killedAt          time.Time
	triggerReason     string
	recoveryStartedAt time.Time
	history           []Event

	cooldown        time.Duration
	requireApproval bool
	approvalCode    string
	disabled        bool // runtime override, does not touch the config object

	store StateStore
	sink  EventSink

	onKill    []Callback
	onRecover []Callback
}

// New creates a kill switch from its configuration block. The expected
// approval code is resolved by the caller (from the environment variable the
// config names) so the switch itself never reads global state. store and sink
// may be nil; the switch then enforces its state purely in memory.
func New(cfg *config.KillSwitchConfig, approvalCode string, store StateStore, sink EventSink) *KillSwitch {
	ks := &KillSwitch{
		state:           StateActive,
		cooldown:        time.Duration(cfg.RecoveryCooldownSeconds) * time.Second,
		requireApproval: cfg.RequireApprovalCode,
		approvalCode:    approvalCode,
		store:           store,
		sink:            sink,
	}
	if !cfg.Enabled || cfg.Mode == config.ModeDisabled {
		ks.state = StateDisabled
	}
	return ks
}

// Restore hydrates the switch from a previously persisted record, without
// creating a transition event. Called once at startup before any concurrent
// access begins.
func (ks *KillSwitch) Restore(st State, killedAt time.Time, triggerReason string, recoveryStartedAt time.Time) {
	if !st.IsValid() {
		logs.Warnf("[KillSwitch] Ignoring persisted record with unknown state %q", st)
		return
	}
	ks.mu.Lock()
	if ks.state == StateDisabled {
		ks.mu.Unlock()
		logs.Warnf("[KillSwitch] Switch is disabled, not restoring persisted state %s", st)
		return
	}
	ks.state = st
	ks.killedAt = killedAt
	ks.triggerReason = triggerReason
	ks.recoveryStartedAt = recoveryStartedAt
	ks.mu.Unlock()
	logs.Infof("[KillSwitch] Restored persisted state: %s", st)
}

// Trigger moves the switch to KILLED. It is idempotent: if the switch is
// already KILLED the call succeeds without creating a second event, so the
// first reason wins. If the switch is DISABLED the call fails and nothing
// changes. On-kill callbacks run after the internal lock is released.
func (ks *KillSwitch) Trigger(reason, triggeredBy string, metadata map[string]string) bool {
	ks.mu.Lock()
	if ks.state == StateDisabled || ks.disabled {
		ks.mu.Unlock()
		logs.Warnf("[KillSwitch] Trigger ignored, switch is disabled (reason was: %s)", reason)
		return false
	}
	if ks.state == StateKilled {
		ks.mu.Unlock()
		return true
	}
	prev := ks.state
	if err := ks.transitionLocked(StateKilled); err != nil {
		ks.mu.Unlock()
		logs.Errorf("[KillSwitch] Trigger rejected: %v", err)
		return false
	}
	ks.killedAt = time.Now()
	ks.triggerReason = reason
	ks.recoveryStartedAt = time.Time{}
	ev := ks.recordLocked(prev, StateKilled, reason, triggeredBy, metadata)
	snap := ks.snapshotLocked()
	callbacks := append([]Callback(nil), ks.onKill...)
	ks.mu.Unlock()

	logs.Warnf("[KillSwitch] !!! KILL SWITCH TRIGGERED by %s: %s", triggeredBy, reason)
	ks.persist(snap, ev)
	invokeCallbacks(callbacks, ev, "on-kill")
	return true
}

// RequestRecovery moves the switch from KILLED to RECOVERING. It is
// idempotent if recovery is already in progress. When approval codes are
// required, a wrong code fails the request without any state change.
func (ks *KillSwitch) RequestRecovery(approvedBy, approvalCode string) bool {
	ks.mu.Lock()
	if ks.state == StateRecovering {
		ks.mu.Unlock()
		return true
	}
	if ks.state != StateKilled {
		cur := ks.state
		ks.mu.Unlock()
		logs.Warnf("[KillSwitch] Recovery request rejected: %v", &InvalidTransitionError{From: cur, To: StateRecovering})
		return false
	}
	if ks.requireApproval && approvalCode != ks.approvalCode {
		ks.mu.Unlock()
		logs.Warnf("[KillSwitch] Recovery request by %s rejected: invalid approval code", approvedBy)
		return false
	}
	if err := ks.transitionLocked(StateRecovering); err != nil {
		ks.mu.Unlock()
		logs.Errorf("[KillSwitch] Recovery request rejected: %v", err)
		return false
	}
	ks.recoveryStartedAt = time.Now()
	ev := ks.recordLocked(StateKilled, StateRecovering, "recovery requested", approvedBy, map[string]string{
		"approved_by": approvedBy,
	})
	snap := ks.snapshotLocked()
	ks.mu.Unlock()

	logs.Infof("[KillSwitch] Recovery requested by %s, cooldown %s", approvedBy, ks.cooldown)
	ks.persist(snap, ev)
	return true
}

// CompleteRecovery moves the switch from RECOVERING back to ACTIVE, provided
// the configured cooldown has fully elapsed since the recovery request. The
// check is a pure wall-clock comparison on each call; no timers are involved.
// On-recover callbacks run after the internal lock is released.
func (ks *KillSwitch) CompleteRecovery() bool {
	ks.mu.Lock()
	if ks.state != StateRecovering {
		cur := ks.state
		ks.mu.Unlock()
		logs.Warnf("[KillSwitch] Complete-recovery rejected: %v", &InvalidTransitionError{From: cur, To: StateActive})
		return false
	}
	if remaining := ks.cooldownRemainingLocked(time.Now()); remaining > 0 {
		ks.mu.Unlock()
		logs.Infof("[KillSwitch] Cooldown not yet elapsed, %s remaining", remaining.Round(time.Second))
		return false
	}
	if err := ks.transitionLocked(StateActive); err != nil {
		ks.mu.Unlock()
		logs.Errorf("[KillSwitch] Complete-recovery rejected: %v", err)
		return false
	}
	ks.killedAt = time.Time{}
	ks.triggerReason = ""
	ks.recoveryStartedAt = time.Time{}
	ev := ks.recordLocked(StateRecovering, StateActive, "recovery completed", "system", nil)
	snap := ks.snapshotLocked()
	callbacks := append([]Callback(nil), ks.onRecover...)
	ks.mu.Unlock()

	logs.Infof("[KillSwitch] Recovery complete, trading re-enabled")
	ks.persist(snap, ev)
	invokeCallbacks(callbacks, ev, "on-recover")
	return true
}

// CheckAndBlock is a pure read: true when execution must be refused.
func (ks *KillSwitch) CheckAndBlock() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.state.Blocked()
}

// State returns the current state.
func (ks *KillSwitch) State() State {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.state
}

// TriggerReason returns the reason recorded by the most recent trigger, or
// the empty string when the switch is not killed.
func (ks *KillSwitch) TriggerReason() string {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.triggerReason
}

// CooldownRemaining reports how much of the recovery cooldown is left.
// Zero when no recovery is in progress or the cooldown has elapsed.
func (ks *KillSwitch) CooldownRemaining() time.Duration {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.state != StateRecovering {
		return 0
	}
	return ks.cooldownRemainingLocked(time.Now())
}

// Status returns a point-in-time snapshot for the status command.
func (ks *KillSwitch) Status() Status {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	st := Status{
		State:             ks.state,
		KilledAt:          ks.killedAt,
		TriggerReason:     ks.triggerReason,
		RecoveryStartedAt: ks.recoveryStartedAt,
		EventCount:        len(ks.history),
	}
	if ks.state == StateRecovering {
		st.CooldownRemaining = ks.cooldownRemainingLocked(time.Now())
	}
	return st
}

// History returns a copy of the in-memory transition history.
func (ks *KillSwitch) History() []Event {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	out := make([]Event, len(ks.history))
	copy(out, ks.history)
	return out
}

// OnKill registers an observer invoked after every transition to KILLED.
func (ks *KillSwitch) OnKill(cb Callback) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onKill = append(ks.onKill, cb)
}

// OnRecover registers an observer invoked after every transition to ACTIVE.
func (ks *KillSwitch) OnRecover(cb Callback) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.onRecover = append(ks.onRecover, cb)
}

// SetDisabledOverride toggles an inert mode at runtime without mutating the
// original configuration, for test and backtest contexts.
func (ks *KillSwitch) SetDisabledOverride(disabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.disabled = disabled
}

// --- internals ---

// stateSnapshot carries the fields the store persists, captured under the
// lock so the subsequent write happens without holding it.
type stateSnapshot struct {
	state             State
	killedAt          time.Time
	triggerReason     string
	recoveryStartedAt time.Time
}

func (ks *KillSwitch) transitionLocked(to State) error {
	if !CanTransition(ks.state, to) {
		return &InvalidTransitionError{From: ks.state, To: to}
	}
	ks.state = to
	return nil
}

func (ks *KillSwitch) recordLocked(prev, next State, reason, triggeredBy string, metadata map[string]string) Event {
	ev := NewEvent(prev, next, reason, triggeredBy, metadata)
	ks.history = append(ks.history, ev)
	return ev
}

func (ks *KillSwitch) snapshotLocked() stateSnapshot {
	return stateSnapshot{
		state:             ks.state,
		killedAt:          ks.killedAt,
		triggerReason:     ks.triggerReason,
		recoveryStartedAt: ks.recoveryStartedAt,
	}
}

func (ks *KillSwitch) cooldownRemainingLocked(now time.Time) time.Duration {
	elapsed := now.Sub(ks.recoveryStartedAt)
	if elapsed >= ks.cooldown {
		return 0
	}
	return ks.cooldown - elapsed
}

// persist writes the durable record and the audit event. Failures are logged
// and swallowed: the switch must remain operable even with its disk gone,
// since it still enforces the in-memory state.
func (ks *KillSwitch) persist(snap stateSnapshot, ev Event) {
	if ks.store != nil {
		if err := ks.store.Save(snap.state, snap.killedAt, snap.triggerReason, snap.recoveryStartedAt); err != nil {
			logs.Errorf("[KillSwitch] Failed to persist state: %v", err)
		}
	}
	if ks.sink != nil {
		if err := ks.sink.LogEvent(ev); err != nil {
			logs.Errorf("[KillSwitch] Failed to write audit event: %v", err)
		}
	}
}

// invokeCallbacks runs observers outside the lock. A panicking callback is
// isolated so it cannot abort the remaining ones.
func invokeCallbacks(callbacks []Callback, ev Event, class string) {
	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logs.Errorf("[KillSwitch] %s callback %d panicked: %v", class, i, r)
				}
			}()
			cb(ev)
		}()
	}
}
