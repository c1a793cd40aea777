// recovery/manager.go
package recovery

import (
	"sync"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/health"
	"killswitch_go_1/logs"
	"killswitch_go_1/triggers"
	"killswitch_go_1/utils"
)

// Stage is a recovery request's position in the supervised ladder. Requests
// move strictly PENDING -> VALIDATING -> COOLDOWN -> GRADUAL_RESTART ->
// COMPLETE; stages never skip forward.
type Stage string

const (
	StagePending        Stage = "PENDING"
	StageValidating     Stage = "VALIDATING"
	StageCooldown       Stage = "COOLDOWN"
	StageGradualRestart Stage = "GRADUAL_RESTART"
	StageComplete       Stage = "COMPLETE"
)

// Request holds one live recovery attempt. There is at most one at a time;
// it is superseded when recovery is abandoned or a new kill event occurs
// mid-recovery.
type Request struct {
	RequestedAt  time.Time      `json:"requested_at"`
	RequestedBy  string         `json:"requested_by"`
	ApprovalCode string         `json:"-"`
	Reason       string         `json:"reason"`
	Stage        Stage          `json:"stage"`
	ApprovedAt   time.Time      `json:"approved_at,omitempty"`
	LastHealth   *health.Report `json:"last_health,omitempty"`
}

// Manager orchestrates approval validation, health checks, cooldown timing
// and the gradual, time-escalated restoration of trading capacity. Cooldown
// and escalation are pure elapsed-time comparisons re-evaluated on each call;
// no background timers are involved, so callers must poll.
type Manager struct {
	mu      sync.Mutex
	cfg     *config.RecoveryConfig
	checker *health.Checker
	req     *Request
	factor  float64
}

// NewManager builds a recovery manager. The health checker may be nil only
// when require_health_check is off.
func NewManager(cfg *config.RecoveryConfig, checker *health.Checker) *Manager {
	return &Manager{cfg: cfg, checker: checker, factor: 1.0}
}

// RequestRecovery opens a new recovery attempt at stage PENDING, superseding
// any previous one.
func (m *Manager) RequestRecovery(requestedBy, approvalCode, reason string) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.req = &Request{
		RequestedAt:  time.Now(),
		RequestedBy:  requestedBy,
		ApprovalCode: approvalCode,
		Reason:       reason,
		Stage:        StagePending,
	}
	m.factor = 0
	logs.Infof("[Recovery] Recovery requested by %s: %s", requestedBy, reason)
	return *m.req
}

// ValidateApproval compares the request's code with the expected one. On a
// match the stage advances to VALIDATING and the approval time is recorded;
// on a mismatch the stage stays PENDING and false is returned.
func (m *Manager) ValidateApproval(expectedCode string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil || m.req.Stage != StagePending {
		return false
	}
	if m.req.ApprovalCode != expectedCode {
		logs.Warnf("[Recovery] Approval validation failed for request by %s", m.req.RequestedBy)
		return false
	}
	m.req.Stage = StageValidating
	m.req.ApprovedAt = time.Now()
	return true
}

// RunHealthChecks delegates to the health checker. On pass the stage advances
// to COOLDOWN; on fail it stays at VALIDATING and the issues are surfaced.
// When health checks are not required by configuration the stage advances
// immediately.
func (m *Manager) RunHealthChecks(ctx triggers.Context) (bool, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil || m.req.Stage != StageValidating {
		return false, []string{"no recovery request awaiting health checks"}
	}
	if !m.cfg.RequireHealthCheck {
		m.req.Stage = StageCooldown
		return true, nil
	}
	report := m.checker.Run(ctx)
	m.req.LastHealth = &report
	if !report.Healthy {
		return false, report.Issues
	}
	m.req.Stage = StageCooldown
	return true, nil
}

// CheckCooldownComplete reports whether the configured cooldown has fully
// elapsed since approval.
func (m *Manager) CheckCooldownComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemainingLocked(time.Now()) == 0
}

// CooldownRemaining returns how much of the cooldown is left.
func (m *Manager) CooldownRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemainingLocked(time.Now())
}

// StartGradualRestart begins capacity restoration once the cooldown has
// elapsed. With gradual restart disabled, capacity goes straight to 1.0 and
// the request completes.
func (m *Manager) StartGradualRestart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil || m.req.Stage != StageCooldown {
		return false
	}
	if m.cooldownRemainingLocked(time.Now()) > 0 {
		return false
	}
	if !m.cfg.GradualRestartEnabled {
		m.factor = 1.0
		m.req.Stage = StageComplete
		logs.Infof("[Recovery] Gradual restart disabled, capacity restored to 100%%")
		return true
	}
	m.factor = utils.ClampUnit(m.cfg.InitialPositionLimitFactor)
	m.req.Stage = StageGradualRestart
	logs.Infof("[Recovery] Gradual restart started at %.0f%% capacity", m.factor*100)
	return true
}

// UpdateGradualRestart advances the capacity factor to the highest escalation
// factor whose interval has elapsed since approval. Factors never regress,
// even if re-evaluated out of order. Once the factor reaches 1.0 the request
// completes.
func (m *Manager) UpdateGradualRestart() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil || m.req.Stage != StageGradualRestart {
		return m.factor
	}
	elapsed := time.Since(m.req.ApprovedAt)
	for i, intervalSec := range m.cfg.EscalationIntervals {
		if elapsed >= time.Duration(intervalSec)*time.Second {
			if f := utils.ClampUnit(m.cfg.EscalationFactors[i]); f > m.factor {
				m.factor = f
			}
		}
	}
	if m.factor >= 1.0 {
		m.req.Stage = StageComplete
		logs.Infof("[Recovery] Capacity fully restored")
	}
	return m.factor
}

// CapacityFactor returns the current trading capacity fraction. 1.0 when no
// gradual restart is in progress.
func (m *Manager) CapacityFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil {
		return 1.0
	}
	switch m.req.Stage {
	case StageGradualRestart, StageComplete:
		return m.factor
	default:
		return 0
	}
}

// Current returns a copy of the live request, or nil when none exists.
func (m *Manager) Current() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req == nil {
		return nil
	}
	cp := *m.req
	return &cp
}

// Reset abandons the live request, e.g. when a new kill event occurs
// mid-recovery.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.req != nil {
		logs.Warnf("[Recovery] Abandoning recovery request by %s at stage %s", m.req.RequestedBy, m.req.Stage)
	}
	m.req = nil
	m.factor = 1.0
}

func (m *Manager) cooldownRemainingLocked(now time.Time) time.Duration {
	if m.req == nil || m.req.ApprovedAt.IsZero() {
		return time.Duration(m.cfg.CooldownSeconds) * time.Second
	}
	cooldown := time.Duration(m.cfg.CooldownSeconds) * time.Second
	elapsed := now.Sub(m.req.ApprovedAt)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}
