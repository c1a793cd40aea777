package killswitch_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/audit"
	"killswitch_go_1/config"
	"killswitch_go_1/killswitch"
	"killswitch_go_1/state"
)

// Full trip through kill, recovery request and completion with the real
// file-backed store and audit trail wired in.
func TestKillAndRecoverWithPersistence(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "killswitch_state.json")

	store, err := state.NewManager(stateFile)
	require.NoError(t, err)

	trail, err := audit.NewTrail(filepath.Join(dir, "audit"), 10, 30, false)
	require.NoError(t, err)
	defer trail.Close()

	cfg := &config.KillSwitchConfig{
		Enabled:                 true,
		Mode:                    config.ModeActive,
		RecoveryCooldownSeconds: 0,
		PersistState:            true,
	}
	ks := killswitch.New(cfg, "", store, trail)

	require.True(t, ks.Trigger("loss limit breached", "threshold:daily_loss", map[string]string{"value": "-5200"}))
	require.True(t, ks.RequestRecovery("ops", ""))
	require.True(t, ks.CompleteRecovery())
	assert.Equal(t, killswitch.StateActive, ks.State())

	// The persisted record reflects the final state.
	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, string(killswitch.StateActive), rec.State)
	assert.Empty(t, rec.TriggerReason)

	// The audit trail holds exactly the three transitions, oldest first.
	events, err := trail.GetEvents(time.Time{}, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, killswitch.StateKilled, events[0].NewState)
	assert.Equal(t, "loss limit breached", events[0].Reason)
	assert.Equal(t, "threshold:daily_loss", events[0].TriggeredBy)
	assert.Equal(t, "-5200", events[0].Metadata["value"])
	assert.Equal(t, killswitch.StateRecovering, events[1].NewState)
	assert.Equal(t, killswitch.StateActive, events[2].NewState)
}

// A restart in the middle of an outage resumes from the persisted record.
func TestRestartResumesKilledState(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "killswitch_state.json")

	store, err := state.NewManager(stateFile)
	require.NoError(t, err)

	cfg := &config.KillSwitchConfig{
		Enabled:                 true,
		Mode:                    config.ModeActive,
		RecoveryCooldownSeconds: 3600,
		PersistState:            true,
	}
	ks := killswitch.New(cfg, "", store, nil)
	require.True(t, ks.Trigger("exchange unreachable", "external:exchange", nil))

	// Fresh process: load the record and restore.
	store2, err := state.NewManager(stateFile)
	require.NoError(t, err)
	rec, err := store2.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)

	ks2 := killswitch.New(cfg, "", store2, nil)
	var killedAt, recoveryStartedAt time.Time
	if rec.KilledAt != nil {
		killedAt = *rec.KilledAt
	}
	if rec.RecoveryStartedAt != nil {
		recoveryStartedAt = *rec.RecoveryStartedAt
	}
	ks2.Restore(killswitch.State(rec.State), killedAt, rec.TriggerReason, recoveryStartedAt)

	assert.Equal(t, killswitch.StateKilled, ks2.State())
	assert.Equal(t, "exchange unreachable", ks2.TriggerReason())
	assert.True(t, ks2.CheckAndBlock())
}
