package triggers_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/config"
	"killswitch_go_1/triggers"
)

// fakeMonitor returns canned resource readings.
type fakeMonitor struct {
	available bool
	memory    float64
	cpu       float64
}

func (m fakeMonitor) Available() bool                 { return m.available }
func (m fakeMonitor) MemoryPercent() (float64, error) { return m.memory, nil }
func (m fakeMonitor) CPUPercent() (float64, error)    { return m.cpu, nil }

func watchdogConfig(heartbeatSeconds, maxMissed int, maxMemory, maxCPU float64) *config.TriggerConfig {
	return &config.TriggerConfig{
		Name:    "process_watchdog",
		Type:    config.TriggerTypeWatchdog,
		Enabled: true,
		Config: map[string]interface{}{
			"heartbeat_interval_seconds": heartbeatSeconds,
			"max_missed_heartbeats":      maxMissed,
			"max_memory_percent":         maxMemory,
			"max_cpu_percent":            maxCPU,
		},
	}
}

func TestWatchdogFiresOnMissedHeartbeats(t *testing.T) {
	trig, err := triggers.NewWatchdogTrigger(watchdogConfig(10, 3, 0, 0), fakeMonitor{available: true})
	require.NoError(t, err)

	// Recently constructed, heartbeat is fresh.
	res := trig.Check(triggers.Context{Timestamp: time.Now()})
	assert.False(t, res.Fired)

	// Silence past the allowed number of missed heartbeats.
	res = trig.Check(triggers.Context{Timestamp: time.Now().Add(35 * time.Second)})
	require.True(t, res.Fired)
	assert.Equal(t, "3", res.Metadata["missed_heartbeats"])
	assert.Equal(t, float64(3), res.Threshold)
}

func TestWatchdogBeatResetsTheClock(t *testing.T) {
	trig, err := triggers.NewWatchdogTrigger(watchdogConfig(10, 3, 0, 0), fakeMonitor{available: true})
	require.NoError(t, err)

	before := trig.LastHeartbeat()
	time.Sleep(time.Millisecond)
	trig.Beat()
	assert.True(t, trig.LastHeartbeat().After(before))

	res := trig.Check(triggers.Context{Timestamp: time.Now().Add(15 * time.Second)})
	assert.False(t, res.Fired)
}

func TestWatchdogFiresOnMemoryPressure(t *testing.T) {
	trig, err := triggers.NewWatchdogTrigger(watchdogConfig(0, 0, 90, 0), fakeMonitor{available: true, memory: 95.5})
	require.NoError(t, err)

	res := trig.Check(triggers.Context{Timestamp: time.Now()})
	require.True(t, res.Fired)
	assert.Equal(t, "memory", res.Metadata["resource"])
	assert.Equal(t, 95.5, res.Value)
	assert.Equal(t, 90.0, res.Threshold)
}

func TestWatchdogFiresOnCPUPressure(t *testing.T) {
	trig, err := triggers.NewWatchdogTrigger(watchdogConfig(0, 0, 90, 95), fakeMonitor{available: true, memory: 40, cpu: 99})
	require.NoError(t, err)

	res := trig.Check(triggers.Context{Timestamp: time.Now()})
	require.True(t, res.Fired)
	assert.Equal(t, "cpu", res.Metadata["resource"])
}

func TestWatchdogDisablesItselfWithoutResourceSupport(t *testing.T) {
	trig, err := triggers.NewWatchdogTrigger(watchdogConfig(10, 3, 90, 95), fakeMonitor{available: false})
	require.NoError(t, err)
	assert.False(t, trig.Enabled())
}
