package monitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/config"
	"killswitch_go_1/exchange"
	"killswitch_go_1/killswitch"
	"killswitch_go_1/monitor"
	"killswitch_go_1/triggers"
)

// The loop must pick up a breaching metric and trip the switch within a tick.
func TestLoopTripsSwitchOnBreachingMetric(t *testing.T) {
	cfg := &config.Config{
		Symbol: "BTCUSDT",
		KillSwitch: &config.KillSwitchConfig{
			Enabled: true,
			Mode:    config.ModeActive,
		},
		Normal: &config.NormalConfig{
			MonitorIntervalSeconds:   1,
			HeartbeatIntervalMinutes: 60,
			TimeSyncIntervalMinutes:  60,
		},
	}
	ks := killswitch.New(cfg.KillSwitch, "", nil, nil)

	registry := triggers.NewRegistry()
	trig, err := triggers.NewThresholdTrigger(&config.TriggerConfig{
		Name:    "daily_loss_limit",
		Type:    config.TriggerTypeThreshold,
		Enabled: true,
		Config: map[string]interface{}{
			"metric":     "daily_pnl",
			"threshold":  -5000,
			"comparator": "<",
		},
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(trig))

	stopChan := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Start(exchange.NewMockClient(100, 5), ks, registry, nil, nil,
			monitor.StaticMetrics{"daily_pnl": -6000}, nil, cfg, stopChan)
	}()

	require.Eventually(t, func() bool {
		return ks.State() == killswitch.StateKilled
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "daily_loss_limit", ks.History()[0].Metadata["trigger_name"])

	close(stopChan)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor loop did not stop")
	}
}
