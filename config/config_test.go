package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killswitch_go_1/config"
)

const validYAML = `
symbol: BTCUSDT
use_simulation: true

kill_switch:
  enabled: true
  mode: active
  recovery_cooldown_seconds: 3600
  require_approval_code: true
  approval_code_env: KILLSWITCH_APPROVAL_CODE
  persist_state: true
  state_file: data/killswitch_state.json
  audit_dir: audit
  audit_retention_days: 90
  audit_max_file_size_mb: 10
  audit_compress_rotated: true

recovery:
  cooldown_seconds: 3600
  require_health_check: true
  gradual_restart_enabled: true
  initial_position_limit_factor: 0.5
  escalation_intervals: [3600, 7200]
  escalation_factors: [0.75, 1.0]

health:
  max_memory_percent: 90
  max_cpu_percent: 95
  max_price_staleness_seconds: 30
  require_exchange_connected: true

triggers:
  - name: daily_loss_limit
    type: threshold
    enabled: true
    cooldown_seconds: 300
    config:
      metric: daily_pnl
      threshold: -5000
      comparator: "<"
  - name: emergency_stop
    type: manual
    enabled: true
  - name: process_watchdog
    type: watchdog
    enabled: true
    config:
      heartbeat_interval_seconds: 10
      max_missed_heartbeats: 3
      max_memory_percent: 90
      max_cpu_percent: 95
  - name: exchange_connectivity
    type: external
    enabled: true
    config:
      max_consecutive_failures: 3
      max_price_staleness_seconds: 30
      max_api_errors: 5
      check_interval_seconds: 10

normal_config:
  monitor_interval_seconds: 1
  heartbeat_interval_minutes: 60
  time_sync_interval_minutes: 30
  log_directory: logs

logs:
  log_level: info
  max_size_mb: 10
  max_backups: 5
  max_age_days: 30
  compress: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.True(t, cfg.UseSimulation)
	assert.True(t, cfg.KillSwitch.Enabled)
	assert.Equal(t, config.ModeActive, cfg.KillSwitch.Mode)
	assert.Equal(t, "KILLSWITCH_APPROVAL_CODE", cfg.KillSwitch.ApprovalCodeEnv)
	assert.Len(t, cfg.Triggers, 4)
	assert.Equal(t, []int{3600, 7200}, cfg.Recovery.EscalationIntervals)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config file not found")
}

func TestTriggerDecode(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	var th config.ThresholdTriggerConfig
	require.NoError(t, cfg.Triggers[0].Decode(&th))
	assert.Equal(t, "daily_pnl", th.Metric)
	assert.Equal(t, -5000.0, th.Threshold)
	assert.Equal(t, "<", th.Comparator)

	var ext config.ExternalTriggerConfig
	require.NoError(t, cfg.Triggers[3].Decode(&ext))
	assert.Equal(t, 3, ext.MaxConsecutiveFailures)
	assert.Equal(t, 10, ext.CheckIntervalSeconds)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{
			"bad mode",
			func(c *config.Config) { c.KillSwitch.Mode = "paused" },
			"kill_switch.mode",
		},
		{
			"approval env unset",
			func(c *config.Config) { c.KillSwitch.ApprovalCodeEnv = "" },
			"approval_code_env",
		},
		{
			"persist without state file",
			func(c *config.Config) { c.KillSwitch.StateFile = "" },
			"state_file",
		},
		{
			"no audit dir",
			func(c *config.Config) { c.KillSwitch.AuditDir = "" },
			"audit_dir",
		},
		{
			"no triggers while enabled",
			func(c *config.Config) { c.Triggers = nil },
			"at least one trigger",
		},
		{
			"duplicate trigger names",
			func(c *config.Config) { c.Triggers[1].Name = c.Triggers[0].Name },
			"duplicate trigger name",
		},
		{
			"unknown trigger type",
			func(c *config.Config) { c.Triggers[0].Type = "astrology" },
			"unknown trigger type",
		},
		{
			"bad comparator",
			func(c *config.Config) {
				c.Triggers[0].Config = map[interface{}]interface{}{
					"metric": "daily_pnl", "threshold": -5000, "comparator": "~",
				}
			},
			"comparator",
		},
		{
			"escalation intervals not increasing",
			func(c *config.Config) { c.Recovery.EscalationIntervals = []int{3600, 3600} },
			"strictly increasing",
		},
		{
			"escalation factors regress",
			func(c *config.Config) { c.Recovery.EscalationFactors = []float64{0.75, 0.6} },
			"non-decreasing",
		},
		{
			"last factor below full capacity",
			func(c *config.Config) { c.Recovery.EscalationFactors = []float64{0.75, 0.9} },
			"must be 1.0",
		},
		{
			"interval and factor counts differ",
			func(c *config.Config) { c.Recovery.EscalationFactors = []float64{1.0} },
			"item count",
		},
		{
			"memory percent out of range",
			func(c *config.Config) { c.Health.MaxMemoryPercent = 150 },
			"max_memory_percent",
		},
		{
			"monitor interval missing",
			func(c *config.Config) { c.Normal.MonitorIntervalSeconds = 0 },
			"monitor_interval_seconds",
		},
		{
			"log level missing",
			func(c *config.Config) { c.Logs.LogLevel = "" },
			"log_level",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.LoadConfig(writeConfig(t, validYAML))
			require.NoError(t, err)

			tc.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestLoadEnvConfigReadsNamedVariable(t *testing.T) {
	cfg, err := config.LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	t.Setenv("KILLSWITCH_APPROVAL_CODE", "s3cret")
	t.Setenv("EXCHANGE_BASE_URL", "https://testnet.example.com")

	env := config.LoadEnvConfig(cfg)
	assert.Equal(t, "s3cret", env.ApprovalCode)
	assert.Equal(t, "https://testnet.example.com", env.ExchangeBaseURL)
}
