// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Kill switch operating modes.
const (
	ModeActive   = "active"
	ModeDisabled = "disabled"
)

// Recognized trigger types for the triggers list.
const (
	TriggerTypeThreshold = "threshold"
	TriggerTypeManual    = "manual"
	TriggerTypeWatchdog  = "watchdog"
	TriggerTypeExternal  = "external"
)

// KillSwitchConfig holds the core switch options.
type KillSwitchConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	Mode                    string `yaml:"mode"`
	RecoveryCooldownSeconds int    `yaml:"recovery_cooldown_seconds"`
	RequireApprovalCode     bool   `yaml:"require_approval_code"`
	ApprovalCodeEnv         string `yaml:"approval_code_env"`
	PersistState            bool   `yaml:"persist_state"`
	StateFile               string `yaml:"state_file"`
	AuditDir                string `yaml:"audit_dir"`
	AuditRetentionDays      int    `yaml:"audit_retention_days"`
	AuditMaxFileSizeMB      int    `yaml:"audit_max_file_size_mb"`
	AuditCompressRotated    bool   `yaml:"audit_compress_rotated"`
}

// RecoveryConfig holds the supervised recovery options.
type RecoveryConfig struct {
	CooldownSeconds            int       `yaml:"cooldown_seconds"`
	RequireHealthCheck         bool      `yaml:"require_health_check"`
	GradualRestartEnabled      bool      `yaml:"gradual_restart_enabled"`
	InitialPositionLimitFactor float64   `yaml:"initial_position_limit_factor"`
	EscalationIntervals        []int     `yaml:"escalation_intervals"`
	EscalationFactors          []float64 `yaml:"escalation_factors"`
}

// HealthConfig holds the resource and feed thresholds the health checker
// validates before recovery may proceed.
type HealthConfig struct {
	MaxMemoryPercent         float64 `yaml:"max_memory_percent"`
	MaxCPUPercent            float64 `yaml:"max_cpu_percent"`
	MaxPriceStalenessSeconds int     `yaml:"max_price_staleness_seconds"`
	RequireExchangeConnected bool    `yaml:"require_exchange_connected"`
}

// TriggerConfig is a generic container for a single trigger's configuration.
// We use an interface{} for Config to allow for different trigger structures.
type TriggerConfig struct {
	Name            string      `yaml:"name"`
	Type            string      `yaml:"type"`
	Enabled         bool        `yaml:"enabled"`
	CooldownSeconds int         `yaml:"cooldown_seconds"`
	Config          interface{} `yaml:"config"`
}

// Decode re-marshals the raw trigger sub-config into a typed struct.
func (tc *TriggerConfig) Decode(out interface{}) error {
	raw, err := yaml.Marshal(tc.Config)
	if err != nil {
		return fmt.Errorf("failed to re-marshal trigger config '%s': %w", tc.Name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal trigger config '%s': %w", tc.Name, err)
	}
	return nil
}

// ThresholdTriggerConfig configures a threshold comparison trigger.
type ThresholdTriggerConfig struct {
	Metric     string  `yaml:"metric"`
	Threshold  float64 `yaml:"threshold"`
	Comparator string  `yaml:"comparator"`
}

// WatchdogTriggerConfig configures the heartbeat/resource watchdog.
type WatchdogTriggerConfig struct {
	HeartbeatIntervalSeconds int     `yaml:"heartbeat_interval_seconds"`
	MaxMissedHeartbeats      int     `yaml:"max_missed_heartbeats"`
	MaxMemoryPercent         float64 `yaml:"max_memory_percent"`
	MaxCPUPercent            float64 `yaml:"max_cpu_percent"`
}

// ExternalTriggerConfig configures the exchange-connectivity trigger.
type ExternalTriggerConfig struct {
	MaxConsecutiveFailures   int `yaml:"max_consecutive_failures"`
	MaxPriceStalenessSeconds int `yaml:"max_price_staleness_seconds"`
	MaxAPIErrors             int `yaml:"max_api_errors"`
	CheckIntervalSeconds     int `yaml:"check_interval_seconds"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-safety-specific configuration.
type NormalConfig struct {
	MonitorIntervalSeconds   int    `yaml:"monitor_interval_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	TimeSyncIntervalMinutes  int    `yaml:"time_sync_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string            `yaml:"symbol"`
	UseSimulation bool              `yaml:"use_simulation"`
	KillSwitch    *KillSwitchConfig `yaml:"kill_switch"`
	Recovery      *RecoveryConfig   `yaml:"recovery"`
	Health        *HealthConfig     `yaml:"health"`
	Triggers      []TriggerConfig   `yaml:"triggers"`
	Normal        *NormalConfig     `yaml:"normal_config"`
	Logs          *LogConfig        `yaml:"logs"`
}

// NewConfig creates a new Config struct with essential allocations but no
// magic numbers. All critical safety parameters MUST be provided in the
// config.yaml file; there is deliberately no hardcoded fallback trigger set.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		KillSwitch:    &KillSwitchConfig{Mode: ModeActive},
		Recovery:      &RecoveryConfig{},
		Health:        &HealthConfig{},
		Normal:        &NormalConfig{},
		Logs:          &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire
// configuration.
func (c *Config) Validate() error {
	if c.KillSwitch == nil {
		return fmt.Errorf("Critical config missing: 'kill_switch' configuration block must be provided in config.yaml")
	}
	ks := c.KillSwitch
	if ks.Mode != ModeActive && ks.Mode != ModeDisabled {
		return fmt.Errorf("Config error: kill_switch.mode must be '%s' or '%s'", ModeActive, ModeDisabled)
	}
	if ks.RecoveryCooldownSeconds < 0 {
		return fmt.Errorf("Config error: kill_switch.recovery_cooldown_seconds cannot be negative")
	}
	if ks.RequireApprovalCode && ks.ApprovalCodeEnv == "" {
		return fmt.Errorf("Critical config missing: 'kill_switch.approval_code_env' must name the environment variable holding the approval code when require_approval_code is set")
	}
	if ks.PersistState && ks.StateFile == "" {
		return fmt.Errorf("Critical config missing: 'kill_switch.state_file' must be explicitly specified in config.yaml when persist_state is set")
	}
	if ks.AuditDir == "" {
		return fmt.Errorf("Critical config missing: 'kill_switch.audit_dir' must be explicitly specified in config.yaml (e.g., 'audit')")
	}
	if ks.AuditRetentionDays <= 0 {
		return fmt.Errorf("Critical config missing: 'kill_switch.audit_retention_days' must be explicitly specified in config.yaml and be positive")
	}
	if ks.AuditMaxFileSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'kill_switch.audit_max_file_size_mb' must be explicitly specified in config.yaml and be positive")
	}

	if c.Recovery == nil {
		return fmt.Errorf("Critical config missing: 'recovery' configuration block must be provided in config.yaml")
	}
	rc := c.Recovery
	if rc.CooldownSeconds < 0 {
		return fmt.Errorf("Config error: recovery.cooldown_seconds cannot be negative")
	}
	if rc.GradualRestartEnabled {
		if rc.InitialPositionLimitFactor <= 0 || rc.InitialPositionLimitFactor > 1 {
			return fmt.Errorf("Config error: recovery.initial_position_limit_factor must be in (0, 1] when gradual restart is enabled")
		}
		if len(rc.EscalationIntervals) == 0 {
			return fmt.Errorf("Critical config missing: 'recovery.escalation_intervals' must be explicitly specified when gradual restart is enabled")
		}
		if len(rc.EscalationIntervals) != len(rc.EscalationFactors) {
			return fmt.Errorf("Config error: recovery.escalation_intervals item count (%d) must equal escalation_factors item count (%d)", len(rc.EscalationIntervals), len(rc.EscalationFactors))
		}
		prevInterval := 0
		prevFactor := rc.InitialPositionLimitFactor
		for i, interval := range rc.EscalationIntervals {
			if interval <= prevInterval {
				return fmt.Errorf("Config error: recovery.escalation_intervals must be strictly increasing (item %d)", i)
			}
			if rc.EscalationFactors[i] < prevFactor {
				return fmt.Errorf("Config error: recovery.escalation_factors must be non-decreasing (item %d)", i)
			}
			if rc.EscalationFactors[i] > 1.0 {
				return fmt.Errorf("Config error: recovery.escalation_factors cannot exceed 1.0 (item %d)", i)
			}
			prevInterval = interval
			prevFactor = rc.EscalationFactors[i]
		}
		if rc.EscalationFactors[len(rc.EscalationFactors)-1] != 1.0 {
			return fmt.Errorf("Config error: the last recovery.escalation_factors entry must be 1.0 so capacity is eventually fully restored")
		}
	}

	if c.Health == nil {
		return fmt.Errorf("Critical config missing: 'health' configuration block must be provided in config.yaml")
	}
	if c.Health.MaxMemoryPercent < 0 || c.Health.MaxMemoryPercent > 100 {
		return fmt.Errorf("Config error: health.max_memory_percent must be between 0 and 100")
	}
	if c.Health.MaxCPUPercent < 0 || c.Health.MaxCPUPercent > 100 {
		return fmt.Errorf("Config error: health.max_cpu_percent must be between 0 and 100")
	}
	if c.Health.MaxPriceStalenessSeconds < 0 {
		return fmt.Errorf("Config error: health.max_price_staleness_seconds cannot be negative")
	}

	if ks.Enabled && len(c.Triggers) == 0 {
		return fmt.Errorf("Critical config missing: at least one trigger must be explicitly configured in 'triggers' when the kill switch is enabled")
	}
	seen := make(map[string]bool, len(c.Triggers))
	for i := range c.Triggers {
		if err := c.validateTrigger(&c.Triggers[i], seen); err != nil {
			return err
		}
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' configuration block must be provided in config.yaml")
	}
	if c.Normal.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.monitor_interval_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.heartbeat_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.TimeSyncIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.time_sync_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}

	return nil
}

func (c *Config) validateTrigger(tc *TriggerConfig, seen map[string]bool) error {
	if tc.Name == "" {
		return fmt.Errorf("Config error: every trigger must have a 'name'")
	}
	if seen[tc.Name] {
		return fmt.Errorf("Config error: duplicate trigger name '%s'", tc.Name)
	}
	seen[tc.Name] = true
	if tc.CooldownSeconds < 0 {
		return fmt.Errorf("Config error: trigger '%s': cooldown_seconds cannot be negative", tc.Name)
	}

	switch tc.Type {
	case TriggerTypeThreshold:
		var sub ThresholdTriggerConfig
		if err := tc.Decode(&sub); err != nil {
			return err
		}
		if sub.Metric == "" {
			return fmt.Errorf("Config error: trigger '%s': threshold triggers need a 'metric' name", tc.Name)
		}
		switch sub.Comparator {
		case "<", "<=", ">", ">=", "==", "!=":
		default:
			return fmt.Errorf("Config error: trigger '%s': comparator must be one of <, <=, >, >=, ==, != (got '%s')", tc.Name, sub.Comparator)
		}
	case TriggerTypeManual:
		// No sub-config required.
	case TriggerTypeWatchdog:
		var sub WatchdogTriggerConfig
		if err := tc.Decode(&sub); err != nil {
			return err
		}
		if sub.HeartbeatIntervalSeconds <= 0 {
			return fmt.Errorf("Config error: trigger '%s': heartbeat_interval_seconds must be positive", tc.Name)
		}
		if sub.MaxMissedHeartbeats <= 0 {
			return fmt.Errorf("Config error: trigger '%s': max_missed_heartbeats must be positive", tc.Name)
		}
	case TriggerTypeExternal:
		var sub ExternalTriggerConfig
		if err := tc.Decode(&sub); err != nil {
			return err
		}
		if sub.MaxConsecutiveFailures <= 0 {
			return fmt.Errorf("Config error: trigger '%s': max_consecutive_failures must be positive", tc.Name)
		}
	default:
		return fmt.Errorf("Config error: trigger '%s': unknown trigger type '%s'", tc.Name, tc.Type)
	}
	return nil
}

// EnvConfig holds secrets sourced from the environment rather than the
// config file.
type EnvConfig struct {
	ApprovalCode    string
	ExchangeBaseURL string
}

// LoadEnvConfig resolves the expected approval code from the environment
// variable the kill switch config names, plus the exchange endpoint.
func LoadEnvConfig(c *Config) *EnvConfig {
	env := &EnvConfig{
		ExchangeBaseURL: os.Getenv("EXCHANGE_BASE_URL"),
	}
	if c.KillSwitch != nil && c.KillSwitch.ApprovalCodeEnv != "" {
		env.ApprovalCode = os.Getenv(c.KillSwitch.ApprovalCodeEnv)
	}
	return env
}
