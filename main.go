package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"killswitch_go_1/audit"
	"killswitch_go_1/config"
	"killswitch_go_1/exchange"
	"killswitch_go_1/health"
	"killswitch_go_1/killswitch"
	"killswitch_go_1/logs"
	"killswitch_go_1/resources"
	"killswitch_go_1/state"
	"killswitch_go_1/triggers"

	"github.com/joho/godotenv"
)

const usage = `Usage: killswitch [-config path] <command> [flags]

Commands:
  run      Start the supervised safety loop
  status   Print current state, last trigger time, cooldown and event count
  trigger  Manually trip the kill switch (requires --reason and --confirm)
  recover  Request recovery (requires --code and --approved-by)
  audit    Query the audit trail (--since, --limit, --state)
  health   Run the health checks and print the report
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("killswitch", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "Path to the config.yaml file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Print(usage)
		return 1
	}
	command, cmdArgs := rest[0], rest[1:]

	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: .env file not found, will continue using system environment variables.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Fatal error: Unable to load config file '%s': %v\n", *configPath, err)
		return 1
	}
	envCfg := config.LoadEnvConfig(cfg)

	logFilename := fmt.Sprintf("%s/killswitch.log", cfg.Normal.LogDirectory)
	if err := logs.Init(cfg.Logs, logFilename); err != nil {
		fmt.Printf("Fatal error: Failed to initialize logging system: %v\n", err)
		return 1
	}
	defer logs.Close()

	switch command {
	case "run":
		return cmdRun(cfg, envCfg)
	case "status":
		return cmdStatus(cfg, envCfg)
	case "trigger":
		return cmdTrigger(cfg, envCfg, cmdArgs)
	case "recover":
		return cmdRecover(cfg, envCfg, cmdArgs)
	case "audit":
		return cmdAudit(cfg, cmdArgs)
	case "health":
		return cmdHealth(cfg)
	default:
		fmt.Printf("Unknown command '%s'\n\n%s", command, usage)
		return 1
	}
}

func cmdRun(cfg *config.Config, envCfg *config.EnvConfig) int {
	orchestrator, err := NewOrchestrator(cfg, envCfg)
	if err != nil {
		logs.Errorf("Failed to initialize Orchestrator: %v", err)
		return 1
	}
	orchestrator.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	orchestrator.Stop()
	return 0
}

// coreComponents is the offline assembly the one-shot commands operate on:
// the restored switch plus its persistence and audit trail, without the feed
// client or the monitor loop.
type coreComponents struct {
	killSwitch *killswitch.KillSwitch
	trail      *audit.Trail
	manual     *triggers.ManualTrigger
}

func buildCore(cfg *config.Config, envCfg *config.EnvConfig) (*coreComponents, error) {
	var store killswitch.StateStore
	var stateManager *state.Manager
	if cfg.KillSwitch.PersistState {
		sm, err := state.NewManager(cfg.KillSwitch.StateFile)
		if err != nil {
			return nil, err
		}
		stateManager = sm
		store = sm
	}
	trail, err := audit.NewTrail(cfg.KillSwitch.AuditDir, cfg.KillSwitch.AuditMaxFileSizeMB,
		cfg.KillSwitch.AuditRetentionDays, cfg.KillSwitch.AuditCompressRotated)
	if err != nil {
		return nil, err
	}
	ks := killswitch.New(cfg.KillSwitch, envCfg.ApprovalCode, store, trail)
	if stateManager != nil {
		rec, err := stateManager.Load()
		if err != nil {
			return nil, err
		}
		if rec != nil {
			restoreRecord(ks, rec)
		}
	}

	core := &coreComponents{killSwitch: ks, trail: trail}
	for i := range cfg.Triggers {
		if cfg.Triggers[i].Type == config.TriggerTypeManual {
			core.manual = triggers.NewManualTrigger(&cfg.Triggers[i])
			break
		}
	}
	return core, nil
}

func cmdStatus(cfg *config.Config, envCfg *config.EnvConfig) int {
	core, err := buildCore(cfg, envCfg)
	if err != nil {
		logs.Errorf("status failed: %v", err)
		return 1
	}
	defer core.trail.Close()

	st := core.killSwitch.Status()
	events, err := core.trail.GetEvents(time.Time{}, time.Time{}, 0)
	if err != nil {
		logs.Errorf("status failed: %v", err)
		return 1
	}

	fmt.Printf("State:              %s (%s)\n", st.State, killswitch.Describe(st.State))
	if !st.KilledAt.IsZero() {
		fmt.Printf("Killed at:          %s\n", st.KilledAt.Format(time.RFC3339))
		fmt.Printf("Trigger reason:     %s\n", st.TriggerReason)
	}
	if st.State == killswitch.StateRecovering {
		fmt.Printf("Cooldown remaining: %s\n", st.CooldownRemaining.Round(time.Second))
	}
	fmt.Printf("Audit events:       %d\n", len(events))
	return 0
}

func cmdTrigger(cfg *config.Config, envCfg *config.EnvConfig, args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	reason := fs.String("reason", "", "Reason for the emergency stop")
	confirm := fs.Bool("confirm", false, "Confirm the emergency stop")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *reason == "" || !*confirm {
		fmt.Println("trigger requires --reason and --confirm")
		return 1
	}

	core, err := buildCore(cfg, envCfg)
	if err != nil {
		logs.Errorf("trigger failed: %v", err)
		return 1
	}
	defer core.trail.Close()

	// Funnel operator stops through the manual trigger when one is
	// configured, so they share the audit path of automatic stops.
	var ok bool
	if core.manual != nil {
		res := core.manual.RequestTrigger(*reason, "operator")
		ok = core.killSwitch.Trigger(res.Reason, core.manual.Name(), res.EventMetadata())
	} else {
		ok = core.killSwitch.Trigger(*reason, "manual", nil)
	}
	if !ok {
		fmt.Println("Kill switch could not be triggered (disabled?)")
		return 1
	}
	fmt.Println("Kill switch TRIGGERED. All execution is blocked.")
	return 0
}

func cmdRecover(cfg *config.Config, envCfg *config.EnvConfig, args []string) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	code := fs.String("code", "", "Approval code")
	approvedBy := fs.String("approved-by", "", "Identity of the approver")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *approvedBy == "" {
		fmt.Println("recover requires --approved-by")
		return 1
	}

	core, err := buildCore(cfg, envCfg)
	if err != nil {
		logs.Errorf("recover failed: %v", err)
		return 1
	}
	defer core.trail.Close()

	if !core.killSwitch.RequestRecovery(*approvedBy, *code) {
		fmt.Println("Recovery request rejected.")
		return 1
	}
	fmt.Printf("Recovery requested. Cooldown: %s\n",
		time.Duration(cfg.KillSwitch.RecoveryCooldownSeconds)*time.Second)
	return 0
}

func cmdAudit(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	since := fs.String("since", "", "Only events at or after this time (RFC3339 or YYYY-MM-DD)")
	limit := fs.Int("limit", 50, "Maximum number of events")
	stateFilter := fs.String("state", "", "Only events resulting in this state (e.g. KILLED)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var sinceTime time.Time
	if *since != "" {
		var err error
		sinceTime, err = parseTimeArg(*since)
		if err != nil {
			fmt.Printf("Invalid --since value: %v\n", err)
			return 1
		}
	}

	trail, err := audit.NewTrail(cfg.KillSwitch.AuditDir, cfg.KillSwitch.AuditMaxFileSizeMB,
		cfg.KillSwitch.AuditRetentionDays, cfg.KillSwitch.AuditCompressRotated)
	if err != nil {
		logs.Errorf("audit failed: %v", err)
		return 1
	}
	defer trail.Close()

	var events []killswitch.Event
	if *stateFilter != "" {
		st := killswitch.State(*stateFilter)
		if !st.IsValid() {
			fmt.Printf("Invalid --state value '%s'\n", *stateFilter)
			return 1
		}
		events, err = trail.GetEventsByState(st, sinceTime, time.Time{}, *limit)
	} else {
		events, err = trail.GetEvents(sinceTime, time.Time{}, *limit)
	}
	if err != nil {
		logs.Errorf("audit failed: %v", err)
		return 1
	}
	for _, ev := range events {
		fmt.Printf("%s  %-10s -> %-10s  [%s] %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.PreviousState, ev.NewState, ev.TriggeredBy, ev.Reason)
	}
	fmt.Printf("%d event(s)\n", len(events))
	return 0
}

func cmdHealth(cfg *config.Config) int {
	res := resources.Detect()
	checker := health.NewChecker(cfg.Health, res)

	// Build an honest snapshot by probing the feed once.
	snapshot := triggers.Context{Timestamp: time.Now()}
	var client exchange.Client
	if cfg.UseSimulation {
		client = exchange.NewMockClient(100.0, 5.0)
	} else if baseURL := os.Getenv("EXCHANGE_BASE_URL"); baseURL != "" {
		client = exchange.NewAPIClient(baseURL, 10)
	}
	if client != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := client.GetPrice(probeCtx, cfg.Symbol); err == nil {
			snapshot.ExchangeConnected = true
			snapshot.LastPriceUpdate = time.Now()
		}
		cancel()
	}

	report := checker.Run(snapshot)
	for _, check := range report.Checks {
		status := "PASS"
		if check.Skipped {
			status = "SKIP"
		} else if !check.Passed {
			status = "FAIL"
		}
		fmt.Printf("%-22s %s  %s\n", check.Name, status, check.Detail)
	}
	if !report.Healthy {
		fmt.Printf("UNHEALTHY: %d check(s) failed\n", report.Failed)
		return 1
	}
	fmt.Printf("Healthy (%d passed, %d skipped)\n", report.Passed, report.Skipped)
	return 0
}

func parseTimeArg(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
