// health/checker.go
package health

import (
	"fmt"
	"time"

	"killswitch_go_1/config"
	"killswitch_go_1/logs"
	"killswitch_go_1/resources"
	"killswitch_go_1/triggers"
)

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped"`
	Detail  string `json:"detail"`
}

// Report aggregates one run of all checks. Overall healthy iff zero failed
// checks; skipped checks count as neither pass nor fail.
type Report struct {
	Healthy bool          `json:"healthy"`
	Passed  int           `json:"passed"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Checks  []CheckResult `json:"checks"`
	Issues  []string      `json:"issues"`
}

// Checker validates memory headroom, CPU load, exchange connectivity and
// price-feed freshness before recovery is allowed to proceed. Checks whose
// underlying capability is unavailable are skipped rather than failing
// closed.
type Checker struct {
	cfg *config.HealthConfig
	res resources.Monitor
}

// NewChecker builds a health checker with the injected resource capability.
func NewChecker(cfg *config.HealthConfig, res resources.Monitor) *Checker {
	return &Checker{cfg: cfg, res: res}
}

// Run evaluates every check against the context snapshot.
func (c *Checker) Run(ctx triggers.Context) Report {
	now := ctx.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	var report Report
	add := func(res CheckResult) {
		report.Checks = append(report.Checks, res)
		switch {
		case res.Skipped:
			report.Skipped++
		case res.Passed:
			report.Passed++
		default:
			report.Failed++
			report.Issues = append(report.Issues, fmt.Sprintf("%s: %s", res.Name, res.Detail))
		}
	}

	add(c.checkMemory())
	add(c.checkCPU())
	add(c.checkExchange(ctx))
	add(c.checkPriceFreshness(ctx, now))

	report.Healthy = report.Failed == 0
	if !report.Healthy {
		logs.Warnf("[Health] Health check failed: %d issue(s): %v", report.Failed, report.Issues)
	}
	return report
}

func (c *Checker) checkMemory() CheckResult {
	res := CheckResult{Name: "memory_headroom"}
	if c.cfg.MaxMemoryPercent <= 0 || !c.res.Available() {
		res.Skipped = true
		res.Detail = "resource inspection unavailable or unconfigured"
		return res
	}
	pct, err := c.res.MemoryPercent()
	if err != nil {
		res.Skipped = true
		res.Detail = fmt.Sprintf("memory reading failed: %v", err)
		return res
	}
	res.Passed = pct <= c.cfg.MaxMemoryPercent
	res.Detail = fmt.Sprintf("%.1f%% used (limit %.1f%%)", pct, c.cfg.MaxMemoryPercent)
	return res
}

func (c *Checker) checkCPU() CheckResult {
	res := CheckResult{Name: "cpu_load"}
	if c.cfg.MaxCPUPercent <= 0 || !c.res.Available() {
		res.Skipped = true
		res.Detail = "resource inspection unavailable or unconfigured"
		return res
	}
	pct, err := c.res.CPUPercent()
	if err != nil {
		res.Skipped = true
		res.Detail = fmt.Sprintf("cpu reading failed: %v", err)
		return res
	}
	res.Passed = pct <= c.cfg.MaxCPUPercent
	res.Detail = fmt.Sprintf("%.1f%% load (limit %.1f%%)", pct, c.cfg.MaxCPUPercent)
	return res
}

func (c *Checker) checkExchange(ctx triggers.Context) CheckResult {
	res := CheckResult{Name: "exchange_connected"}
	if !c.cfg.RequireExchangeConnected {
		res.Skipped = true
		res.Detail = "not required by configuration"
		return res
	}
	res.Passed = ctx.ExchangeConnected
	if res.Passed {
		res.Detail = "connected"
	} else {
		res.Detail = "exchange not connected"
	}
	return res
}

func (c *Checker) checkPriceFreshness(ctx triggers.Context, now time.Time) CheckResult {
	res := CheckResult{Name: "price_feed_freshness"}
	if c.cfg.MaxPriceStalenessSeconds <= 0 {
		res.Skipped = true
		res.Detail = "not required by configuration"
		return res
	}
	if ctx.LastPriceUpdate.IsZero() {
		res.Detail = "no price update observed yet"
		return res
	}
	age := now.Sub(ctx.LastPriceUpdate)
	limit := time.Duration(c.cfg.MaxPriceStalenessSeconds) * time.Second
	res.Passed = age <= limit
	res.Detail = fmt.Sprintf("last update %s ago (limit %s)", age.Round(time.Second), limit)
	return res
}
