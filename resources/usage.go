// resources/usage.go
package resources

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"killswitch_go_1/logs"
)

// Monitor is the optional resource-inspection capability. Consumers receive
// it by injection and must tolerate Available() == false: on platforms where
// inspection does not work, the no-op implementation is substituted once at
// construction instead of being checked ad hoc at every call site.
type Monitor interface {
	// Available reports whether readings can be taken at all.
	Available() bool
	// MemoryPercent returns system memory usage in percent.
	MemoryPercent() (float64, error)
	// CPUPercent returns system CPU usage in percent.
	CPUPercent() (float64, error)
}

// SystemMonitor reads real usage through gopsutil.
type SystemMonitor struct{}

var _ Monitor = (*SystemMonitor)(nil)

func (SystemMonitor) Available() bool { return true }

func (SystemMonitor) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return vm.UsedPercent, nil
}

func (SystemMonitor) CPUPercent() (float64, error) {
	// Interval 0 returns usage since the previous call, which fits a
	// periodic safety loop better than blocking for a sample window.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu usage reading returned no samples")
	}
	return percents[0], nil
}

// NoopMonitor is the fallback for platforms without inspection support.
type NoopMonitor struct{}

var _ Monitor = (*NoopMonitor)(nil)

func (NoopMonitor) Available() bool { return false }

func (NoopMonitor) MemoryPercent() (float64, error) { return 0, nil }

func (NoopMonitor) CPUPercent() (float64, error) { return 0, nil }

// Detect probes the capability once and returns either a SystemMonitor or a
// NoopMonitor.
func Detect() Monitor {
	if _, err := mem.VirtualMemory(); err != nil {
		logs.Warnf("[Resources] Resource inspection unavailable on this platform: %v", err)
		return NoopMonitor{}
	}
	return SystemMonitor{}
}
