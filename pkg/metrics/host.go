package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a point-in-time view of the machine running simulations
type HostStats struct {
	CPUPercent        float64 `json:"cpu_percent"`
	CPUCount          int     `json:"cpu_count"`
	MemUsedPercent    float64 `json:"mem_used_percent"`
	MemAvailableBytes uint64  `json:"mem_available_bytes"`
	Load1             float64 `json:"load1"`
	Goroutines        int     `json:"goroutines"`
}

// SnapshotHost samples CPU over a short window plus memory and load.
// Fields that cannot be read on this platform are left zero.
func SnapshotHost(ctx context.Context) HostStats {
	stats := HostStats{
		CPUCount:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemUsedPercent = vm.UsedPercent
		stats.MemAvailableBytes = vm.Available
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
	}
	return stats
}
