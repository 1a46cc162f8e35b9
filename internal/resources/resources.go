package resources

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	DefaultMaxMemoryPercent = 90
	DefaultMaxCPUPercent    = 95
	DefaultMaxDiskPercent   = 90
	DefaultCPUSampleWindow  = time.Second
	DefaultDiskPath         = "/"
)

// Thresholds gate restart activity on host-wide usage. Zero fields fall
// back to the defaults above.
type Thresholds struct {
	MaxMemoryPercent float64       `json:"max_memory_percent" mapstructure:"max_memory_percent"`
	MaxCPUPercent    float64       `json:"max_cpu_percent" mapstructure:"max_cpu_percent"`
	MaxDiskPercent   float64       `json:"max_disk_percent" mapstructure:"max_disk_percent"`
	CPUSampleWindow  time.Duration `json:"cpu_sample_window" mapstructure:"cpu_sample_window"`
	DiskPath         string        `json:"disk_path" mapstructure:"disk_path"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MaxMemoryPercent <= 0 {
		t.MaxMemoryPercent = DefaultMaxMemoryPercent
	}
	if t.MaxCPUPercent <= 0 {
		t.MaxCPUPercent = DefaultMaxCPUPercent
	}
	if t.MaxDiskPercent <= 0 {
		t.MaxDiskPercent = DefaultMaxDiskPercent
	}
	if t.CPUSampleWindow <= 0 {
		t.CPUSampleWindow = DefaultCPUSampleWindow
	}
	if t.DiskPath == "" {
		t.DiskPath = DefaultDiskPath
	}
	return t
}

// Snapshot is one host-wide usage sample. Fields that could not be sampled
// stay zero.
type Snapshot struct {
	MemoryPercent float64 `json:"memory_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Gate samples host-wide memory, CPU and disk usage and decides whether the
// host has room for restart activity.
type Gate struct {
	logger     *slog.Logger
	thresholds Thresholds
}

func NewGate(thresholds Thresholds, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{logger: logger, thresholds: thresholds.withDefaults()}
}

// Check samples usage against the thresholds and reports whether restarts
// may proceed this tick. The first exceeded threshold ends the check.
// Sampling failures fail open: a broken metrics source must never suspend
// supervision of the system it is protecting.
func (g *Gate) Check() (Snapshot, bool) {
	var snap Snapshot

	if vm, err := mem.VirtualMemory(); err != nil {
		g.logger.Debug("Memory sample failed", "error", err)
	} else {
		snap.MemoryPercent = vm.UsedPercent
		if vm.UsedPercent >= g.thresholds.MaxMemoryPercent {
			g.logger.Warn("Memory usage too high",
				"percent", vm.UsedPercent, "max", g.thresholds.MaxMemoryPercent)
			return snap, false
		}
	}

	if percents, err := cpu.Percent(g.thresholds.CPUSampleWindow, false); err != nil || len(percents) == 0 {
		g.logger.Debug("CPU sample failed", "error", err)
	} else {
		snap.CPUPercent = percents[0]
		if percents[0] >= g.thresholds.MaxCPUPercent {
			g.logger.Warn("CPU usage too high",
				"percent", percents[0], "max", g.thresholds.MaxCPUPercent)
			return snap, false
		}
	}

	if du, err := disk.Usage(g.thresholds.DiskPath); err != nil {
		g.logger.Debug("Disk sample failed", "path", g.thresholds.DiskPath, "error", err)
	} else {
		snap.DiskPercent = du.UsedPercent
		if du.UsedPercent >= g.thresholds.MaxDiskPercent {
			g.logger.Warn("Disk usage too high",
				"path", g.thresholds.DiskPath, "percent", du.UsedPercent, "max", g.thresholds.MaxDiskPercent)
			return snap, false
		}
	}

	return snap, true
}

// Sample measures all three metrics without judging them, for periodic
// resource logging. Best effort; failed metrics stay zero.
func (g *Gate) Sample() Snapshot {
	var snap Snapshot
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(g.thresholds.CPUSampleWindow, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if du, err := disk.Usage(g.thresholds.DiskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	}
	return snap
}
