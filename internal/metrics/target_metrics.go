package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// TargetSample holds CPU and memory readings for a single supervised target.
type TargetSample struct {
	PID        int32   `json:"pid"`
	Target     string  `json:"target"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty"` // Unix only
}

// TargetMetricsConfig holds configuration for target metrics collection.
type TargetMetricsConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// TargetMetricsCollector periodically samples CPU and memory usage of the
// supervised targets and exports them as Prometheus gauges.
type TargetMetricsCollector struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	latest map[string]TargetSample

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewTargetMetricsCollector(config TargetMetricsConfig) *TargetMetricsCollector {
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &TargetMetricsCollector{
		enabled:  config.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		latest:   make(map[string]TargetSample),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "procmon",
				Subsystem: "target",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage for supervised targets.",
			}, []string{"target"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "procmon",
				Subsystem: "target",
				Name:      "memory_mb",
				Help:      "Resident memory in MB for supervised targets.",
			}, []string{"target"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "procmon",
				Subsystem: "target",
				Name:      "num_threads",
				Help:      "Number of threads for supervised targets.",
			}, []string{"target"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "procmon",
				Subsystem: "target",
				Name:      "num_fds",
				Help:      "Number of file descriptors for supervised targets (Unix only).",
			}, []string{"target"},
		),
	}
}

// RegisterMetrics registers the collector's gauges with the registerer.
func (c *TargetMetricsCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. getTargets supplies the current
// target-name to PID mapping; targets with no live PID are skipped.
func (c *TargetMetricsCollector) Start(ctx context.Context, getTargets func() map[string]int32) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(getTargets())
			}
		}
	}()
}

// Stop halts collection and waits for the collector goroutine.
func (c *TargetMetricsCollector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *TargetMetricsCollector) collect(targets map[string]int32) {
	fresh := make(map[string]TargetSample, len(targets))
	for name, pid := range targets {
		if pid <= 0 {
			continue
		}
		sample, err := sampleTarget(name, pid)
		if err != nil {
			slog.Debug("Failed to sample target metrics", "target", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = sample

		c.cpuPercent.WithLabelValues(name).Set(sample.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(sample.MemoryMB)
		c.numThreads.WithLabelValues(name).Set(float64(sample.NumThreads))
		if runtime.GOOS != "windows" && sample.NumFDs > 0 {
			c.numFDs.WithLabelValues(name).Set(float64(sample.NumFDs))
		}
	}

	c.mu.Lock()
	for name := range c.latest {
		if _, ok := fresh[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
			c.numThreads.DeleteLabelValues(name)
			if runtime.GOOS != "windows" {
				c.numFDs.DeleteLabelValues(name)
			}
		}
	}
	c.latest = fresh
	c.mu.Unlock()
}

// Latest returns the most recent sample for a target.
func (c *TargetMetricsCollector) Latest(name string) (TargetSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[name]
	return s, ok
}

func sampleTarget(name string, pid int32) (TargetSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return TargetSample{}, err
	}
	sample := TargetSample{PID: pid, Target: name}

	if cpuPercent, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpuPercent
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return TargetSample{}, err
	}
	sample.MemoryRSS = memInfo.RSS
	sample.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	if numThreads, err := proc.NumThreads(); err == nil {
		sample.NumThreads = numThreads
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			sample.NumFDs = numFDs
		}
	}
	return sample, nil
}
