package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/env"
	"github.com/beta0629/stock-trading-system-sub001/internal/history"
	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/probe"
	"github.com/beta0629/stock-trading-system-sub001/internal/reaper"
	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

// DefaultInterval is the base monitoring tick interval.
const DefaultInterval = 60 * time.Second

const (
	RolePrimary   = "primary"
	RoleAuxiliary = "auxiliary"
)

// Config holds everything one supervisor run needs.
type Config struct {
	// Interval is the base sleep between ticks. A resource-starved tick
	// sleeps twice this.
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// PIDDir is where pid files without explicit paths are kept.
	PIDDir string `json:"pid_dir" mapstructure:"pid_dir"`
	// AutoRestart enables replacing unhealthy targets. When false the
	// loop only observes and reports.
	AutoRestart bool `json:"auto_restart" mapstructure:"auto_restart"`
	// StartPrimary launches the primary target at startup when no
	// running instance is found.
	StartPrimary bool `json:"start_primary" mapstructure:"start_primary"`
	// MonitorAux includes the auxiliary targets in supervision.
	MonitorAux bool `json:"monitor_aux" mapstructure:"monitor_aux"`
	// RestartAuxOnStart force-restarts the auxiliary targets once at
	// startup before the loop begins.
	RestartAuxOnStart bool `json:"restart_aux_on_start" mapstructure:"restart_aux_on_start"`

	Primary target.Spec   `json:"primary" mapstructure:"primary"`
	Auxes   []target.Spec `json:"auxes" mapstructure:"auxes"`

	Thresholds resources.Thresholds `json:"thresholds" mapstructure:"thresholds"`
	Term       target.TermOptions   `json:"term" mapstructure:"term"`
}

// policyState is the mutable restart bookkeeping for one target. It is
// written only by the supervision loop; the mutex on Monitor makes it
// readable from status endpoints.
type policyState struct {
	Role                string
	Restarts            int
	ConsecutiveFailures int
	LastRestartAt       time.Time
	LastStartUnix       int64
	LastResult          probe.Result
	LastProbedAt        time.Time
}

// Monitor is the supervisor core: a single-threaded tick loop that probes
// target liveness, reaps zombies, gates on host resources and restarts
// unhealthy targets under rate limits. It carries all of its configuration
// and counters explicitly; nothing lives in package globals.
type Monitor struct {
	cfg      Config
	logger   *slog.Logger
	environ  *env.Env
	prober   *probe.Prober
	reap     *reaper.Reaper
	gate     *resources.Gate
	recorder *history.Recorder

	mu       sync.Mutex
	policies map[string]*policyState
}

// New validates the configuration and assembles a supervisor. A target
// whose executable cannot resolve is a fatal configuration error: the
// supervisor refuses to start rather than spin on doomed launches.
func New(cfg Config, logger *slog.Logger, environ *env.Env, recorder *history.Recorder) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if environ == nil {
		environ = env.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if err := cfg.Primary.Validate(); err != nil {
		return nil, err
	}
	cfg.Primary.Normalize(cfg.PIDDir)
	if err := cfg.Primary.CheckRunnable(); err != nil {
		return nil, err
	}
	for i := range cfg.Auxes {
		if err := cfg.Auxes[i].Validate(); err != nil {
			return nil, err
		}
		cfg.Auxes[i].Normalize(cfg.PIDDir)
		if !cfg.MonitorAux {
			continue
		}
		if err := cfg.Auxes[i].CheckRunnable(); err != nil {
			return nil, err
		}
	}

	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		environ:  environ,
		prober:   probe.New(logger),
		reap:     reaper.New(logger),
		gate:     resources.NewGate(cfg.Thresholds, logger),
		recorder: recorder,
		policies: make(map[string]*policyState),
	}
	m.policy(cfg.Primary.Name, RolePrimary)
	for _, aux := range cfg.Auxes {
		m.policy(aux.Name, RoleAuxiliary)
	}
	return m, nil
}

// Run drives the supervision loop until ctx is cancelled. Cancellation is
// observed at tick boundaries only; the current tick always completes. The
// returned error is nil on a clean stop.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Process monitoring started",
		"primary", m.cfg.Primary.Name,
		"auxiliaries", len(m.cfg.Auxes),
		"interval", m.cfg.Interval,
		"auto_restart", m.cfg.AutoRestart)

	m.startup(ctx)

	for {
		sleepFor := m.tick(ctx)
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-time.After(sleepFor):
		}
	}
}

// startup performs the one-shot actions requested for supervisor start:
// forced auxiliary restarts, the immediate primary launch, and an initial
// auxiliary health pass.
func (m *Monitor) startup(ctx context.Context) {
	if m.cfg.MonitorAux && m.cfg.RestartAuxOnStart {
		for _, aux := range m.cfg.Auxes {
			m.logger.Info("Restarting auxiliary target at startup", "target", aux.Name)
			if err := m.restart(ctx, aux, "startup restart requested"); err != nil {
				m.logger.Error("Failed to restart auxiliary target", "target", aux.Name, "error", err)
			}
		}
	}

	if m.cfg.StartPrimary {
		res := m.prober.Probe(m.cfg.Primary, 0)
		m.noteProbe(m.cfg.Primary.Name, res)
		if res.Found() {
			m.logger.Info("Primary target already running, skipping immediate start",
				"target", m.cfg.Primary.Name, "pid", res.PID)
		} else if err := m.launchInitial(m.cfg.Primary); err != nil {
			m.logger.Error("Failed to start primary target", "target", m.cfg.Primary.Name, "error", err)
		}
	}

	if m.cfg.MonitorAux {
		for _, aux := range m.cfg.Auxes {
			m.supervise(ctx, aux)
		}
	}
}

// tick runs one supervision pass and returns how long to sleep before the
// next one. Panics are contained here: one bad tick must never take the
// supervisor down.
func (m *Monitor) tick(ctx context.Context) (sleepFor time.Duration) {
	sleepFor = m.cfg.Interval
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Monitoring tick panicked", "panic", r)
			metrics.IncTickPanic()
			sleepFor = m.cfg.Interval
		}
	}()
	metrics.IncTick()

	snap, ok := m.gate.Check()
	metrics.SetHostUsage(snap.MemoryPercent, snap.CPUPercent, snap.DiskPercent)
	if !ok {
		m.logger.Warn("Insufficient system resources, suspending restart activity",
			"memory", snap.MemoryPercent, "cpu", snap.CPUPercent, "disk", snap.DiskPercent)
		m.recorder.Record(history.Event{
			Type: history.EventGateHold,
			Detail: fmt.Sprintf("memory %.1f%%, cpu %.1f%%, disk %.1f%%",
				snap.MemoryPercent, snap.CPUPercent, snap.DiskPercent),
		})
		metrics.IncGateHold()
		return 2 * m.cfg.Interval
	}

	if n := m.reap.Sweep(); n > 0 {
		m.logger.Info("Cleaned zombie processes", "count", n)
		m.recorder.Record(history.Event{
			Type:   history.EventZombieSweep,
			Detail: fmt.Sprintf("%d zombies signaled", n),
		})
		metrics.AddZombiesSwept(n)
	}

	if m.cfg.MonitorAux {
		for _, aux := range m.cfg.Auxes {
			m.supervise(ctx, aux)
		}
	}
	m.supervise(ctx, m.cfg.Primary)

	return m.cfg.Interval
}

// supervise probes one target and restarts it when unhealthy and
// permitted. Restart failures stay inside the loop: they are logged,
// counted and retried on a later tick.
func (m *Monitor) supervise(ctx context.Context, spec target.Spec) {
	expectStart := m.expectedStart(spec.Name)
	res := m.prober.Probe(spec, expectStart)
	m.noteProbe(spec.Name, res)

	if res.Adopted {
		m.recorder.Record(history.Event{Type: history.EventAdopt, Target: spec.Name, PID: res.PID})
		metrics.IncAdoption(spec.Name)
	}
	metrics.SetTargetHealthy(spec.Name, res.Healthy())

	if res.Healthy() {
		m.logger.Debug("Target healthy", "target", spec.Name, "pid", res.PID,
			"state", res.State, "cpu", res.CPUPercent, "memory", res.MemoryPercent)
		return
	}

	reason := "process not found"
	if res.Found() {
		reason = "unhealthy state: " + res.State
		m.logger.Warn("Target process unhealthy", "target", spec.Name, "pid", res.PID, "state", res.State)
	} else {
		m.logger.Warn("Target process not running", "target", spec.Name)
	}

	if !m.cfg.AutoRestart {
		m.logger.Warn("Auto restart disabled, leaving target down", "target", spec.Name)
		return
	}
	if err := m.restart(ctx, spec, reason); err != nil {
		m.logger.Error("Failed to restart target", "target", spec.Name, "error", err)
	}
}

func (m *Monitor) shutdown() {
	m.logger.Info("Process monitoring stopped")
	m.recorder.Record(history.Event{Type: history.EventShutdown})
}

// policy returns the bookkeeping entry for a target, creating it with the
// given role when absent.
func (m *Monitor) policy(name, role string) *policyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	pol, ok := m.policies[name]
	if !ok {
		pol = &policyState{Role: role}
		m.policies[name] = pol
	}
	return pol
}

func (m *Monitor) expectedStart(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pol, ok := m.policies[name]; ok {
		return pol.LastStartUnix
	}
	return 0
}

// noteProbe records the latest probe result for status readers and keeps the
// start-time identity current on adoption.
func (m *Monitor) noteProbe(name string, res probe.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pol, ok := m.policies[name]
	if !ok {
		return
	}
	pol.LastResult = res
	pol.LastProbedAt = time.Now()
	if res.Adopted {
		pol.LastStartUnix = res.StartUnix
	}
}
