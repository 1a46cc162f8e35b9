package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/env"
	"github.com/beta0629/stock-trading-system-sub001/internal/history"
	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

const (
	// DefaultPollInterval is the child liveness poll cadence.
	DefaultPollInterval = 10 * time.Second
	// DefaultResourceLogInterval spaces the host usage and uptime log lines.
	DefaultResourceLogInterval = 10 * time.Minute
)

// defaultTerm is the wrapper's child termination cadence. The wrapper owns
// exactly one child and shutdown is interactive, so it polls much tighter
// than the monitor core.
func defaultTerm() target.TermOptions {
	return target.TermOptions{Poll: 300 * time.Millisecond, Wait: 9 * time.Second, KillWait: time.Second}
}

// Config describes one wrapper run: the single child it owns and the
// cadences it operates on.
type Config struct {
	// Direct supervises the worker itself; the default child is the
	// monitor loop re-executed from the same binary.
	Direct bool `json:"direct" mapstructure:"direct"`
	// Child is the one process the wrapper spawns and keeps alive.
	Child target.Spec `json:"child" mapstructure:"child"`
	// PollInterval is the spacing between child liveness checks.
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	// ResourceLogInterval is the spacing between resource snapshot logs.
	ResourceLogInterval time.Duration `json:"resource_log_interval" mapstructure:"resource_log_interval"`
	// Term tunes the child termination at shutdown.
	Term target.TermOptions `json:"term" mapstructure:"term"`
	// ShortRunThreshold, ShortRunDelay and RestartDelay pace relaunches.
	// All three default to zero: the wrapper relaunches immediately. When
	// ShortRunThreshold is set, a child that died inside it waits
	// ShortRunDelay before the next spawn, everything else RestartDelay.
	ShortRunThreshold time.Duration `json:"short_run_threshold" mapstructure:"short_run_threshold"`
	ShortRunDelay     time.Duration `json:"short_run_delay" mapstructure:"short_run_delay"`
	RestartDelay      time.Duration `json:"restart_delay" mapstructure:"restart_delay"`
	// KillDescendants sweeps the child's leftover subtree at shutdown.
	KillDescendants bool `json:"kill_descendants" mapstructure:"kill_descendants"`
	// CloudTimezone overrides the zone pinned during cloud CI runs.
	CloudTimezone string `json:"cloud_timezone" mapstructure:"cloud_timezone"`

	Thresholds resources.Thresholds `json:"thresholds" mapstructure:"thresholds"`
}

// Wrapper is the outer supervision layer: it owns exactly one child, either
// the monitor loop or the worker directly, relaunches it whenever it exits
// and logs host resources on a slow cadence. There is no rate limit at this
// layer unless pacing is configured; a dead child is replaced on the next
// poll.
type Wrapper struct {
	cfg      Config
	logger   *slog.Logger
	environ  *env.Env
	recorder *history.Recorder
	gate     *resources.Gate
	lister   DescendantLister

	mu         sync.Mutex
	startedAt  time.Time
	relaunches int
	handle     *target.Handle
}

// New validates the child and assembles a wrapper. A child whose executable
// cannot resolve is a fatal configuration error.
func New(cfg Config, logger *slog.Logger, environ *env.Env, recorder *history.Recorder, lister DescendantLister) (*Wrapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if environ == nil {
		environ = env.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResourceLogInterval <= 0 {
		cfg.ResourceLogInterval = DefaultResourceLogInterval
	}
	if (cfg.Term == target.TermOptions{}) {
		cfg.Term = defaultTerm()
	}
	if err := cfg.Child.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Child.CheckRunnable(); err != nil {
		return nil, err
	}
	return &Wrapper{
		cfg:      cfg,
		logger:   logger,
		environ:  environ,
		recorder: recorder,
		gate:     resources.NewGate(cfg.Thresholds, logger),
		lister:   lister,
	}, nil
}

// Run owns the child until ctx is cancelled: spawn, immediate-exit check,
// liveness polls, relaunch on exit, periodic resource logging and final
// cleanup. The initial spawn failing is fatal; in-loop spawn failures are
// retried on the next poll.
func (w *Wrapper) Run(ctx context.Context) error {
	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()

	if env.CloudCI() {
		w.environ.ApplyCloudProfile(w.cfg.CloudTimezone)
		w.logger.Info("Cloud CI environment detected, applying cloud profile")
	}

	mode := "monitor"
	if w.cfg.Direct {
		mode = "direct"
	}
	w.logger.Info("Service wrapper starting",
		"mode", mode, "child", w.cfg.Child.Name, "poll_interval", w.cfg.PollInterval)

	if err := w.spawn(); err != nil {
		return err
	}

	// Backdated so the first poll logs a startup health mark.
	lastResourceLog := time.Now().Add(-w.cfg.ResourceLogInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.cleanup()
			return nil
		case <-ticker.C:
		}

		if h := w.child(); h != nil && h.Exited() {
			ran := time.Since(h.StartedAt())
			n := w.noteRelaunch()
			metrics.IncWrapperRelaunch()
			w.logger.Warn("Child exited, relaunching",
				"child", w.cfg.Child.Name, "pid", h.PID(),
				"ran", ran.Round(time.Second), "relaunches", n, "error", h.ExitErr())
			w.recorder.Record(history.Event{
				Type:     history.EventRestart,
				Target:   w.cfg.Child.Name,
				PID:      h.PID(),
				Restarts: n,
				Detail:   "wrapper relaunch",
			})
			if delay := w.relaunchDelay(ran); delay > 0 {
				w.logger.Info("Pacing relaunch", "child", w.cfg.Child.Name, "delay", delay)
				select {
				case <-ctx.Done():
					w.cleanup()
					return nil
				case <-time.After(delay):
				}
			}
			if err := w.spawn(); err != nil {
				w.logger.Error("Relaunch failed, retrying on next poll",
					"child", w.cfg.Child.Name, "error", err)
			}
		}

		if time.Since(lastResourceLog) >= w.cfg.ResourceLogInterval {
			w.logResources()
			lastResourceLog = time.Now()
		}
	}
}

// spawn launches the child and confirms it survives the immediate-exit
// window. The pid record makes the child visible to the status and stop
// commands.
func (w *Wrapper) spawn() error {
	h, err := target.Launch(w.cfg.Child, w.environ.Merge(w.cfg.Child.Env))
	if err != nil {
		return fmt.Errorf("spawn %s: %w", w.cfg.Child.Name, err)
	}
	if err := h.EnsureUp(w.cfg.Child.StartGrace); err != nil {
		return fmt.Errorf("spawn %s: %w", w.cfg.Child.Name, err)
	}
	w.mu.Lock()
	w.handle = h
	w.mu.Unlock()

	if w.cfg.Child.PIDFile != "" {
		if err := (target.Record{Path: w.cfg.Child.PIDFile}).Write(h.PID()); err != nil {
			w.logger.Warn("Failed to persist child PID",
				"child", w.cfg.Child.Name, "path", w.cfg.Child.PIDFile, "error", err)
		}
	}
	w.recorder.Record(history.Event{Type: history.EventLaunch, Target: w.cfg.Child.Name, PID: h.PID()})
	w.logger.Info("Child started", "child", w.cfg.Child.Name, "pid", h.PID())
	return nil
}

// relaunchDelay decides the pause before the next spawn. Zero keeps the
// immediate-relaunch contract.
func (w *Wrapper) relaunchDelay(ran time.Duration) time.Duration {
	if w.cfg.ShortRunThreshold > 0 && ran < w.cfg.ShortRunThreshold {
		return w.cfg.ShortRunDelay
	}
	return w.cfg.RestartDelay
}

func (w *Wrapper) logResources() {
	snap := w.gate.Sample()
	metrics.SetHostUsage(snap.MemoryPercent, snap.CPUPercent, snap.DiskPercent)
	w.mu.Lock()
	uptime := time.Since(w.startedAt)
	n := w.relaunches
	w.mu.Unlock()
	w.logger.Info("Service health",
		"cpu", snap.CPUPercent, "memory", snap.MemoryPercent, "disk", snap.DiskPercent,
		"uptime", uptime.Round(time.Second).String(), "relaunches", n)
}

// cleanup stops the tracked child, then sweeps whatever of its subtree is
// left when enumeration is available. Descendants are collected before the
// child goes down; afterwards the parent linkage is gone.
func (w *Wrapper) cleanup() {
	w.mu.Lock()
	h := w.handle
	uptime := time.Since(w.startedAt)
	n := w.relaunches
	w.mu.Unlock()

	w.logger.Info("Service wrapper stopping",
		"uptime", uptime.Round(time.Second).String(), "relaunches", n)

	var descendants []int32
	if h != nil && !h.Exited() {
		if w.cfg.KillDescendants && w.lister != nil {
			if pids, err := w.lister.Descendants(int32(h.PID())); err == nil {
				descendants = pids
			} else {
				w.logger.Debug("Descendant enumeration failed", "pid", h.PID(), "error", err)
			}
		}
		if err := target.Terminate(h.PID(), w.cfg.Term); err != nil {
			w.logger.Error("Failed to stop child", "child", w.cfg.Child.Name, "pid", h.PID(), "error", err)
		}
		w.recorder.Record(history.Event{Type: history.EventTerminate, Target: w.cfg.Child.Name, PID: h.PID()})
	}
	w.sweepDescendants(descendants)

	if w.cfg.Child.PIDFile != "" {
		_ = (target.Record{Path: w.cfg.Child.PIDFile}).Remove()
	}
	w.recorder.Record(history.Event{Type: history.EventShutdown, Target: w.cfg.Child.Name})
	w.logger.Info("All child processes stopped")
}

// sweepDescendants forcefully kills whatever of the child's subtree
// outlived the child. The graceful phase already happened via the group
// signal; survivors here moved to their own process groups.
func (w *Wrapper) sweepDescendants(pids []int32) {
	for _, p32 := range pids {
		pid := int(p32)
		if !target.Exists(pid) {
			continue
		}
		w.logger.Info("Killing leftover descendant", "pid", pid)
		target.Kill(pid)
	}
}

// Relaunches reports how many times the child has been replaced.
func (w *Wrapper) Relaunches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.relaunches
}

// ChildPID reports the pid of the current child, 0 before the first spawn.
func (w *Wrapper) ChildPID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle == nil {
		return 0
	}
	return w.handle.PID()
}

func (w *Wrapper) child() *target.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handle
}

func (w *Wrapper) noteRelaunch() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.relaunches++
	return w.relaunches
}
