package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/history"
	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

// restart replaces a target instance: it honors the per-target rate limit
// by waiting out the remainder, stops whatever the pid file still points
// at, launches a fresh process and persists the new pid. The rate limit
// delays a restart, it never skips one.
func (m *Monitor) restart(ctx context.Context, spec target.Spec, reason string) error {
	if delay := m.restartDelay(spec); delay > 0 {
		m.logger.Info("Restart rate limit in effect, waiting",
			"target", spec.Name, "delay", delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	began := time.Now()

	rec := target.Record{Path: spec.PIDFile}
	if oldPID, err := rec.Read(); err == nil && oldPID > 0 {
		m.logger.Info("Stopping previous instance", "target", spec.Name, "pid", oldPID)
		if err := target.Terminate(oldPID, m.cfg.Term); err != nil {
			m.noteFailure(spec.Name)
			metrics.IncRestartFailure(spec.Name)
			return fmt.Errorf("stop previous instance pid %d: %w", oldPID, err)
		}
	}
	if err := rec.Remove(); err != nil {
		m.logger.Debug("Failed to remove stale PID file", "target", spec.Name, "error", err)
	}

	pid, err := m.launch(spec)
	if err != nil {
		m.noteFailure(spec.Name)
		metrics.IncRestartFailure(spec.Name)
		return err
	}

	var restarts int
	m.updatePolicy(spec.Name, func(pol *policyState) {
		pol.Restarts++
		pol.ConsecutiveFailures = 0
		pol.LastRestartAt = time.Now()
		pol.LastStartUnix = target.StartTimeUnix(pid)
		restarts = pol.Restarts
	})

	m.recorder.Record(history.Event{
		Type:     history.EventRestart,
		Target:   spec.Name,
		PID:      pid,
		Restarts: restarts,
		Detail:   reason,
	})
	metrics.IncRestart(spec.Name)
	metrics.ObserveRestartDuration(spec.Name, time.Since(began).Seconds())
	m.logger.Info("Target restarted", "target", spec.Name, "pid", pid, "restarts", restarts, "reason", reason)
	return nil
}

// launchInitial starts a target that is not yet running, outside the
// restart path: no rate limit applies and the restart counter stays
// untouched.
func (m *Monitor) launchInitial(spec target.Spec) error {
	m.logger.Info("Starting target", "target", spec.Name, "command", spec.Command)
	pid, err := m.launch(spec)
	if err != nil {
		m.noteFailure(spec.Name)
		return err
	}
	m.updatePolicy(spec.Name, func(pol *policyState) {
		pol.ConsecutiveFailures = 0
		pol.LastStartUnix = target.StartTimeUnix(pid)
	})
	m.recorder.Record(history.Event{Type: history.EventLaunch, Target: spec.Name, PID: pid})
	metrics.IncLaunch(spec.Name)
	m.logger.Info("Target started", "target", spec.Name, "pid", pid)
	return nil
}

// launch spawns the target, confirms it survives its start grace and
// persists the pid file. The pid of the live child is returned.
func (m *Monitor) launch(spec target.Spec) (int, error) {
	h, err := target.Launch(spec, m.environ.Merge(spec.Env))
	if err != nil {
		return 0, fmt.Errorf("launch %s: %w", spec.Name, err)
	}
	if err := h.EnsureUp(spec.StartGrace); err != nil {
		return 0, fmt.Errorf("launch %s: %w", spec.Name, err)
	}
	rec := target.Record{Path: spec.PIDFile}
	if err := rec.Write(h.PID()); err != nil {
		m.logger.Warn("Failed to persist PID file", "target", spec.Name, "path", spec.PIDFile, "error", err)
	}
	return h.PID(), nil
}

// restartDelay reports how long the rate limit still blocks a restart of
// the named target. Zero means the restart may proceed now. The window is
// measured from the last successful restart, so failed attempts do not
// push it out.
func (m *Monitor) restartDelay(spec target.Spec) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	pol, ok := m.policies[spec.Name]
	if !ok || pol.LastRestartAt.IsZero() {
		return 0
	}
	if elapsed := time.Since(pol.LastRestartAt); elapsed < spec.RestartMinInterval {
		return spec.RestartMinInterval - elapsed
	}
	return 0
}

func (m *Monitor) noteFailure(name string) {
	m.updatePolicy(name, func(pol *policyState) { pol.ConsecutiveFailures++ })
}

func (m *Monitor) updatePolicy(name string, fn func(*policyState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pol, ok := m.policies[name]; ok {
		fn(pol)
	}
}
