package monitor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

func requireUnixMon(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSpec builds a target around a sleep with a distinctive duration so
// process-table matches cannot collide across tests.
func testSpec(t *testing.T, dir, name, dur string) target.Spec {
	t.Helper()
	spec := target.Spec{
		Name:               name,
		Command:            "sleep " + dur,
		Match:              "sleep " + dur,
		PIDFile:            filepath.Join(dir, name+".pid"),
		StartGrace:         50 * time.Millisecond,
		RestartMinInterval: 50 * time.Millisecond,
	}
	t.Cleanup(func() {
		if pid, err := (target.Record{Path: spec.PIDFile}).Read(); err == nil {
			target.Kill(pid)
		}
	})
	return spec
}

// openGate admits every tick; thresholds no host can exceed.
func openGate() resources.Thresholds {
	return resources.Thresholds{
		MaxMemoryPercent: 200,
		MaxCPUPercent:    200,
		MaxDiskPercent:   200,
		CPUSampleWindow:  10 * time.Millisecond,
	}
}

// blockedGate trips on the first memory sample.
func blockedGate() resources.Thresholds {
	return resources.Thresholds{
		MaxMemoryPercent: 0.0001,
		MaxCPUPercent:    0.0001,
		MaxDiskPercent:   0.0001,
		CPUSampleWindow:  10 * time.Millisecond,
	}
}

func fastTermMon() target.TermOptions {
	return target.TermOptions{Poll: 20 * time.Millisecond, Wait: 400 * time.Millisecond, KillWait: 100 * time.Millisecond}
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	if cfg.Interval <= 0 {
		cfg.Interval = 40 * time.Millisecond
	}
	if (cfg.Thresholds == resources.Thresholds{}) {
		cfg.Thresholds = openGate()
	}
	if (cfg.Term == target.TermOptions{}) {
		cfg.Term = fastTermMon()
	}
	m, err := New(cfg, testLogger(), nil, nil)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	return m
}

// deadPID returns a pid that no longer exists: a short child that already
// exited and was reaped.
func deadPID(t *testing.T) int {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run short child: %v", err)
	}
	return cmd.Process.Pid
}

func TestTickReplacesStaleRecord(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "worker", "29.377")

	stale := deadPID(t)
	if err := (target.Record{Path: spec.PIDFile}).Write(stale); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec})
	sleepFor := m.tick(context.Background())
	if sleepFor != m.cfg.Interval {
		t.Fatalf("healthy tick should sleep one interval, got %v", sleepFor)
	}

	pid, err := (target.Record{Path: spec.PIDFile}).Read()
	if err != nil {
		t.Fatalf("pid file after tick: %v", err)
	}
	if pid == stale {
		t.Fatalf("stale pid %d survived the tick", stale)
	}
	if !target.Exists(pid) {
		t.Fatalf("replacement pid %d not alive", pid)
	}
	st := m.Status()[0]
	if st.Restarts != 1 {
		t.Fatalf("restarts = %d, want 1", st.Restarts)
	}
}

func TestRestartRateLimitDelaysButNeverDrops(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "paced", "28.113")
	spec.RestartMinInterval = 300 * time.Millisecond

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec})
	ctx := context.Background()

	if err := m.restart(ctx, m.cfg.Primary, "first"); err != nil {
		t.Fatalf("first restart: %v", err)
	}
	firstPID, _ := (target.Record{Path: spec.PIDFile}).Read()
	firstAt := time.Now()

	if err := m.restart(ctx, m.cfg.Primary, "second"); err != nil {
		t.Fatalf("second restart: %v", err)
	}
	elapsed := time.Since(firstAt)
	if elapsed < 250*time.Millisecond {
		t.Fatalf("second restart ran after %v, want the %v window honored", elapsed, spec.RestartMinInterval)
	}

	secondPID, err := (target.Record{Path: spec.PIDFile}).Read()
	if err != nil {
		t.Fatalf("pid file after second restart: %v", err)
	}
	if secondPID == firstPID {
		t.Fatalf("second restart kept pid %d", firstPID)
	}
	if !target.Exists(secondPID) {
		t.Fatalf("pid %d not alive after second restart", secondPID)
	}
	if st := m.Status()[0]; st.Restarts != 2 {
		t.Fatalf("restarts = %d, want 2 (rate limit must delay, not drop)", st.Restarts)
	}
}

func TestRestartRateLimitAbortsOnShutdown(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "abort", "27.519")
	spec.RestartMinInterval = 10 * time.Second

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec})

	if err := m.restart(context.Background(), m.cfg.Primary, "first"); err != nil {
		t.Fatalf("first restart: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	began := time.Now()
	err := m.restart(ctx, m.cfg.Primary, "second")
	if err == nil {
		t.Fatal("restart should abort when the context ends inside the wait")
	}
	if waited := time.Since(began); waited > 2*time.Second {
		t.Fatalf("abort took %v, should return promptly", waited)
	}
	if st := m.Status()[0]; st.Restarts != 1 {
		t.Fatalf("restarts = %d after aborted attempt, want 1", st.Restarts)
	}
}

func TestInsufficientResourcesSuspendsTick(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "gated", "26.731")

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec, Thresholds: blockedGate()})
	sleepFor := m.tick(context.Background())

	if want := 2 * m.cfg.Interval; sleepFor != want {
		t.Fatalf("starved tick sleeps %v, want doubled %v", sleepFor, want)
	}
	if _, err := (target.Record{Path: spec.PIDFile}).Read(); err == nil {
		t.Fatal("starved tick must not launch anything")
	}
	if st := m.Status()[0]; st.Restarts != 0 {
		t.Fatalf("restarts = %d during resource hold, want 0", st.Restarts)
	}
}

func TestNoRestartModeObservesOnly(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "watchonly", "25.907")

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: false, Primary: spec})
	m.supervise(context.Background(), m.cfg.Primary)

	if _, err := (target.Record{Path: spec.PIDFile}).Read(); err == nil {
		t.Fatal("observe-only mode launched a process")
	}
	st := m.Status()[0]
	if st.Restarts != 0 || st.Healthy {
		t.Fatalf("status = %+v, want down and untouched", st)
	}
}

func TestSuperviseAdoptsExternalProcess(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "orphan", "24.683")

	// A process this monitor never launched, as if it outlived a previous
	// supervisor run.
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", spec.Command)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start external process: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	time.Sleep(20 * time.Millisecond)

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec})
	m.supervise(context.Background(), m.cfg.Primary)

	st := m.Status()[0]
	if !st.Healthy || !st.Adopted {
		t.Fatalf("status = %+v, want healthy adopted", st)
	}
	if st.Restarts != 0 {
		t.Fatalf("adoption bumped restarts to %d", st.Restarts)
	}
	pid, err := (target.Record{Path: spec.PIDFile}).Read()
	if err != nil || pid != cmd.Process.Pid {
		t.Fatalf("adopted pid not persisted: pid=%d err=%v", pid, err)
	}
}

func TestStartupLaunchesPrimaryWhenAbsent(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "boot", "23.457")

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, StartPrimary: true, Primary: spec})
	m.startup(context.Background())

	pid, err := (target.Record{Path: spec.PIDFile}).Read()
	if err != nil {
		t.Fatalf("primary not launched at startup: %v", err)
	}
	if !target.Exists(pid) {
		t.Fatalf("pid %d not alive after startup", pid)
	}
	// An immediate start is a launch, not a restart.
	if st := m.Status()[0]; st.Restarts != 0 {
		t.Fatalf("restarts = %d after startup launch, want 0", st.Restarts)
	}
}

func TestStartupSkipsRunningPrimary(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "already", "22.839")

	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", spec.Command)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start process: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	time.Sleep(20 * time.Millisecond)
	if err := (target.Record{Path: spec.PIDFile}).Write(cmd.Process.Pid); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, StartPrimary: true, Primary: spec})
	m.startup(context.Background())

	pid, err := (target.Record{Path: spec.PIDFile}).Read()
	if err != nil || pid != cmd.Process.Pid {
		t.Fatalf("running primary should keep its pid: pid=%d err=%v", pid, err)
	}
	if st := m.Status()[0]; st.Restarts != 0 {
		t.Fatalf("restarts = %d, want 0", st.Restarts)
	}
}

func TestStartupForcesAuxRestart(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	primary := testSpec(t, dir, "prim", "21.523")
	aux := testSpec(t, dir, "api", "20.147")

	m := newTestMonitor(t, Config{
		PIDDir:            dir,
		AutoRestart:       true,
		MonitorAux:        true,
		RestartAuxOnStart: true,
		Primary:           primary,
		Auxes:             []target.Spec{aux},
	})
	m.startup(context.Background())

	sts := m.Status()
	if len(sts) != 2 {
		t.Fatalf("status rows = %d, want 2", len(sts))
	}
	if sts[1].Name != aux.Name || sts[1].Restarts != 1 {
		t.Fatalf("aux status = %+v, want one forced restart", sts[1])
	}
	pid, err := (target.Record{Path: aux.PIDFile}).Read()
	if err != nil || !target.Exists(pid) {
		t.Fatalf("aux not running after forced restart: pid=%d err=%v", pid, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "loop", "19.753")

	m := newTestMonitor(t, Config{Interval: 30 * time.Millisecond, PIDDir: dir, AutoRestart: false, Primary: spec})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = m.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if runErr != nil {
		t.Fatalf("Run returned %v, want nil on clean stop", runErr)
	}
}

func TestTickRecoversFromPanic(t *testing.T) {
	requireUnixMon(t)
	dir := t.TempDir()
	spec := testSpec(t, dir, "panics", "18.311")

	m := newTestMonitor(t, Config{PIDDir: dir, AutoRestart: true, Primary: spec})
	// A nil gate makes the tick panic on the resource check.
	m.gate = nil

	sleepFor := m.tick(context.Background())
	if sleepFor != m.cfg.Interval {
		t.Fatalf("recovered tick should sleep one interval, got %v", sleepFor)
	}
}
