package service

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

// Local helpers to avoid name collisions with other test files.
func requireUnixSvc(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func waitUntilSvc(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func fastWrapperCfg(child target.Spec) Config {
	return Config{
		Child:        child,
		PollInterval: 50 * time.Millisecond,
		Term:         target.TermOptions{Poll: 20 * time.Millisecond, Wait: 400 * time.Millisecond, KillWait: 100 * time.Millisecond},
	}
}

func TestWrapperRelaunchesExitedChild(t *testing.T) {
	requireUnixSvc(t)
	dir := t.TempDir()
	child := target.Spec{
		Name:       "blip",
		Command:    "sleep 0.1",
		PIDFile:    filepath.Join(dir, "blip.pid"),
		StartGrace: 20 * time.Millisecond,
	}
	w, err := New(fastWrapperCfg(child), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if !waitUntilSvc(3*time.Second, 20*time.Millisecond, func() bool { return w.Relaunches() >= 2 }) {
		cancel()
		t.Fatalf("expected at least 2 relaunches, got %d", w.Relaunches())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Final cleanup discards the pid record.
	if _, err := os.Stat(child.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("pid record not removed at shutdown: %v", err)
	}
}

func TestWrapperStopsChildOnCancel(t *testing.T) {
	requireUnixSvc(t)
	dir := t.TempDir()
	child := target.Spec{
		Name:       "steady",
		Command:    "sleep 30",
		PIDFile:    filepath.Join(dir, "steady.pid"),
		StartGrace: 50 * time.Millisecond,
	}
	w, err := New(fastWrapperCfg(child), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if !waitUntilSvc(2*time.Second, 20*time.Millisecond, func() bool { return w.ChildPID() > 0 }) {
		cancel()
		t.Fatal("child never spawned")
	}
	pid := w.ChildPID()

	// The pid record points at the live child while the wrapper runs.
	if got, err := (target.Record{Path: child.PIDFile}).Read(); err != nil || got != pid {
		cancel()
		t.Fatalf("pid record: got %d err %v, want %d", got, err, pid)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.Exists(pid) {
		t.Fatalf("child %d survived wrapper shutdown", pid)
	}
}

func TestWrapperInitialSpawnFailureIsFatal(t *testing.T) {
	requireUnixSvc(t)
	child := target.Spec{
		Name:       "doomed",
		Command:    "sh -c 'exit 1'",
		StartGrace: 200 * time.Millisecond,
	}
	w, err := New(fastWrapperCfg(child), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error for a child that exits inside the start grace")
	}
}

func TestWrapperRejectsUnresolvableChild(t *testing.T) {
	child := target.Spec{Name: "ghost", Command: "definitely-not-a-real-binary-9471"}
	if _, err := New(fastWrapperCfg(child), nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for unresolvable child executable")
	}
}

func TestRelaunchDelayPacing(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ran  time.Duration
		want time.Duration
	}{
		{
			name: "default immediate",
			cfg:  Config{},
			ran:  time.Second,
			want: 0,
		},
		{
			name: "short run waits long",
			cfg:  Config{ShortRunThreshold: 10 * time.Second, ShortRunDelay: 30 * time.Second, RestartDelay: 5 * time.Second},
			ran:  2 * time.Second,
			want: 30 * time.Second,
		},
		{
			name: "long run waits short",
			cfg:  Config{ShortRunThreshold: 10 * time.Second, ShortRunDelay: 30 * time.Second, RestartDelay: 5 * time.Second},
			ran:  time.Minute,
			want: 5 * time.Second,
		},
		{
			name: "threshold unset ignores short delay",
			cfg:  Config{ShortRunDelay: 30 * time.Second},
			ran:  time.Millisecond,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Wrapper{cfg: tt.cfg}
			if got := w.relaunchDelay(tt.ran); got != tt.want {
				t.Fatalf("relaunchDelay(%v) = %v, want %v", tt.ran, got, tt.want)
			}
		})
	}
}

func TestProcessTreeListerFindsDescendants(t *testing.T) {
	requireUnixSvc(t)
	spec := target.Spec{Name: "tree", Command: "sh -c 'sleep 5 & sleep 6 & wait'"}
	h, err := target.Launch(spec, nil)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer func() {
		_ = target.Terminate(h.PID(), target.TermOptions{Poll: 20 * time.Millisecond, Wait: 400 * time.Millisecond, KillWait: 100 * time.Millisecond})
	}()

	lister := ProcessTreeLister{}
	var pids []int32
	ok := waitUntilSvc(2*time.Second, 50*time.Millisecond, func() bool {
		got, err := lister.Descendants(int32(h.PID()))
		if err != nil {
			return false
		}
		pids = got
		return len(got) >= 2
	})
	if !ok {
		t.Fatalf("expected at least 2 descendants, got %v", pids)
	}
	for _, pid := range pids {
		if pid == int32(h.PID()) {
			t.Fatal("descendants must not include the root")
		}
	}
}

func TestWrapperCleanupKillsDescendants(t *testing.T) {
	requireUnixSvc(t)
	child := target.Spec{
		Name:       "forked",
		Command:    "sh -c 'sleep 30 & sleep 31 & wait'",
		StartGrace: 50 * time.Millisecond,
	}
	cfg := fastWrapperCfg(child)
	cfg.KillDescendants = true
	w, err := New(cfg, nil, nil, nil, ProcessTreeLister{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if !waitUntilSvc(2*time.Second, 20*time.Millisecond, func() bool { return w.ChildPID() > 0 }) {
		cancel()
		t.Fatal("child never spawned")
	}
	pid := w.ChildPID()

	lister := ProcessTreeLister{}
	var descendants []int32
	waitUntilSvc(2*time.Second, 50*time.Millisecond, func() bool {
		got, err := lister.Descendants(int32(pid))
		if err != nil {
			return false
		}
		descendants = got
		return len(got) >= 2
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if target.Exists(pid) {
		t.Fatalf("child %d survived shutdown", pid)
	}
	for _, d := range descendants {
		if target.Exists(int(d)) {
			t.Fatalf("descendant %d survived shutdown", d)
		}
	}
}
