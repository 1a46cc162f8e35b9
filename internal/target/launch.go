package target

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Handle owns one launched child process. A reaper goroutine waits on the
// child so it never lingers as a zombie; Done is closed once the child has
// been waited for. The handle is the exclusive owner of the process and of
// the log writers attached to it.
type Handle struct {
	name    string
	pid     int
	started time.Time
	done    chan struct{}
	waitErr error
	closers []io.Closer
}

// Launch starts the target's command with the merged environment, stdout
// and stderr redirected to the target's rotated log files, detached into
// its own process group so supervisor-level signals do not cascade into it.
// The returned handle tracks the child; launch errors close any writers
// already opened.
func Launch(spec Spec, mergedEnv []string) (*Handle, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	h := &Handle{name: spec.Name, done: make(chan struct{})}
	if spec.Log.File.Dir != "" || spec.Log.File.StdoutPath != "" || spec.Log.File.StderrPath != "" {
		if spec.Log.File.Dir != "" {
			_ = os.MkdirAll(spec.Log.File.Dir, 0o750)
		}
		outW, errW, err := spec.Log.ProcessWriters(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("open log writers for %s: %w", spec.Name, err)
		}
		if outW != nil {
			cmd.Stdout = outW
			h.closers = append(h.closers, outW)
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			cmd.Stderr = errW
			h.closers = append(h.closers, errW)
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, err
	}
	h.pid = cmd.Process.Pid
	h.started = time.Now()
	go func() {
		// Reap the child the moment it exits; an unreaped child would sit
		// in the process table as a zombie until the supervisor dies.
		h.waitErr = cmd.Wait()
		h.closeWriters()
		close(h.done)
	}()
	return h, nil
}

func (h *Handle) closeWriters() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the child was spawned.
func (h *Handle) StartedAt() time.Time { return h.started }

// Done is closed after the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has already exited, without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error once the child has exited; nil while it
// is still running or when it exited cleanly.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// EnsureUp confirms the child survives its start grace window. A child
// that exits inside the window makes the launch a failure; the exit error
// is wrapped so launch-site logs carry the cause.
func (h *Handle) EnsureUp(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultStartGrace
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-h.done:
		ran := time.Since(h.started).Round(time.Millisecond)
		if h.waitErr != nil {
			return fmt.Errorf("%s (pid %d) exited %v after launch: %w", h.name, h.pid, ran, h.waitErr)
		}
		return fmt.Errorf("%s (pid %d) exited %v after launch", h.name, h.pid, ran)
	case <-t.C:
		return nil
	}
}
