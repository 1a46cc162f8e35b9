package reaper

import (
	"log/slog"

	"github.com/shirou/gopsutil/v4/process"
)

// Reaper sweeps the process table for zombie processes and signals them with
// a forceful kill. A zombie is only released once its parent waits on it, so
// the sweep is best-effort hygiene rather than a guarantee; the count it
// returns is zombies acted upon, not zombies reaped.
type Reaper struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{logger: logger}
}

// Sweep scans all processes once and signals every zombie it sees. The
// count is zombies observed, whether or not their kill signal landed.
// Permission failures and processes that vanish mid-scan are logged and
// skipped, never propagated; a supervision tick must survive a dirty
// process table.
func (r *Reaper) Sweep() int {
	procs, err := process.Processes()
	if err != nil {
		r.logger.Debug("Process table unavailable for zombie sweep", "error", err)
		return 0
	}
	count := 0
	for _, proc := range procs {
		states, err := proc.Status()
		if err != nil || len(states) == 0 || states[0] != process.Zombie {
			continue
		}
		count++
		if err := proc.Kill(); err != nil {
			r.logger.Debug("Failed to signal zombie", "pid", proc.Pid, "error", err)
			continue
		}
		r.logger.Info("Signaled zombie process", "pid", proc.Pid)
	}
	return count
}
