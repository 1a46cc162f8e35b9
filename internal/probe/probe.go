package probe

import (
	"log/slog"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

// Status classifies the outcome of a liveness probe.
type Status int

const (
	// NotFound means no process for the target could be resolved at all.
	NotFound Status = iota
	// FoundHealthy means a process was resolved and is running or sleeping.
	FoundHealthy
	// FoundUnhealthy means a process was resolved but is in a zombie or
	// otherwise unusable state and needs replacing.
	FoundUnhealthy
)

func (s Status) String() string {
	switch s {
	case FoundHealthy:
		return "healthy"
	case FoundUnhealthy:
		return "unhealthy"
	default:
		return "not-found"
	}
}

// Result is the outcome of a single probe: what was resolved, how, and a
// point-in-time health sample of the process. Samples are consumed
// immediately and never stored.
type Result struct {
	Status        Status
	PID           int
	State         string
	StartUnix     int64
	CPUPercent    float64
	MemoryPercent float64
	Adopted       bool
}

// Healthy reports whether the probe resolved a usable process.
func (r Result) Healthy() bool { return r.Status == FoundHealthy }

// Found reports whether any process was resolved, healthy or not.
func (r Result) Found() bool { return r.Status != NotFound }

// Prober resolves a target's live process. It prefers the recorded PID and
// falls back to scanning the OS process table for a command line containing
// the target's match string, which re-binds targets that outlived a previous
// supervisor run.
type Prober struct {
	logger    *slog.Logger
	selfPID   int32
	parentPID int32
}

func New(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		logger:    logger,
		selfPID:   int32(os.Getpid()),
		parentPID: int32(os.Getppid()),
	}
}

// Probe resolves and classifies the target's process. A PID found by
// scanning is adopted into the target's pid file so the restart path and
// later probes agree on identity; nothing is written when no process is
// found. expectStart, when non-zero, is the start time recorded at launch
// and rejects a recorded PID that the kernel has since reused.
func (p *Prober) Probe(spec target.Spec, expectStart int64) Result {
	return p.resolve(spec, expectStart, true)
}

// Observe is Probe without the adoption side effect, for read-only status
// reporting. It never rewrites the pid file.
func (p *Prober) Observe(spec target.Spec) Result {
	return p.resolve(spec, 0, false)
}

// Discover resolves the target by scanning the process table only, ignoring
// any recorded PID. It never writes the pid file.
func (p *Prober) Discover(spec target.Spec) Result {
	proc, ok := p.discover(spec.Match)
	if !ok {
		return Result{Status: NotFound}
	}
	return p.classify(proc, true)
}

func (p *Prober) resolve(spec target.Spec, expectStart int64, adopt bool) Result {
	rec := target.Record{Path: spec.PIDFile}
	if pid, err := rec.Read(); err == nil {
		if proc, ok := p.verify(pid, spec.Match, expectStart); ok {
			return p.classify(proc, false)
		}
		p.logger.Debug("Recorded PID is stale", "target", spec.Name, "pid", pid)
	}

	proc, ok := p.discover(spec.Match)
	if !ok {
		return Result{Status: NotFound}
	}
	res := p.classify(proc, true)
	if adopt {
		if err := rec.Write(res.PID); err != nil {
			p.logger.Warn("Failed to persist adopted PID", "target", spec.Name, "pid", res.PID, "error", err)
		} else {
			p.logger.Info("Adopted running process", "target", spec.Name, "pid", res.PID, "state", res.State)
		}
	}
	return res
}

// verify checks that the recorded PID still belongs to the target: the
// process must exist, its command line must contain the match string, and
// its start time must agree with the one recorded at launch.
func (p *Prober) verify(pid int, match string, expectStart int64) (*process.Process, bool) {
	if pid <= 0 {
		return nil, false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, false
	}
	if match != "" {
		cmdline, err := proc.Cmdline()
		if err != nil || !strings.Contains(cmdline, match) {
			return nil, false
		}
	}
	if expectStart > 0 {
		if started := target.StartTimeUnix(pid); started > 0 && started != expectStart {
			return nil, false
		}
	}
	return proc, true
}

// discover scans the process table for the first command line containing
// match. The supervisor's own process chain never counts as a target.
func (p *Prober) discover(match string) (*process.Process, bool) {
	if match == "" {
		return nil, false
	}
	procs, err := process.Processes()
	if err != nil {
		p.logger.Debug("Process table scan failed", "error", err)
		return nil, false
	}
	for _, proc := range procs {
		if proc.Pid == p.selfPID || proc.Pid == p.parentPID {
			continue
		}
		cmdline, err := proc.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, match) {
			return proc, true
		}
	}
	return nil, false
}

func (p *Prober) classify(proc *process.Process, adopted bool) Result {
	res := Result{PID: int(proc.Pid), Adopted: adopted}
	states, err := proc.Status()
	if err != nil || len(states) == 0 {
		// Vanished or unreadable between resolution and sampling.
		res.Status = FoundUnhealthy
		res.State = "unknown"
		return res
	}
	res.State = states[0]
	switch states[0] {
	case process.Running, process.Sleep:
		res.Status = FoundHealthy
	default:
		res.Status = FoundUnhealthy
	}
	res.StartUnix = target.StartTimeUnix(res.PID)
	if cpu, err := proc.CPUPercent(); err == nil {
		res.CPUPercent = cpu
	}
	if mem, err := proc.MemoryPercent(); err == nil {
		res.MemoryPercent = float64(mem)
	}
	return res
}
