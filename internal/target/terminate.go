package target

import (
	"fmt"
	"time"
)

// Two-phase termination defaults: graceful signal, bounded poll, forceful
// kill, one final wait.
const (
	DefaultTermPoll = time.Second
	DefaultTermWait = 5 * time.Second
	DefaultKillWait = time.Second
)

// TermOptions tunes the two-phase terminator. The supervisor core uses the
// defaults; the outer service wrapper polls on a tighter cadence.
type TermOptions struct {
	// Poll is the spacing between liveness checks after the graceful signal.
	Poll time.Duration `json:"poll" mapstructure:"poll"`
	// Wait bounds the total graceful phase before escalating.
	Wait time.Duration `json:"wait" mapstructure:"wait"`
	// KillWait is the single wait after the forceful kill before the final check.
	KillWait time.Duration `json:"kill_wait" mapstructure:"kill_wait"`
}

func (o TermOptions) withDefaults() TermOptions {
	if o.Poll <= 0 {
		o.Poll = DefaultTermPoll
	}
	if o.Wait <= 0 {
		o.Wait = DefaultTermWait
	}
	if o.KillWait <= 0 {
		o.KillWait = DefaultKillWait
	}
	return o
}

// Terminate stops the process with pid: graceful signal first, escalation
// to a forceful kill when it is still alive after the bounded wait.
// Terminating a pid that does not exist succeeds immediately, with no side
// effects. Signals go to the process group when pid leads one, so children
// the target spawned go down with it.
func Terminate(pid int, opts TermOptions) error {
	if pid <= 0 || !Exists(pid) {
		return nil
	}
	o := opts.withDefaults()

	signalTerm(pid)
	deadline := time.Now().Add(o.Wait)
	for time.Now().Before(deadline) {
		time.Sleep(o.Poll)
		if !Exists(pid) {
			return nil
		}
	}

	signalKill(pid)
	time.Sleep(o.KillWait)
	if Exists(pid) {
		return fmt.Errorf("process %d still exists after forceful kill", pid)
	}
	return nil
}

// Kill delivers an immediate forceful kill with no graceful phase, for
// subtree sweeps where the parent already had its graceful window.
func Kill(pid int) {
	if pid <= 0 {
		return
	}
	signalKill(pid)
}
