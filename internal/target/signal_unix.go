//go:build !windows

package target

import (
	"errors"
	"syscall"
)

// Exists reports whether pid is present in the OS process table.
// Permission errors count as present: the process is there, we just may
// not signal it.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// signalGroup delivers sig to the process group led by pid, falling back
// to the single process when pid leads no group of its own (adopted
// processes usually do not).
func signalGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}

func signalTerm(pid int) { signalGroup(pid, syscall.SIGTERM) }

func signalKill(pid int) { signalGroup(pid, syscall.SIGKILL) }
