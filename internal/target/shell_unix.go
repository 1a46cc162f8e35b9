//go:build !windows

package target

import "os/exec"

func shellPath() string { return "/bin/sh" }

// shellCommand wraps a script for the system shell. The absolute shell path
// avoids a PATH dependency when Env is overridden.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// trueCommand returns a command that always succeeds.
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
