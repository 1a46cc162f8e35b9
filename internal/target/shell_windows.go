//go:build windows

package target

import "os/exec"

func shellPath() string { return "cmd" }

// shellCommand wraps a script for the system shell.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// trueCommand returns a command that always succeeds.
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
