//go:build !windows

package target

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so that
// termination signals reach the whole shell pipeline, not just the leader.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
