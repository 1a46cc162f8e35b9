package target

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/logger"
)

// Defaults applied by Normalize when the corresponding field is zero.
const (
	// DefaultStartGrace is how long a freshly launched process must stay
	// alive before the launch counts as successful.
	DefaultStartGrace = 2 * time.Second
	// DefaultRestartMinInterval is the minimum spacing between two
	// restarts of the same target.
	DefaultRestartMinInterval = 60 * time.Second
)

// Spec describes one managed target: an opaque executable identified by a
// command string, with the pid record and restart policy that bind its
// identity across supervisor runs.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // command to start the process (shell-aware)
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // optional extra env
	// PIDFile is the durable pid record path; Normalize derives
	// <piddir>/<name>.pid when empty.
	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
	// Match is the command-line substring used to rediscover a running
	// instance when the pid record is stale; defaults to Command.
	Match string `json:"match" mapstructure:"match"`
	// StartGrace is the liveness window a fresh launch must survive.
	StartGrace time.Duration `json:"start_grace" mapstructure:"start_grace"`
	// RestartMinInterval rate-limits restarts: a second restart demanded
	// inside the interval waits out the remainder, it is never dropped.
	RestartMinInterval time.Duration `json:"restart_min_interval" mapstructure:"restart_min_interval"`
	// Log configures the rotated files capturing the process stdout/stderr.
	Log logger.Config `json:"log" mapstructure:"log"`
}

// Validate reports fatal configuration errors. It does not touch the host;
// CheckRunnable does the executable lookup.
func (s *Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("target requires a name")
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return fmt.Errorf("target name %q contains whitespace or path separators", name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("target %s requires a command", name)
	}
	return nil
}

// Normalize fills derived defaults: the pid record path under pidDir, the
// rediscovery match string, the start grace and the restart interval.
func (s *Spec) Normalize(pidDir string) {
	if s.PIDFile == "" {
		s.PIDFile = filepath.Join(pidDir, s.Name+".pid")
	}
	if s.Match == "" {
		s.Match = strings.TrimSpace(s.Command)
	}
	if s.StartGrace == 0 {
		s.StartGrace = DefaultStartGrace
	}
	if s.RestartMinInterval == 0 {
		s.RestartMinInterval = DefaultRestartMinInterval
	}
}

// CheckRunnable verifies the command's executable resolves on this host.
// A missing executable is a fatal configuration error: the supervisor must
// refuse to start instead of spinning on doomed launches. Commands that
// need a shell are checked against the shell itself.
func (s *Spec) CheckRunnable() error {
	argv0 := s.executable()
	if argv0 == "" {
		return fmt.Errorf("target %s: empty command", s.Name)
	}
	if strings.ContainsRune(argv0, os.PathSeparator) {
		if _, err := os.Stat(argv0); err != nil {
			return fmt.Errorf("target %s: executable %s: %w", s.Name, argv0, err)
		}
		return nil
	}
	if _, err := exec.LookPath(argv0); err != nil {
		return fmt.Errorf("target %s: executable %q not found in PATH: %w", s.Name, argv0, err)
	}
	return nil
}

// executable returns the program BuildCommand will exec: the shell for
// shell-wrapped commands, argv[0] otherwise.
func (s *Spec) executable() string {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return ""
	}
	if _, _, ok := parseExplicitShell(cmdStr); ok {
		return shellPath()
	}
	if strings.ContainsAny(cmdStr, shellMetaChars) {
		return shellPath()
	}
	return strings.Fields(cmdStr)[0]
}

const shellMetaChars = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for the spec's Command.
// It avoids invoking a shell when not necessary, and it also respects an
// explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(afterC)
	}
	// Fallback: when metacharacters are present, run through the shell.
	if strings.ContainsAny(cmdStr, shellMetaChars) {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
