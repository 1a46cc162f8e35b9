package target

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnixSpec(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
}

// Ensure that when the command string already includes an explicit
// shell invocation (e.g., "sh -c 'echo hi'"), we do not double-wrap
// it with another "/bin/sh -c" layer.
func TestBuildCommand_ExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if cmd.Args[1] != "-c" {
		t.Fatalf("expected -c as second arg, got %#v", cmd.Args)
	}
	if strings.HasPrefix(cmd.Args[2], "sh -c ") || strings.HasPrefix(cmd.Args[2], "/bin/sh -c ") {
		t.Fatalf("command was double-wrapped: %q", cmd.Args[2])
	}
}

// When metacharacters are present and no explicit shell prefix is given,
// the command must run through /bin/sh -c.
func TestBuildCommand_MetacharTriggersShell(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", cmd.Args)
	}
}

func TestBuildCommand_EmptyCommand(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "empty", Command: ""}
	cmd := s.BuildCommand()
	if cmd.Path != "/bin/true" {
		t.Errorf("expected /bin/true for empty command, got %q", cmd.Path)
	}
}

func TestBuildCommand_SimpleCommand(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "simple", Command: "ls -la"}
	cmd := s.BuildCommand()
	if !(cmd.Path == "ls" || strings.HasSuffix(cmd.Path, "/ls")) {
		t.Errorf("expected ls or a path ending with /ls, got %q", cmd.Path)
	}
	expected := []string{"ls", "-la"}
	if len(cmd.Args) != len(expected) {
		t.Errorf("expected args %v, got %v", expected, cmd.Args)
	}
}

func TestParseExplicitShell(t *testing.T) {
	tests := []struct {
		name           string
		cmdStr         string
		expectedShell  string
		expectedAfter  string
		expectedResult bool
	}{
		{
			name:           "sh -c with single quotes",
			cmdStr:         "sh -c 'echo hello'",
			expectedShell:  "sh",
			expectedAfter:  "echo hello",
			expectedResult: true,
		},
		{
			name:           "sh -c with double quotes",
			cmdStr:         `sh -c "echo hello"`,
			expectedShell:  "sh",
			expectedAfter:  "echo hello",
			expectedResult: true,
		},
		{
			name:           "/bin/sh -c",
			cmdStr:         "/bin/sh -c 'echo hello'",
			expectedShell:  "/bin/sh",
			expectedAfter:  "echo hello",
			expectedResult: true,
		},
		{
			name:           "no quotes",
			cmdStr:         "sh -c echo hello",
			expectedShell:  "sh",
			expectedAfter:  "echo hello",
			expectedResult: true,
		},
		{
			name:           "not shell command",
			cmdStr:         "python main.py",
			expectedShell:  "",
			expectedAfter:  "",
			expectedResult: false,
		},
		{
			name:           "whitespace prefix",
			cmdStr:         "  \tsh -c 'echo hello'",
			expectedShell:  "sh",
			expectedAfter:  "echo hello",
			expectedResult: true,
		},
		{
			name:           "bash is not matched",
			cmdStr:         "bash -c 'echo hello'",
			expectedShell:  "",
			expectedAfter:  "",
			expectedResult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shell, after, result := parseExplicitShell(tt.cmdStr)
			if result != tt.expectedResult {
				t.Errorf("expected result %v, got %v", tt.expectedResult, result)
			}
			if shell != tt.expectedShell {
				t.Errorf("expected shell %q, got %q", tt.expectedShell, shell)
			}
			if after != tt.expectedAfter {
				t.Errorf("expected after %q, got %q", tt.expectedAfter, after)
			}
		})
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		spec        Spec
		expectErr   bool
		errContains string
	}{
		{
			name:      "valid spec",
			spec:      Spec{Name: "worker", Command: "sleep 1"},
			expectErr: false,
		},
		{
			name:        "empty name",
			spec:        Spec{Name: "", Command: "sleep 1"},
			expectErr:   true,
			errContains: "requires a name",
		},
		{
			name:        "whitespace only name",
			spec:        Spec{Name: "   ", Command: "sleep 1"},
			expectErr:   true,
			errContains: "requires a name",
		},
		{
			name:        "name with spaces",
			spec:        Spec{Name: "my worker", Command: "sleep 1"},
			expectErr:   true,
			errContains: "whitespace or path separators",
		},
		{
			name:        "name with path separator",
			spec:        Spec{Name: "a/b", Command: "sleep 1"},
			expectErr:   true,
			errContains: "whitespace or path separators",
		},
		{
			name:        "empty command",
			spec:        Spec{Name: "worker", Command: ""},
			expectErr:   true,
			errContains: "requires a command",
		},
		{
			name:        "whitespace only command",
			spec:        Spec{Name: "worker", Command: "   "},
			expectErr:   true,
			errContains: "requires a command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error to contain %q, got %v", tt.errContains, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSpec_NormalizeDefaults(t *testing.T) {
	s := Spec{Name: "main", Command: "python main.py"}
	s.Normalize("/var/run/procmon")

	if want := filepath.Join("/var/run/procmon", "main.pid"); s.PIDFile != want {
		t.Errorf("PIDFile: got %q, want %q", s.PIDFile, want)
	}
	if s.Match != "python main.py" {
		t.Errorf("Match: got %q, want command", s.Match)
	}
	if s.StartGrace != DefaultStartGrace {
		t.Errorf("StartGrace: got %v, want %v", s.StartGrace, DefaultStartGrace)
	}
	if s.RestartMinInterval != DefaultRestartMinInterval {
		t.Errorf("RestartMinInterval: got %v, want %v", s.RestartMinInterval, DefaultRestartMinInterval)
	}
}

func TestSpec_NormalizeKeepsExplicit(t *testing.T) {
	s := Spec{
		Name:               "api",
		Command:            "python api_server.py",
		PIDFile:            "/custom/api.pid",
		Match:              "api_server",
		StartGrace:         5 * time.Second,
		RestartMinInterval: 30 * time.Second,
	}
	s.Normalize("/var/run/procmon")

	if s.PIDFile != "/custom/api.pid" {
		t.Errorf("PIDFile overwritten: %q", s.PIDFile)
	}
	if s.Match != "api_server" {
		t.Errorf("Match overwritten: %q", s.Match)
	}
	if s.StartGrace != 5*time.Second || s.RestartMinInterval != 30*time.Second {
		t.Errorf("durations overwritten: grace=%v interval=%v", s.StartGrace, s.RestartMinInterval)
	}
}

func TestSpec_CheckRunnable(t *testing.T) {
	requireUnixSpec(t)

	ok := Spec{Name: "ok", Command: "sleep 1"}
	if err := ok.CheckRunnable(); err != nil {
		t.Fatalf("sleep should resolve: %v", err)
	}

	abs := Spec{Name: "abs", Command: "/bin/sh -c 'sleep 1'"}
	if err := abs.CheckRunnable(); err != nil {
		t.Fatalf("explicit shell should resolve: %v", err)
	}

	piped := Spec{Name: "piped", Command: "echo hi | wc -c"}
	if err := piped.CheckRunnable(); err != nil {
		t.Fatalf("shell-wrapped command checks the shell itself: %v", err)
	}

	missing := Spec{Name: "missing", Command: "definitely-not-a-real-binary-43126 --flag"}
	if err := missing.CheckRunnable(); err == nil {
		t.Fatal("expected error for unresolvable executable")
	}

	badPath := Spec{Name: "badpath", Command: "/no/such/dir/worker"}
	if err := badPath.CheckRunnable(); err == nil {
		t.Fatal("expected error for missing absolute path")
	}
}
