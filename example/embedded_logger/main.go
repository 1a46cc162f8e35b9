package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	procmon "github.com/beta0629/stock-trading-system-sub001"
)

// embedded_logger: demonstrate per-target log capture. The monitor launches a
// short command that writes to stdout and stderr, then the example shows
// where the output landed.
func main() {
	// Determine log directory: use PROCMON_LOG_DIR if set, otherwise a temp directory.
	logDir := os.Getenv("PROCMON_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), fmt.Sprintf("procmon-logs-%d", time.Now().UnixNano()))
	}
	_ = os.MkdirAll(logDir, 0o750)

	spec := procmon.Spec{
		Name:    "logger-demo",
		Command: "echo hello-out; echo hello-err 1>&2; sleep 0.2",
	}
	spec.Log.File.Dir = logDir

	mon, err := procmon.NewMonitor(procmon.MonitorConfig{
		Interval:     300 * time.Millisecond,
		PIDDir:       logDir,
		StartPrimary: true,
		AutoRestart:  false,
		Primary:      spec,
		Thresholds:   procmon.Thresholds{CPUSampleWindow: 50 * time.Millisecond},
	})
	if err != nil {
		panic(err)
	}

	// One launch tick plus time for the command to write and exit.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mon.Run(ctx); err != nil {
		panic(err)
	}

	stdoutPath := filepath.Join(logDir, "logger-demo.stdout.log")
	stderrPath := filepath.Join(logDir, "logger-demo.stderr.log")

	fmt.Println("Embedded logger example")
	fmt.Println("  Log directory:", logDir)
	fmt.Println("  Stdout log:", stdoutPath)
	fmt.Println("  Stderr log:", stderrPath)
	if b, err := os.ReadFile(stdoutPath); err == nil {
		fmt.Printf("  Captured stdout: %s", b)
	}
	fmt.Println("Tip: set PROCMON_LOG_DIR to choose a custom log directory.")
}
