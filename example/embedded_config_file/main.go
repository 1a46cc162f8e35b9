package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	procmon "github.com/beta0629/stock-trading-system-sub001"
)

// This example loads a TOML config file and runs the supervision loop over
// its targets for a short while using the public procmon facade.
func main() {
	// Determine config path:
	// 1) An explicit path given on the command line wins.
	// 2) Otherwise prefer the example-local config (when running via
	//    `go run ./example/embedded_config_file` from the repo root).
	// 3) Fallback to ./config/procmon.toml when running from the example directory.
	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	} else {
		candidateLocal := filepath.Join("example", "embedded_config_file", "config", "procmon.toml")
		candidateRel := filepath.Join("config", "procmon.toml")
		if _, err := os.Stat(candidateLocal); err == nil {
			cfgPath = candidateLocal
		} else if _, err := os.Stat(candidateRel); err == nil {
			cfgPath = candidateRel
		} else {
			panic("could not locate procmon.toml: tried example/embedded_config_file/config/procmon.toml and ./config/procmon.toml")
		}
	}

	cfg, err := procmon.LoadConfig(cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	mon, err := procmon.NewMonitorWith(procmon.MonitorConfigFrom(cfg), cfg.Env)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to build monitor: %v\n", err)
		os.Exit(1)
	}

	// Run the loop long enough for a few ticks, then report what it saw.
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	time.Sleep(3 * time.Second)
	b, _ := json.MarshalIndent(mon.Status(), "", "  ")
	fmt.Println(string(b))

	cancel()
	runErr := <-done

	// Tear down whatever the run launched so the example leaves nothing behind.
	for name, pid := range mon.TargetPIDs() {
		fmt.Printf("stopping %s (pid %d)\n", name, pid)
		_ = procmon.Terminate(int(pid), procmon.TermOptions{})
	}

	if runErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "monitor exited with error: %v\n", runErr)
		os.Exit(2)
	}
}
