package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string // Only config path for CLI commands
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	monitorFlags := &MonitorFlags{}
	serviceFlags := &ServiceFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}

	root := createRootCommand(globalFlags)

	root.AddCommand(
		createMonitorCommand(globalFlags, monitorFlags),
		createServiceCommand(globalFlags, serviceFlags),
		createStatusCommand(globalFlags, statusFlags),
		createStopCommand(globalFlags, stopFlags),
	)

	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "procmon",
		Short: "Self-healing supervisor for the trading system workers",
		Long: `Procmon keeps the analysis worker and its API server alive: it probes
their recorded PIDs, adopts processes that outlived a previous run,
reaps zombies and restarts anything unhealthy under rate limits.

Examples:
  procmon monitor --start                # supervise, launch the worker now
  procmon service                        # outer wrapper, keeps the monitor alive
  procmon status                         # one-shot probe of configured targets
  procmon stop --all                     # terminate everything this config owns`,
	}

	// Only essential flags for CLI commands
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createMonitorCommand creates the monitor subcommand (the supervisor core)
func createMonitorCommand(globalFlags *GlobalFlags, monitorFlags *MonitorFlags) *cobra.Command {
	var intervalSec int

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the supervision loop",
		Long: `Run the supervision loop in the foreground: probe the primary worker
(and optionally the API server), reap zombies, gate on host resources
and restart unhealthy targets under rate limits.

Examples:
  procmon monitor --start                          # launch the worker immediately
  procmon monitor --script="python main.py" -i 30  # custom worker, 30s ticks
  procmon monitor --api-server --restart-api       # include the API server
  procmon monitor --no-restart                     # observe only, never restart
  procmon monitor --daemonize --pidfile=/run/procmon.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorFlags.ConfigPath = globalFlags.ConfigPath
			if cmd.Flag("interval").Changed {
				monitorFlags.Interval = time.Duration(intervalSec) * time.Second
			}
			return runMonitor(*monitorFlags)
		},
	}

	cmd.Flags().StringVarP(&monitorFlags.Script, "script", "s", "", "primary worker command (overrides config)")
	cmd.Flags().IntVarP(&intervalSec, "interval", "i", 60, "monitoring interval in seconds")
	cmd.Flags().BoolVarP(&monitorFlags.NoRestart, "no-restart", "n", false, "observe and report only, never restart")
	cmd.Flags().BoolVarP(&monitorFlags.StartNow, "start", "r", false, "launch the primary worker at startup when absent")
	cmd.Flags().BoolVarP(&monitorFlags.APIServer, "api-server", "a", false, "also supervise the API server target")
	cmd.Flags().BoolVar(&monitorFlags.RestartAPI, "restart-api", false, "force-restart the API server once at startup")
	cmd.Flags().StringVar(&monitorFlags.Listen, "listen", "", "serve read-only status HTTP on this address")
	cmd.Flags().BoolVar(&monitorFlags.Daemonize, "daemonize", false, "run in the background as a daemon")
	cmd.Flags().StringVar(&monitorFlags.PIDFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&monitorFlags.LogFile, "logfile", "", "redirect daemon output to this file")

	return cmd
}

// createServiceCommand creates the service subcommand (the outer wrapper)
func createServiceCommand(globalFlags *GlobalFlags, serviceFlags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run the outer service wrapper",
		Long: `Run the outer wrapper that owns exactly one child and relaunches it
whenever it exits. By default the child is the supervision loop
re-executed from this binary; --direct supervises the worker itself.

Examples:
  procmon service                        # wrapper -> monitor -> workers
  procmon service --direct               # wrapper -> worker, no inner monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceFlags.ConfigPath = globalFlags.ConfigPath
			return runService(*serviceFlags)
		},
	}

	cmd.Flags().BoolVarP(&serviceFlags.Direct, "direct", "d", false, "supervise the worker directly, bypassing the monitor loop")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe configured targets once and print their state",
		Long: `Probe each configured target once, without adopting or restarting
anything, and print the result as JSON.

Examples:
  procmon status                         # recorded PIDs first, then discovery
  procmon status --system                # process-table scan only
  procmon status --server http://127.0.0.1:8787   # ask a running monitor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlags.ConfigPath = globalFlags.ConfigPath
			return runStatus(*statusFlags)
		},
	}

	cmd.Flags().BoolVar(&statusFlags.System, "system", false, "ignore pid files and scan the process table")
	cmd.Flags().StringVar(&statusFlags.Server, "server", "", "query a running monitor's status API at this base URL")
	cmd.Flags().BoolVar(&statusFlags.Insecure, "insecure", false, "skip TLS verification when querying --server")

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(globalFlags *GlobalFlags, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate supervised targets",
		Long: `Terminate targets recorded in pid files using the two-phase
terminator: SIGTERM to the process group, then SIGKILL after the
graceful wait. Stopping an already-dead target succeeds.

Examples:
  procmon stop --name=main               # stop the primary worker
  procmon stop --all --wait=5s           # stop everything, custom grace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stopFlags.ConfigPath = globalFlags.ConfigPath
			if cmd.Flag("wait").Changed {
				stopFlags.Wait, _ = cmd.Flags().GetDuration("wait")
			}
			return runStop(*stopFlags)
		},
	}

	cmd.Flags().StringSliceVar(&stopFlags.Names, "name", nil, "target name to stop (repeatable)")
	cmd.Flags().BoolVar(&stopFlags.All, "all", false, "stop every configured target")
	cmd.Flags().Duration("wait", 0, "graceful wait before the forceful kill")

	return cmd
}
