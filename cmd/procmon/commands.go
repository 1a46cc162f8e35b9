package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beta0629/stock-trading-system-sub001/internal/config"
	"github.com/beta0629/stock-trading-system-sub001/internal/env"
	"github.com/beta0629/stock-trading-system-sub001/internal/history"
	"github.com/beta0629/stock-trading-system-sub001/internal/history/factory"
	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/monitor"
	"github.com/beta0629/stock-trading-system-sub001/internal/probe"
	"github.com/beta0629/stock-trading-system-sub001/internal/server"
	"github.com/beta0629/stock-trading-system-sub001/internal/service"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
	tlsutil "github.com/beta0629/stock-trading-system-sub001/internal/tls"
	"github.com/beta0629/stock-trading-system-sub001/pkg/client"
)

const defaultListen = "127.0.0.1:8787"

// runMonitor runs the supervision loop in the foreground until interrupted.
func runMonitor(f MonitorFlags) error {
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	applyMonitorFlags(cfg, f)

	if f.Daemonize {
		return daemonize(f.PIDFile, f.LogFile)
	}

	log, logCloser := cfg.Log.NewComponentLogger("procmon-monitor")
	defer func() { _ = logCloser.Close() }()

	recorder, closeSinks := buildRecorder(cfg, log)
	defer closeSinks()

	mon, err := monitor.New(monitorConfig(cfg), log, buildEnv(cfg), recorder)
	if err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("Failed to register metrics", "error", err)
	}
	collector := metrics.NewTargetMetricsCollector(metrics.TargetMetricsConfig{Enabled: true})
	if err := collector.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("Failed to register target metrics", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector.Start(ctx, mon.TargetPIDs)
	defer collector.Stop()

	if cfg.Server.Enabled || f.Listen != "" {
		listen := cfg.Server.Listen
		if f.Listen != "" {
			listen = f.Listen
		}
		if listen == "" {
			listen = defaultListen
		}
		tlsConf, err := tlsutil.Setup(cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("failed to set up status server tls: %w", err)
		}
		srv, err := server.NewServer(listen, cfg.Server.BasePath, mon, tlsConf)
		if err != nil {
			return fmt.Errorf("failed to create status server: %w", err)
		}
		if cfg.Server.ReadTimeout > 0 {
			srv.ReadTimeout = cfg.Server.ReadTimeout
		}
		if cfg.Server.WriteTimeout > 0 {
			srv.WriteTimeout = cfg.Server.WriteTimeout
		}
		defer func() { _ = srv.Close() }()
		log.Info("Status server listening", "addr", listen, "base_path", cfg.Server.BasePath, "tls", tlsConf != nil)
	}

	return mon.Run(ctx)
}

// applyMonitorFlags layers command-line overrides over the loaded config.
func applyMonitorFlags(cfg *config.Config, f MonitorFlags) {
	if f.Script != "" {
		cfg.Primary.Command = f.Script
		cfg.Primary.Match = ""
	}
	if f.Interval > 0 {
		cfg.Monitor.Interval = f.Interval
	}
	if f.NoRestart {
		off := false
		cfg.Monitor.AutoRestart = &off
	}
	if f.StartNow {
		cfg.Monitor.StartPrimary = true
	}
	if f.APIServer {
		cfg.Monitor.MonitorAux = true
	}
	if f.RestartAPI {
		cfg.Monitor.MonitorAux = true
		cfg.Monitor.RestartAuxOnStart = true
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Interval:          cfg.Monitor.Interval,
		PIDDir:            cfg.Monitor.PIDDir,
		AutoRestart:       cfg.Monitor.AutoRestartEnabled(),
		StartPrimary:      cfg.Monitor.StartPrimary,
		MonitorAux:        cfg.Monitor.MonitorAux,
		RestartAuxOnStart: cfg.Monitor.RestartAuxOnStart,
		Primary:           cfg.Primary,
		Auxes:             cfg.Auxes,
		Thresholds:        cfg.Resources,
		Term:              cfg.Monitor.Term,
	}
}

// runService runs the outer wrapper until interrupted.
func runService(f ServiceFlags) error {
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Direct {
		cfg.Service.Direct = true
	}

	log, logCloser := cfg.Log.NewComponentLogger("procmon-service")
	defer func() { _ = logCloser.Close() }()

	recorder, closeSinks := buildRecorder(cfg, log)
	defer closeSinks()

	child, err := serviceChild(cfg, f.ConfigPath)
	if err != nil {
		return err
	}
	child.Normalize(cfg.Monitor.PIDDir)

	w, err := service.New(service.Config{
		Direct:              cfg.Service.Direct,
		Child:               child,
		PollInterval:        cfg.Service.PollInterval,
		ResourceLogInterval: cfg.Service.ResourceLogInterval,
		ShortRunThreshold:   cfg.Service.ShortRunThreshold,
		ShortRunDelay:       cfg.Service.ShortRunDelay,
		RestartDelay:        cfg.Service.RestartDelay,
		KillDescendants:     cfg.Service.KillDescendantsEnabled(),
		CloudTimezone:       cfg.Service.CloudTimezone,
		Thresholds:          cfg.Resources,
	}, log, buildEnv(cfg), recorder, service.ProcessTreeLister{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// serviceChild picks the wrapper's single child: the worker itself in
// direct mode, otherwise this binary re-executed as `procmon monitor`.
func serviceChild(cfg *config.Config, configPath string) (target.Spec, error) {
	if cfg.Service.Direct {
		return cfg.Primary, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return target.Spec{}, fmt.Errorf("failed to resolve own executable: %w", err)
	}
	command := exe + " monitor"
	if configPath != "" {
		command += " --config " + configPath
	}
	return target.Spec{
		Name:    "procmon-monitor",
		Command: command,
		Match:   exe + " monitor",
		Log:     cfg.Log,
	}, nil
}

type statusRow struct {
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	Running       bool    `json:"running"`
	PID           int     `json:"pid,omitempty"`
	State         string  `json:"state,omitempty"`
	Adopted       bool    `json:"adopted,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// runStatus probes each configured target once and prints the results.
// It never adopts PIDs, restarts anything or touches pid files. With
// --server the rows come from a running monitor's status API instead of
// local probing.
func runStatus(f StatusFlags) error {
	if f.Server != "" {
		return runStatusRemote(f)
	}

	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	prober := probe.New(nil)
	rows := make([]statusRow, 0, 1+len(cfg.Auxes))
	rows = append(rows, statusTarget(prober, cfg.Primary, monitor.RolePrimary, cfg.Monitor.PIDDir, f.System))
	for _, aux := range cfg.Auxes {
		rows = append(rows, statusTarget(prober, aux, monitor.RoleAuxiliary, cfg.Monitor.PIDDir, f.System))
	}
	printJSON(rows)
	return nil
}

// runStatusRemote asks a running monitor for its own view of the targets.
func runStatusRemote(f StatusFlags) error {
	c := client.New(client.Config{BaseURL: f.Server, Insecure: f.Insecure})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("error querying %s: %w", f.Server, err)
	}
	printJSON(rows)
	return nil
}

func statusTarget(prober *probe.Prober, spec target.Spec, role, pidDir string, systemScan bool) statusRow {
	spec.Normalize(pidDir)
	var res probe.Result
	if systemScan {
		res = prober.Discover(spec)
	} else {
		res = prober.Observe(spec)
	}
	return statusRow{
		Name:          spec.Name,
		Role:          role,
		Running:       res.Healthy(),
		PID:           res.PID,
		State:         res.State,
		Adopted:       res.Adopted,
		CPUPercent:    res.CPUPercent,
		MemoryPercent: res.MemoryPercent,
	}
}

type stopRow struct {
	Name    string `json:"name"`
	Stopped bool   `json:"stopped"`
	PID     int    `json:"pid,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// runStop terminates the selected targets via their recorded PIDs.
// Targets without a live recorded PID count as already stopped.
func runStop(f StopFlags) error {
	if len(f.Names) == 0 && !f.All {
		return fmt.Errorf("one of --name or --all is required")
	}
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	specs, err := selectTargets(cfg, f.Names, f.All)
	if err != nil {
		return err
	}
	term := cfg.Monitor.Term
	if f.Wait > 0 {
		term.Wait = f.Wait
	}

	rows := make([]stopRow, 0, len(specs))
	for _, spec := range specs {
		spec.Normalize(cfg.Monitor.PIDDir)
		rec := target.Record{Path: spec.PIDFile}
		pid, err := rec.Read()
		if err != nil {
			rows = append(rows, stopRow{Name: spec.Name, Stopped: true, Detail: "no recorded pid"})
			continue
		}
		if err := target.Terminate(pid, term); err != nil {
			rows = append(rows, stopRow{Name: spec.Name, PID: pid, Detail: err.Error()})
			continue
		}
		_ = rec.Remove()
		rows = append(rows, stopRow{Name: spec.Name, Stopped: true, PID: pid})
	}
	printJSON(rows)
	return nil
}

func selectTargets(cfg *config.Config, names []string, all bool) ([]target.Spec, error) {
	everything := append([]target.Spec{cfg.Primary}, cfg.Auxes...)
	if all {
		return everything, nil
	}
	byName := make(map[string]target.Spec, len(everything))
	known := make([]string, 0, len(everything))
	for _, spec := range everything {
		byName[spec.Name] = spec
		known = append(known, spec.Name)
	}
	out := make([]target.Spec, 0, len(names))
	for _, name := range names {
		spec, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q (configured: %s)", name, strings.Join(known, ", "))
		}
		out = append(out, spec)
	}
	return out, nil
}

// buildEnv seeds the child environment composer with the config's global
// variables. The OS environment stays the base layer.
func buildEnv(cfg *config.Config) *env.Env {
	environ := env.New()
	for _, kv := range cfg.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			environ.Set(kv[:i], kv[i+1:])
		}
	}
	return environ
}

// buildRecorder assembles the event journal from the configured DSNs.
// A sink that fails to open is skipped; journaling never blocks startup.
func buildRecorder(cfg *config.Config, log *slog.Logger) (*history.Recorder, func()) {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.History.Enabled || len(cfg.History.DSNs) == 0 {
		return nil, func() {}
	}
	sinks := make([]history.Sink, 0, len(cfg.History.DSNs))
	for _, dsn := range cfg.History.DSNs {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			log.Warn("Skipping history sink", "dsn", dsn, "error", err)
			continue
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return nil, func() {}
	}
	rec := history.NewRecorder(log, sinks...)
	return rec, func() { _ = rec.Close() }
}
