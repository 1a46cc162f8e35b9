package procmon

import (
	"context"
	"net/http"
	"strings"
	"time"

	cfg "github.com/beta0629/stock-trading-system-sub001/internal/config"
	"github.com/beta0629/stock-trading-system-sub001/internal/env"
	"github.com/beta0629/stock-trading-system-sub001/internal/history"
	"github.com/beta0629/stock-trading-system-sub001/internal/history/factory"
	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/monitor"
	"github.com/beta0629/stock-trading-system-sub001/internal/probe"
	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
	iapi "github.com/beta0629/stock-trading-system-sub001/internal/server"
	"github.com/beta0629/stock-trading-system-sub001/internal/service"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = target.Spec

type TermOptions = target.TermOptions

type MonitorConfig = monitor.Config

type WrapperConfig = service.Config

type TargetStatus = monitor.TargetStatus

type Thresholds = resources.Thresholds

type Snapshot = resources.Snapshot

type ProbeResult = probe.Result

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Monitor is a thin facade over internal/monitor.Monitor.
// It provides a stable public API for embedding the supervisor loop.

type Monitor struct{ inner *monitor.Monitor }

func NewMonitor(c MonitorConfig) (*Monitor, error) { return NewMonitorWith(c, nil) }

// NewMonitorWith attaches global environment overrides ("KEY=VALUE") and
// journal sinks to the supervisor before it starts.
func NewMonitorWith(c MonitorConfig, globalEnv []string, sinks ...HistorySink) (*Monitor, error) {
	var environ *env.Env
	if len(globalEnv) > 0 {
		environ = env.New()
		for _, kv := range globalEnv {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				environ.Set(k, v)
			}
		}
	}
	var rec *history.Recorder
	if len(sinks) > 0 {
		rec = history.NewRecorder(nil, sinks...)
	}
	inner, err := monitor.New(c, nil, environ, rec)
	if err != nil {
		return nil, err
	}
	return &Monitor{inner: inner}, nil
}

func (m *Monitor) Run(ctx context.Context) error { return m.inner.Run(ctx) }
func (m *Monitor) Status() []TargetStatus        { return m.inner.Status() }
func (m *Monitor) Resources() Snapshot           { return m.inner.Resources() }
func (m *Monitor) TargetPIDs() map[string]int32  { return m.inner.TargetPIDs() }

// Wrapper is a thin facade over internal/service.Wrapper, the outer
// keep-alive loop that relaunches its child command whenever it exits.

type Wrapper struct{ inner *service.Wrapper }

func NewWrapper(c WrapperConfig) (*Wrapper, error) {
	inner, err := service.New(c, nil, nil, nil, service.ProcessTreeLister{})
	if err != nil {
		return nil, err
	}
	return &Wrapper{inner: inner}, nil
}

func (w *Wrapper) Run(ctx context.Context) error { return w.inner.Run(ctx) }
func (w *Wrapper) Relaunches() int               { return w.inner.Relaunches() }
func (w *Wrapper) ChildPID() int                 { return w.inner.ChildPID() }

// Observe reports the live state of a target without side effects. The pid
// record is read but never rewritten.
func Observe(s Spec) ProbeResult { return probe.New(nil).Observe(s) }

// Discover resolves a target by scanning the process table only, ignoring
// any recorded PID.
func Discover(s Spec) ProbeResult { return probe.New(nil).Discover(s) }

// Terminate stops pid with SIGTERM, escalating to SIGKILL per opts.
func Terminate(pid int, opts TermOptions) error { return target.Terminate(pid, opts) }

func LoadConfig(path string) (*Config, error) {
	return cfg.LoadConfig(path)
}

// MonitorConfigFrom maps a loaded config file onto the supervisor's runtime
// configuration.
func MonitorConfigFrom(c *Config) MonitorConfig {
	return MonitorConfig{
		Interval:          c.Monitor.Interval,
		PIDDir:            c.Monitor.PIDDir,
		AutoRestart:       c.Monitor.AutoRestartEnabled(),
		StartPrimary:      c.Monitor.StartPrimary,
		MonitorAux:        c.Monitor.MonitorAux,
		RestartAuxOnStart: c.Monitor.RestartAuxOnStart,
		Primary:           c.Primary,
		Auxes:             c.Auxes,
		Thresholds:        c.Resources,
		Term:              c.Monitor.Term,
	}
}

// LoadEnv parses a KEY=VALUE env file into entries suitable for
// NewMonitorWith.
func LoadEnv(path string) ([]string, error) {
	return cfg.LoadEnvFile(path)
}

// NewHistorySink builds a journal sink from a DSN. Supported schemes are
// sqlite://, postgres://, clickhouse:// and opensearch://; a bare filesystem
// path means sqlite.
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// NewStatusServer starts the read-only status API for m on addr, mounted
// under basePath.
func NewStatusServer(addr, basePath string, m *Monitor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it
// runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
