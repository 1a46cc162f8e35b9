package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "supervisor",
			Name:      "ticks_total",
			Help:      "Number of completed monitoring ticks.",
		},
	)
	tickPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "supervisor",
			Name:      "tick_panics_total",
			Help:      "Number of monitoring ticks recovered from a panic.",
		},
	)
	gateHolds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "supervisor",
			Name:      "resource_gate_holds_total",
			Help:      "Number of ticks suspended because host resources ran short.",
		},
	)
	zombiesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "supervisor",
			Name:      "zombies_swept_total",
			Help:      "Number of zombie processes signaled by the reaper.",
		},
	)
	targetLaunches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "launches_total",
			Help:      "Number of initial target launches.",
		}, []string{"target"},
	)
	targetRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "restarts_total",
			Help:      "Number of successful target restarts.",
		}, []string{"target"},
	)
	restartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "restart_failures_total",
			Help:      "Number of failed restart attempts.",
		}, []string{"target"},
	)
	targetAdoptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "adoptions_total",
			Help:      "Number of running processes adopted by discovery.",
		}, []string{"target"},
	)
	targetHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "healthy",
			Help:      "Whether the target's process is currently healthy (1) or not (0).",
		}, []string{"target"},
	)
	restartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procmon",
			Subsystem: "target",
			Name:      "restart_duration_seconds",
			Help:      "Time from restart decision to confirmed replacement launch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"},
	)
	hostUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "procmon",
			Subsystem: "host",
			Name:      "usage_percent",
			Help:      "Host-wide usage sampled by the resource gate.",
		}, []string{"resource"},
	)
	wrapperRelaunches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procmon",
			Subsystem: "service",
			Name:      "relaunches_total",
			Help:      "Number of times the service wrapper relaunched its child.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		ticks, tickPanics, gateHolds, zombiesSwept,
		targetLaunches, targetRestarts, restartFailures, targetAdoptions,
		targetHealthy, restartDuration, hostUsage, wrapperRelaunches,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncTick() {
	if regOK.Load() {
		ticks.Inc()
	}
}

func IncTickPanic() {
	if regOK.Load() {
		tickPanics.Inc()
	}
}

func IncGateHold() {
	if regOK.Load() {
		gateHolds.Inc()
	}
}

func AddZombiesSwept(n int) {
	if regOK.Load() && n > 0 {
		zombiesSwept.Add(float64(n))
	}
}

func IncLaunch(target string) {
	if regOK.Load() {
		targetLaunches.WithLabelValues(target).Inc()
	}
}

func IncRestart(target string) {
	if regOK.Load() {
		targetRestarts.WithLabelValues(target).Inc()
	}
}

func IncRestartFailure(target string) {
	if regOK.Load() {
		restartFailures.WithLabelValues(target).Inc()
	}
}

func IncAdoption(target string) {
	if regOK.Load() {
		targetAdoptions.WithLabelValues(target).Inc()
	}
}

func SetTargetHealthy(target string, healthy bool) {
	if regOK.Load() {
		var v float64
		if healthy {
			v = 1
		}
		targetHealthy.WithLabelValues(target).Set(v)
	}
}

func ObserveRestartDuration(target string, seconds float64) {
	if regOK.Load() {
		restartDuration.WithLabelValues(target).Observe(seconds)
	}
}

func SetHostUsage(memory, cpu, disk float64) {
	if regOK.Load() {
		hostUsage.WithLabelValues("memory").Set(memory)
		hostUsage.WithLabelValues("cpu").Set(cpu)
		hostUsage.WithLabelValues("disk").Set(disk)
	}
}

func IncWrapperRelaunch() {
	if regOK.Load() {
		wrapperRelaunches.Inc()
	}
}
