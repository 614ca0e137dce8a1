// Package metrics exposes Prometheus collectors for engine process
// lifecycle events and resource usage. Helpers no-op until Register has
// been called, so library embedders who never wire Prometheus pay nothing.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	engineStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Number of successful engine process starts.",
		}, []string{"service"},
	)
	engineStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Number of engine process stops (graceful or kill).",
		}, []string{"service"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "spawn_failures_total",
			Help:      "Number of engine processes that could not be spawned.",
		}, []string{"service"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "forced_kills_total",
			Help:      "Number of engine stops that escalated to SIGKILL.",
		}, []string{"service"},
	)
	reconcileDrift = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "drift_total",
			Help:      "Number of services found dead by reconciliation while marked running.",
		}, []string{"service"},
	)
	spawnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "spawn_duration_seconds",
			Help:      "Time from spawn request to a registered live process.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	runningServices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "running",
			Help:      "Services currently marked running, by kind.",
		}, []string{"kind"},
	)
	serverUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rathole",
			Subsystem: "server",
			Name:      "up",
			Help:      "Whether the shared server process is alive (1) or not (0).",
		},
	)

	engineCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "cpu_percent",
			Help:      "CPU usage of the engine process serving each service.",
		}, []string{"service"},
	)
	engineMemoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the engine process serving each service.",
		}, []string{"service"},
	)
	engineThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rathole",
			Subsystem: "engine",
			Name:      "threads",
			Help:      "Thread count of the engine process serving each service.",
		}, []string{"service"},
	)
)

// Register registers all collectors with r. It is safe to call multiple
// times; calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		engineStarts, engineStops, spawnFailures, forcedKills, reconcileDrift,
		spawnDuration, runningServices, serverUp,
		engineCPUPercent, engineMemoryRSS, engineThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves Prometheus metrics for the DefaultGatherer. The caller
// wires the route and runs the HTTP server.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by lifecycle code. They no-op before Register.

func IncStart(service string) {
	if regOK.Load() {
		engineStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		engineStops.WithLabelValues(service).Inc()
	}
}

func IncSpawnFailure(service string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(service).Inc()
	}
}

func IncForcedKill(service string) {
	if regOK.Load() {
		forcedKills.WithLabelValues(service).Inc()
	}
}

func IncDrift(service string) {
	if regOK.Load() {
		reconcileDrift.WithLabelValues(service).Inc()
	}
}

func ObserveSpawnDuration(service string, seconds float64) {
	if regOK.Load() {
		spawnDuration.WithLabelValues(service).Observe(seconds)
	}
}

func SetRunning(kind string, n int) {
	if regOK.Load() {
		runningServices.WithLabelValues(kind).Set(float64(n))
	}
}

func SetServerUp(up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		serverUp.Set(v)
	}
}
