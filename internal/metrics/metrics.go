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

	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful process spawns.",
		}, []string{"program"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of processes that could not be started.",
		}, []string{"program"},
	)
	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "completions_total",
			Help:      "Number of finished processes by result (success, exit_nonzero, failed).",
		}, []string{"program", "result"},
	)
	processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "duration_seconds",
			Help:      "Wall time from spawn to observed exit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"program"},
	)
	waitErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "wait_errors_total",
			Help:      "Number of failed non-blocking status checks.",
		},
	)
	outputReadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "process",
			Name:      "output_read_errors_total",
			Help:      "Number of processes whose output could not be read.",
		},
	)
	poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "procpool",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Number of processes currently tracked by the pool.",
		},
	)
	sweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "pool",
			Name:      "sweeps_total",
			Help:      "Number of poll loop sweeps.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{spawns, spawnFailures, completions, processDuration, waitErrors, outputReadErrors, poolSize, sweeps, processRSS, processThreads}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncSpawn(program string) {
	if regOK.Load() {
		spawns.WithLabelValues(program).Inc()
	}
}

func IncSpawnFailure(program string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(program).Inc()
	}
}

// ObserveCompletion records the outcome and duration of a finished process.
func ObserveCompletion(program string, exitCode int, failed bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	completions.WithLabelValues(program, Result(exitCode, failed)).Inc()
	if !failed {
		processDuration.WithLabelValues(program).Observe(seconds)
	}
}

// Result maps an outcome onto the completions_total result label.
func Result(exitCode int, failed bool) string {
	switch {
	case failed:
		return "failed"
	case exitCode == 0:
		return "success"
	default:
		return "exit_nonzero"
	}
}

func IncWaitError() {
	if regOK.Load() {
		waitErrors.Inc()
	}
}

func IncOutputReadError() {
	if regOK.Load() {
		outputReadErrors.Inc()
	}
}

func SetPoolSize(n int) {
	if regOK.Load() {
		poolSize.Set(float64(n))
	}
}

func IncSweep() {
	if regOK.Load() {
		sweeps.Inc()
	}
}
