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

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker launches.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "launch_failures_total",
			Help:      "Number of failed worker launches by reason.",
		}, []string{"name", "reason"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker terminations (graceful or forced).",
		}, []string{"name", "mode"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of restart requests.",
		}, []string{"name"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Number of disconnect requests by outcome.",
		}, []string{"name", "outcome"},
	)
	purgeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "session",
			Name:      "auth_purge_attempts_total",
			Help:      "Number of auth cache removal attempts, including retries.",
		}, []string{"name"},
	)
	purgeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botvisor",
			Subsystem: "session",
			Name:      "auth_purge_failures_total",
			Help:      "Number of auth cache purges that needed manual intervention.",
		}, []string{"name"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "stop_duration_seconds",
			Help:      "Time from the first termination signal until the worker tree is gone.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	currentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "status",
			Help:      "Last reconciled status (1 = current status, 0 = otherwise).",
		}, []string{"name", "status"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "worker",
			Name:      "running",
			Help:      "Whether the worker was alive at the last status query.",
		}, []string{"name"},
	)
)

// Statuses is the label set used by SetStatus so that every status series
// is present and exactly one of them is 1.
var Statuses = []string{"disconnected", "qr_pending", "connected"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, launchFailures, workerStops, workerRestarts, disconnects, purgeAttempts, purgeFailures, stopDuration, currentStatus, running}
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

func IncStart(name string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(name).Inc()
	}
}
func IncLaunchFailure(name, reason string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name, reason).Inc()
	}
}
func IncStop(name string, forced bool) {
	if regOK.Load() {
		mode := "graceful"
		if forced {
			mode = "forced"
		}
		workerStops.WithLabelValues(name, mode).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(name).Inc()
	}
}
func IncDisconnect(name, outcome string) {
	if regOK.Load() {
		disconnects.WithLabelValues(name, outcome).Inc()
	}
}
func IncPurgeAttempt(name string) {
	if regOK.Load() {
		purgeAttempts.WithLabelValues(name).Inc()
	}
}
func IncPurgeFailure(name string) {
	if regOK.Load() {
		purgeFailures.WithLabelValues(name).Inc()
	}
}
func ObserveStopDuration(name string, seconds float64) {
	if regOK.Load() {
		stopDuration.WithLabelValues(name).Observe(seconds)
	}
}

// SetStatus records the reconciled status and liveness of a worker.
func SetStatus(name, status string, isRunning bool) {
	if !regOK.Load() {
		return
	}
	for _, s := range Statuses {
		var v float64
		if s == status {
			v = 1
		}
		currentStatus.WithLabelValues(name, s).Set(v)
	}
	var r float64
	if isRunning {
		r = 1
	}
	running.WithLabelValues(name).Set(r)
}
