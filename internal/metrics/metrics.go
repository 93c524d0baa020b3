package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairwatch"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	checks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Number of completed check cycles.",
		}, []string{"watchdog"},
	)
	checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "check_duration_seconds",
			Help:      "Wall time of a single check cycle including any restart.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"watchdog"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "restarts_total",
			Help:      "Number of successful peer restarts.",
		}, []string{"watchdog"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "launch_failures_total",
			Help:      "Number of failed peer launches.",
		}, []string{"watchdog"},
	)
	redeploys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "redeploys_total",
			Help:      "Artifact checks that had to extract or failed to, by result.",
		}, []string{"watchdog", "result"},
	)
	recordErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "record",
			Name:      "errors_total",
			Help:      "Coordination record read/write failures.",
		}, []string{"watchdog", "op"},
	)
	peerAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      "alive",
			Help:      "1 when the last check found the peer alive, 0 otherwise.",
		}, []string{"watchdog"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "state_transitions_total",
			Help:      "Number of watchdog lifecycle state transitions.",
		}, []string{"watchdog", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{checks, checkDuration, restarts, launchFailures, redeploys, recordErrors, peerAlive, stateTransitions}
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

// Below are lightweight helpers used by the watchdog to record metrics.
// They no-op if Register hasn't been called.

func ObserveCheck(name string, seconds float64) {
	if regOK.Load() {
		checks.WithLabelValues(name).Inc()
		checkDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		restarts.WithLabelValues(name).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

func IncRedeploy(name, result string) {
	if regOK.Load() {
		redeploys.WithLabelValues(name, result).Inc()
	}
}

func IncRecordError(name, op string) {
	if regOK.Load() {
		recordErrors.WithLabelValues(name, op).Inc()
	}
}

func SetPeerAlive(name string, alive bool) {
	if regOK.Load() {
		var v float64
		if alive {
			v = 1
		}
		peerAlive.WithLabelValues(name).Set(v)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}
