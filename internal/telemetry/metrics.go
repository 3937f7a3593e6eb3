// Package telemetry exposes Prometheus metrics and the gRPC health service.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usba_gateway_calls_total",
			Help: "Total number of AI gateway calls",
		},
		[]string{"op", "status"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usba_gateway_call_duration_seconds",
			Help:    "AI gateway call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
		[]string{"op"},
	)

	// Wizard metrics
	wizardTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usba_wizard_transitions_total",
			Help: "Total number of wizard state transitions",
		},
		[]string{"op", "result"},
	)

	spinsLoggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usba_spins_logged_total",
			Help: "Total number of spins logged",
		},
	)

	sessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usba_sessions_ended_total",
			Help: "Total number of sessions ended",
		},
		[]string{"reason"},
	)

	activeMachines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usba_active_machines",
			Help: "Number of wizard machines held in memory",
		},
	)

	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usba_live_connections",
			Help: "Number of open live WebSocket connections",
		},
	)

	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usba_rate_limited_requests_total",
			Help: "Total number of requests rejected by the per-device rate limiter",
		},
	)

	retentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usba_retention_slots_deleted_total",
			Help: "Total number of stale session slots deleted",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			gatewayCallsTotal,
			gatewayCallDuration,
			wizardTransitionsTotal,
			spinsLoggedTotal,
			sessionsEndedTotal,
			activeMachines,
			liveConnections,
			rateLimitedTotal,
			retentionDeletedTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordGatewayCall records one gateway call outcome.
func RecordGatewayCall(op, status string, seconds float64) {
	gatewayCallsTotal.WithLabelValues(op, status).Inc()
	gatewayCallDuration.WithLabelValues(op).Observe(seconds)
}

// RecordTransition records a wizard operation and whether it succeeded.
func RecordTransition(op, result string) {
	wizardTransitionsTotal.WithLabelValues(op, result).Inc()
}

// RecordSpin counts a logged spin.
func RecordSpin() {
	spinsLoggedTotal.Inc()
}

// RecordSessionEnded counts a session ending; reason is "terminated" or "win".
func RecordSessionEnded(reason string) {
	sessionsEndedTotal.WithLabelValues(reason).Inc()
}

// SetActiveMachines sets the registry size.
func SetActiveMachines(n int) {
	activeMachines.Set(float64(n))
}

// IncLiveConnections and DecLiveConnections track open WebSocket clients.
func IncLiveConnections() { liveConnections.Inc() }
func DecLiveConnections() { liveConnections.Dec() }

// RecordRateLimited counts a request rejected by the limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordRetentionDeleted adds to the deleted-slot count.
func RecordRetentionDeleted(n int64) {
	if n > 0 {
		retentionDeletedTotal.Add(float64(n))
	}
}
