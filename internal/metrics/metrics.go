// ABOUTME: Prometheus collectors for the runtime, registered via promauto.
// ABOUTME: Metric names are stable; dashboards and alerts key on them.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_routed_total",
			Help: "Messages routed, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RoutingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_routing_errors_total",
			Help: "Routing failures by error code",
		},
		[]string{"code"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_handler_duration_seconds",
			Help:    "Handler execution time",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"type"},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Currently connected sessions",
		},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_sessions_opened_total",
			Help: "Sessions accepted since start",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_sessions_closed_total",
			Help: "Sessions closed, by reason",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Requests denied by the rate limiter",
		},
	)

	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_broadcast_failures_total",
			Help: "Per-session delivery failures during broadcasts",
		},
	)

	// Pipeline metrics
	PipelineInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_pipeline_in_flight",
			Help: "Requests currently executing in the pipeline",
		},
	)

	PipelineDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_pipeline_deduped_total",
			Help: "Requests served from the dedupe cache",
		},
	)

	PipelineBusy = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_pipeline_busy_total",
			Help: "Requests rejected because the pipeline was saturated",
		},
	)
)
