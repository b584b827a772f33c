package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal     *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	costsTotal        *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	throttleTotal     *prometheus.CounterVec
	queueWaitTime     *prometheus.HistogramVec
	evictionsTotal    *prometheus.CounterVec
	evictedTurns      *prometheus.CounterVec
	regenerationTotal *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg under namespace.
// Each registry accepts one recorder per namespace.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of remote completion requests by model, session, and status",
			},
			[]string{"model", "session_id", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total number of tokens used in completion requests",
			},
			[]string{"model", "session_id", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_costs_total",
				Help:      "Total cost in USD for completion requests",
			},
			[]string{"model", "session_id"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of completion requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_throttle_total",
				Help:      "Total number of client-side throttling events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_queue_wait_duration_seconds",
				Help:      "Time spent waiting for rate limit availability",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		evictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_evictions_total",
				Help:      "History spans evicted after capacity rejections",
			},
			[]string{"model"},
		),
		evictedTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_evicted_turns_total",
				Help:      "Turns removed from active windows by eviction",
			},
			[]string{"model"},
		),
		regenerationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_regenerations_total",
				Help:      "Replies regenerated, by reason",
			},
			[]string{"model", "reason"},
		),
	}
}

// ObserveRequest records metrics for a completed remote request.
func (p *PrometheusRecorder) ObserveRequest(
	model, sessionID string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := statusSuccess
	if !success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(model, sessionID, status, errorType).Inc()

	// Tokens and costs are only billed on success
	if success {
		p.tokensTotal.WithLabelValues(model, sessionID, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, sessionID, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, sessionID).Add(cost)
	}

	p.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}

// IncEviction counts one evicted span of the given length.
func (p *PrometheusRecorder) IncEviction(model string, turns int) {
	p.evictionsTotal.WithLabelValues(model).Inc()
	p.evictedTurns.WithLabelValues(model).Add(float64(turns))
}

// IncRegeneration counts a regenerated reply.
func (p *PrometheusRecorder) IncRegeneration(model, reason string) {
	p.regenerationTotal.WithLabelValues(model, reason).Inc()
}

// Handler exposes the collectors registered on g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
