package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	messagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_enqueued_total",
			Help: "Total messages enqueued by tenant and channel",
		},
		[]string{"tenant_id", "channel"},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_dispatched_total",
			Help: "Total dispatch outcomes by result and channel",
		},
		[]string{"outcome", "channel"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_send_duration_seconds",
			Help:    "Provider call latency by channel",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_state",
			Help: "Circuit state per service (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	followupsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_followups_total",
			Help: "Ghost detector follow-up outcomes",
		},
		[]string{"outcome"},
	)

	duplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_duplicate_events_total",
			Help: "Webhook events absorbed by the idempotency ledger",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Requests rejected by the per-tenant rate limiter",
		},
		[]string{"tenant_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEnqueued records a message entering the retry queue
func RecordEnqueued(tenantID, channel string) {
	messagesEnqueued.WithLabelValues(tenantID, channel).Inc()
}

// RecordDispatched records one dispatch outcome (sent, rescheduled, exhausted)
func RecordDispatched(outcome, channel string) {
	messagesDispatched.WithLabelValues(outcome, channel).Inc()
}

// RecordSendDuration records provider call latency
func RecordSendDuration(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SetCircuitState publishes the current circuit state for a service
func SetCircuitState(service string, state int) {
	circuitState.WithLabelValues(service).Set(float64(state))
}

// RecordFollowup records a ghost detector outcome (sent, queued, skipped)
func RecordFollowup(outcome string) {
	followupsSent.WithLabelValues(outcome).Inc()
}

// RecordDuplicateEvent records a webhook replay stopped by the ledger
func RecordDuplicateEvent() {
	duplicateEvents.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(tenantID string) {
	rateLimitRejections.WithLabelValues(tenantID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
