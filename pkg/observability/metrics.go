package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Reconciliation metrics
	WebhookEventsTotal *prometheus.CounterVec
	FanOutMembers      prometheus.Histogram
	FanOutFailures     prometheus.Counter
	FanOutDuration     prometheus.Histogram
	UsageSyncsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiftbill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shiftbill_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiftbill_provider_calls_total",
				Help: "Total number of billing provider calls",
			},
			[]string{"operation", "status"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shiftbill_provider_call_duration_seconds",
				Help:    "Billing provider call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiftbill_webhook_events_total",
				Help: "Total number of webhook deliveries by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		FanOutMembers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shiftbill_fanout_members",
				Help:    "Members touched per status fan-out",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		FanOutFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shiftbill_fanout_failures_total",
				Help: "Total number of failed member status updates",
			},
		),
		FanOutDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shiftbill_fanout_duration_seconds",
				Help:    "Status fan-out duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		UsageSyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiftbill_usage_syncs_total",
				Help: "Total number of usage sync attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.WebhookEventsTotal,
		m.FanOutMembers,
		m.FanOutFailures,
		m.FanOutDuration,
		m.UsageSyncsTotal,
	)

	return m
}

// RecordProviderCall counts a provider call. Status 0 means the call never got a response.
func (m *Metrics) RecordProviderCall(operation string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.ProviderCallsTotal.WithLabelValues(operation, label).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWebhook counts a webhook delivery
func (m *Metrics) RecordWebhook(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordFanOut observes a member status fan-out
func (m *Metrics) RecordFanOut(members, failed int, duration time.Duration) {
	m.FanOutMembers.Observe(float64(members))
	m.FanOutFailures.Add(float64(failed))
	m.FanOutDuration.Observe(duration.Seconds())
}

// RecordUsageSync counts a usage sync attempt
func (m *Metrics) RecordUsageSync(outcome string) {
	m.UsageSyncsTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Requests are labelled by
// route template so path ids do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
