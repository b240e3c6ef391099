// Package metrics holds the Prometheus collectors for the API and its
// security layer.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SecurityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crystals_security_events_total",
			Help: "Security events recorded, by type and severity.",
		},
		[]string{"event_type", "severity"},
	)

	PipelineRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crystals_pipeline_rejections_total",
			Help: "Requests short-circuited by a pipeline stage.",
		},
		[]string{"stage", "code"},
	)

	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crystals_alerts_total",
			Help: "Security alerts triggered, by category.",
		},
		[]string{"category"},
	)

	AlertNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crystals_alert_notifications_total",
			Help: "Alert notification attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crystals_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crystals_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crystals_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SecurityEvents,
			PipelineRejections,
			Alerts,
			AlertNotifications,
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge. The route
// label is the chi route pattern so ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
