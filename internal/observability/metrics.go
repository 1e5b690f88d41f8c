package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "popupshop"
	unmatchedRoute   = "unmatched"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	gatherer   prometheus.Gatherer
	operations *prometheus.CounterVec
	attempts   *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	metrics := &Metrics{
		gatherer: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "booking_operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "status"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "booking_operation_attempts",
			Help:      "Conditional write attempts needed per operation.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}, []string{"operation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registered := []prometheus.Collector{
		metrics.operations,
		metrics.attempts,
		metrics.requests,
		metrics.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, collector := range registered {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// LogOperation counts an engine operation; Metrics satisfies booking.OperationLogger.
func (metrics *Metrics) LogOperation(_ context.Context, entry booking.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Attempts > 0 {
		metrics.attempts.WithLabelValues(entry.Operation).Observe(float64(entry.Attempts))
	}
}

// GinMiddleware records request counts and latency keyed by the matched route template.
func (metrics *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := ctx.Request.Method
		metrics.requests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.latency.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.gatherer, promhttp.HandlerOpts{})
}
