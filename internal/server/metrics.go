package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5}

// Metrics holds the Prometheus collectors of the service on a private
// registry.
type Metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queries  *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

// NewMetrics registers the service collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "districtmatch_http_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status_class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "districtmatch_http_request_duration_seconds",
			Help:    "HTTP request duration.",
			Buckets: latencyBuckets,
		}, []string{"method", "route"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "districtmatch_match_queries_total",
			Help: "Match queries by metric and outcome.",
		}, []string{"metric", "outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "districtmatch_cache_lookups_total",
			Help: "Dataset and index cache lookups.",
		}, []string{"cache", "result"}),
	}
	m.reg.MustRegister(m.requests, m.duration, m.queries, m.cache)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RecordRequest records one served request.
func (m *Metrics) RecordRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordQuery records a match query outcome ("ok" or the HTTP status class).
func (m *Metrics) RecordQuery(metric, outcome string) {
	m.queries.WithLabelValues(metric, outcome).Inc()
}

// CacheLookup records a hit or miss of the named cache.
func (m *Metrics) CacheLookup(name string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(name, result).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status >= 100:
		return "1xx"
	}
	return "unknown"
}
