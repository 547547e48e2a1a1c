// Package metrics holds the Prometheus collectors exported by the proxy
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Upstream call outcomes
const (
	UpstreamSuccess        = "success"
	UpstreamHTTPError      = "http_error"
	UpstreamTransportError = "transport_error"
	UpstreamEmptyBody      = "empty_body"
	UpstreamIncorrectData  = "incorrect_data"
	UpstreamUnconfigured   = "unconfigured"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CacheLookupsTotal  *prometheus.CounterVec
	CacheWritesTotal   *prometheus.CounterVec
	UpstreamCallsTotal *prometheus.CounterVec
	UpstreamDuration   prometheus.Histogram
	CoalescedTotal     prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_cache_lookups_total",
				Help: "Quote cache lookups by result",
			},
			[]string{"result"},
		),

		CacheWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_cache_writes_total",
				Help: "Quote cache writes by result",
			},
			[]string{"result"},
		),

		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upstream_requests_total",
				Help: "Exchange-rate provider lookups by outcome",
			},
			[]string{"outcome"},
		),

		UpstreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upstream_request_duration_seconds",
				Help:    "Exchange-rate provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		CoalescedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "upstream_coalesced_requests_total",
				Help: "Cache misses that shared an in-flight upstream call",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCacheLookup counts a cache lookup result
func (m *Metrics) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheWrite counts a cache write, failed or not
func (m *Metrics) ObserveCacheWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CacheWritesTotal.WithLabelValues(result).Inc()
}

// ObserveUpstream counts an upstream lookup and its duration
func (m *Metrics) ObserveUpstream(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.UpstreamCallsTotal.WithLabelValues(outcome).Inc()
	if outcome != UpstreamUnconfigured {
		m.UpstreamDuration.Observe(seconds)
	}
}

// ObserveCoalesced counts a miss served by another caller's upstream call
func (m *Metrics) ObserveCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request
func (m *Metrics) ObserveHTTPRequest(path, method, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(path, method).Observe(seconds)
}
