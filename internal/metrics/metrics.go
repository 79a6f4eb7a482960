// Package metrics provides Prometheus collectors for query outcomes and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes.
const (
	OutcomeRows   = "rows"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

const namespace = "parcelq"

// Collector records query and HTTP metrics. A nil *Collector is a no-op.
type Collector struct {
	gatherer            prometheus.Gatherer
	queriesTotal        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		queriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of parcel queries by outcome",
			},
			[]string{"operation", "outcome"},
		),
		queryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Parcel query duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"operation"},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ObserveQuery records one query execution.
func (c *Collector) ObserveQuery(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(operation, outcome).Inc()
	c.queryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler returns the /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
