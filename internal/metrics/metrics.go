// Package metrics defines Prometheus metrics for the geodex catalog.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodex_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodex_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodex_http_errors_total",
			Help: "Total HTTP error responses by code",
		},
		[]string{"code"},
	)

	DatasetsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geodex_datasets_indexed_total",
			Help: "Total datasets added to the catalog",
		},
	)

	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodex_searches_total",
			Help: "Total catalog searches by operation",
		},
		[]string{"op"},
	)

	IndexDDLTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geodex_index_ddl_statements_total",
			Help: "Total index/view DDL statements applied",
		},
	)
)

// Register registers all catalog metrics with the given registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(RequestDuration, RequestsTotal, ErrorsTotal, DatasetsIndexed, SearchesTotal, IndexDDLTotal)
}
