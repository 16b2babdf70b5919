// Package metrics exposes the Prometheus registry used by the pager packages.
// Metrics are declared with promauto.With(Registry) next to the code that
// records them (client, cache, datasource); this package serves and lists them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every pager package declares its metrics on.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Names lists the metrics recorded by the pager packages.
var Names = []string{
	// pkg/client
	"pager_upstream_requests_total",
	"pager_upstream_request_duration_seconds",
	"pager_upstream_errors_total",
	"pager_upstream_retries_total",
	"pager_upstream_retry_exhausted_total",

	// pkg/cache
	"pager_cache_hits_total",
	"pager_cache_misses_total",
	"pager_cache_entries",
	"pager_cache_errors_total",

	// pkg/datasource
	"pager_display_pages_served_total",
	"pager_upstream_fetches_total",
	"pager_coalesced_fetches_total",
}

// Example queries:
//
//	# cache hit rate
//	sum(rate(pager_cache_hits_total[5m])) /
//	(sum(rate(pager_cache_hits_total[5m])) + sum(rate(pager_cache_misses_total[5m])))
//
//	# share of display pages that needed no upstream fetch of their own
//	1 - rate(pager_upstream_fetches_total[5m]) /
//	sum(rate(pager_display_pages_served_total{result="ok"}[5m]))
//
//	# coalesced loads
//	rate(pager_coalesced_fetches_total[5m])
//
//	# p95 upstream latency
//	histogram_quantile(0.95, rate(pager_upstream_request_duration_seconds_bucket[5m]))
