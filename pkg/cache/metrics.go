package cache

import (
	"github.com/Sternrassler/pagedsource/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var factory = promauto.With(metrics.Registry)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pager_cache_hits_total",
			Help: "Total number of upstream page cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pager_cache_misses_total",
			Help: "Total number of upstream page cache misses",
		},
		[]string{"layer"},
	)

	// CacheEntries tracks the number of upstream pages held by MemoryStore
	CacheEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pager_cache_entries",
			Help: "Current number of cached upstream pages",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pager_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "len", "purge"
	)
)
