package datasource

import (
	"github.com/Sternrassler/pagedsource/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var factory = promauto.With(metrics.Registry)

var (
	displayPagesServed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_display_pages_served_total",
		Help: "Display page requests by result",
	}, []string{"result"}) // "ok", "fetch_failure", "out_of_range"

	upstreamFetches = factory.NewCounter(prometheus.CounterOpts{
		Name: "pager_upstream_fetches_total",
		Help: "Upstream page fetches issued after cache misses",
	})

	coalescedFetches = factory.NewCounter(prometheus.CounterOpts{
		Name: "pager_coalesced_fetches_total",
		Help: "Upstream page loads that joined another caller's in-flight fetch",
	})
)
