package scancache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancache_hits_total",
			Help: "Total number of scan cache hits",
		},
	)

	scanMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancache_misses_total",
			Help: "Total number of scan cache misses",
		},
	)

	scanWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scancache_writes_total",
			Help: "Total number of scan cache writes",
		},
	)

	scanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scancache_errors_total",
			Help: "Total number of scan cache operation errors",
		},
		[]string{"operation"}, // "get", "set"
	)
)
