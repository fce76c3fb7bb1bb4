package studycache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLoadsTotal counts successful cache loads.
	cacheLoadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studycache_loads_total",
		Help: "Total number of collection cache loads",
	})

	// cacheAppendsTotal counts studies appended to durable storage.
	cacheAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studycache_appends_total",
		Help: "Total number of studies appended to the cache",
	})

	// cacheFlushesTotal counts buffer flushes.
	cacheFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studycache_flushes_total",
		Help: "Total number of cache buffer flushes",
	})

	// cacheFinalizeTotal counts collection finalizations.
	cacheFinalizeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studycache_finalize_total",
		Help: "Total number of collection cache finalizations",
	})

	// cacheCorruptLines counts malformed entries skipped during load.
	cacheCorruptLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studycache_corrupt_lines_total",
		Help: "Total number of corrupt cache entries skipped",
	})

	// cacheErrorsTotal counts cache write failures by operation.
	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studycache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"}) // "flush", "finalize", "uids"
)
