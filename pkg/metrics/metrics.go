// Package metrics provides the centralized Prometheus registry for the
// TCIA fetch pipeline. All metrics are defined in their respective
// packages (tcia, fetcher, prober, studycache, scancache, fulfiller,
// download) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/tcia):
//   - tcia_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - tcia_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - tcia_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Retry Metrics (pkg/tcia):
//   - tcia_retries_total{error_class} (Counter): Retry attempts by error class
//   - tcia_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - tcia_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Fetch Metrics (pkg/fetcher):
//   - fetcher_pages_total{collection} (Counter): Study pages fetched
//   - fetcher_studies_fetched_total{collection} (Counter): Usable studies appended to the cache
//   - fetcher_early_exits_total (Counter): Fetches ended early by the recheck threshold
//   - fetcher_fetch_duration_seconds (Histogram): Wall-clock duration of fetch runs
//
// Study Cache Metrics (pkg/studycache):
//   - studycache_loads_total (Counter): Successful cache loads
//   - studycache_appends_total (Counter): Studies appended
//   - studycache_flushes_total (Counter): Buffer flushes to disk
//   - studycache_finalize_total (Counter): Finalized collection snapshots
//   - studycache_corrupt_lines_total (Counter): Malformed cache lines skipped on load
//   - studycache_errors_total{operation} (Counter): Cache I/O errors
//
// Prober Metrics (pkg/prober):
//   - prober_probes_total (Counter): Patient-level series probes issued
//   - prober_probe_errors_total (Counter): Probes that failed and were skipped
//   - prober_patients_with_reports_total (Counter): Patients whose probed study carried reports
//   - prober_memory_pauses_total (Counter): Pauses triggered by the memory threshold
//
// Scan Cache Metrics (pkg/scancache):
//   - scancache_hits_total (Counter): Scan cache hits
//   - scancache_misses_total (Counter): Scan cache misses
//   - scancache_writes_total (Counter): Scan cache writes
//   - scancache_errors_total{operation} (Counter): Scan cache operation errors
//
// Fulfillment Metrics (pkg/fulfiller):
//   - fulfiller_attempts_total (Counter): Fetch-and-classify passes
//   - fulfiller_quota_met_total (Counter): Runs that met their quota
//   - fulfiller_shortfalls_total (Counter): Runs that ended below quota
//   - fulfiller_skipped_total (Counter): Collections skipped by preflight
//
// Download Metrics (pkg/download):
//   - download_series_total{result} (Counter): Series downloads by result (ok, error)
//   - download_bytes_total (Counter): Archive bytes downloaded
//   - download_duration_seconds (Histogram): Duration of individual series downloads
//
// Example Prometheus Queries:
//
//	# Scan Cache Hit Rate
//	sum(rate(scancache_hits_total[5m])) /
//	(sum(rate(scancache_hits_total[5m])) + sum(rate(scancache_misses_total[5m])))
//
//	# Request Error Rate
//	rate(tcia_errors_total[5m])
//
//	# P95 Request Latency
//	histogram_quantile(0.95, rate(tcia_request_duration_seconds_bucket[5m]))
//
//	# Quota Shortfall Rate
//	rate(fulfiller_shortfalls_total[1h]) / rate(fulfiller_attempts_total[1h])
