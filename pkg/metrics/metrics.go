// Package metrics provides the centralized Prometheus registry reference for
// the ingestion engine. All metrics are defined in their respective packages
// (regsgov, ratelimit, worker, aggregator) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - pca_rate_limit_remaining (Gauge): Requests remaining in the hourly API budget
//   - pca_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - pca_rate_limit_throttles_total (Counter): Requests throttled in the warning band
//
// Request Metrics (pkg/regsgov):
//   - pca_api_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - pca_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - pca_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/regsgov):
//   - pca_api_retries_total{error_class} (Counter): Retry attempts by error class
//   - pca_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - pca_api_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Worker Metrics (pkg/worker):
//   - pca_worker_pages_total{outcome} (Counter): Pages by outcome (complete, rate_limited, failed, already_complete)
//   - pca_worker_records_fetched_total (Counter): Comment records fetched and persisted
//   - pca_worker_page_duration_seconds (Histogram): Wall time per worker page invocation
//
// Aggregator Metrics (pkg/aggregator):
//   - pca_aggregator_runs_total{outcome} (Counter): Aggregation runs by outcome
//   - pca_aggregator_records_merged_total (Counter): Rows merged into consolidated artifacts
//
// Example Prometheus Queries:
//
//   # Rate-limited page share
//   rate(pca_worker_pages_total{outcome="rate_limited"}[5m]) /
//   rate(pca_worker_pages_total[5m])
//
//   # Budget pressure
//   pca_rate_limit_remaining < 50
//
//   # Request error rate
//   rate(pca_api_errors_total[5m])
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(pca_worker_page_duration_seconds_bucket[5m]))
