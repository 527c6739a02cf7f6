// Package metrics provides the centralized Prometheus registry reference for
// the edge cache engine. All metrics are defined in their respective packages
// (router, store, syncqueue, connectivity) to maintain modularity and avoid
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
// Routing Metrics (pkg/router):
//   - photonix_requests_total{policy, outcome} (Counter): Routed requests by
//     serving policy and outcome (origin, cache_hit, fallback, queued, unavailable)
//   - photonix_request_duration_seconds{policy} (Histogram): Request duration by policy
//   - photonix_background_refresh_total{result} (Counter): Stale-while-revalidate
//     refreshes by result (updated, skipped, failed)
//   - photonix_uncacheable_responses_total{reason} (Counter): Responses that passed
//     through uncached (status, partial, method, authorization, size)
//   - photonix_background_tasks_dropped_total (Counter): Tasks dropped on a full pool queue
//
// Retry Metrics (pkg/router):
//   - photonix_origin_retries_total{error_class} (Counter): Retry attempts by error class
//   - photonix_origin_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - photonix_origin_retry_exhausted_total{error_class} (Counter): Exhausted retry sequences
//
// Store Metrics (pkg/store):
//   - photonix_cache_hits_total{tier} (Counter): Cache hits by tier store name
//   - photonix_cache_misses_total{tier} (Counter): Cache misses by tier store name
//   - photonix_cache_store_errors_total{operation} (Counter): Storage operation errors
//   - photonix_cache_evicted_entries_total{tier, reason} (Counter): Evictions (expired, lru)
//   - photonix_cache_eviction_failures_total{tier} (Counter): Failed eviction deletes
//
// Offline Queue Metrics (pkg/syncqueue):
//   - photonix_sync_queue_depth (Gauge): Current queued request count
//   - photonix_sync_queue_enqueued_total{kind} (Counter): Requests deferred for replay
//   - photonix_sync_queue_replayed_total{kind} (Counter): Successful replays
//   - photonix_sync_queue_replay_failures_total{kind} (Counter): Failed replay attempts
//
// Connectivity Metrics (pkg/connectivity):
//   - photonix_origin_online (Gauge): Origin reachability (1/0)
//   - photonix_origin_failures_total (Counter): Network-level origin failures
//   - photonix_origin_reconnects_total (Counter): Offline-to-online transitions
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(photonix_cache_hits_total[5m])) /
//   (sum(rate(photonix_cache_hits_total[5m])) + sum(rate(photonix_cache_misses_total[5m])))
//
//   # Fallback Rate (degraded connectivity indicator)
//   rate(photonix_requests_total{outcome="fallback"}[5m])
//
//   # Offline Queue Backlog
//   photonix_sync_queue_depth
//
//   # P95 Request Latency by Policy
//   histogram_quantile(0.95, rate(photonix_request_duration_seconds_bucket[5m]))
