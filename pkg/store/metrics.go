package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks cache hits by tier store name.
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photonix_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// Misses tracks cache misses by tier store name.
	Misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photonix_cache_misses_total",
			Help: "Total number of cache misses by tier",
		},
		[]string{"tier"},
	)

	// StoreErrors tracks storage operation errors.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photonix_cache_store_errors_total",
			Help: "Total number of cache storage operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "list"
	)

	// EvictedEntries tracks entries removed by the eviction pass.
	EvictedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photonix_cache_evicted_entries_total",
			Help: "Total number of entries evicted by reason",
		},
		[]string{"tier", "reason"}, // reason: "expired", "lru"
	)

	// EvictionFailures tracks per-entry delete failures during eviction.
	EvictionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photonix_cache_eviction_failures_total",
			Help: "Total number of entry deletions that failed during eviction",
		},
		[]string{"tier"},
	)
)
