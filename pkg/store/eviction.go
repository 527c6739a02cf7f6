package store

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// EvictionReport summarizes one enforcement pass over a tier.
type EvictionReport struct {
	// Expired is the number of entries removed for exceeding MaxAge.
	Expired int

	// Trimmed is the number of entries removed to get back under MaxEntries.
	Trimmed int

	// Failures collects per-entry delete errors. A failed delete never
	// aborts the rest of the pass.
	Failures []EvictionFailure
}

// EvictionFailure records one entry whose deletion failed.
type EvictionFailure struct {
	Key string
	Err error
}

// Removed returns the total number of entries deleted by the pass.
func (r EvictionReport) Removed() int {
	return r.Expired + r.Trimmed
}

// Enforcer applies per-tier capacity and age bounds.
type Enforcer struct {
	logger zerolog.Logger
}

// NewEnforcer creates an eviction enforcer.
func NewEnforcer(logger zerolog.Logger) *Enforcer {
	return &Enforcer{logger: logger}
}

// Enforce brings a tier within its policy bounds:
//
//  1. Every entry older than MaxAge is removed, regardless of count.
//  2. If the remainder still exceeds MaxEntries, entries are removed
//     least-recently-used first until the count equals MaxEntries.
//
// Ties on LastAccess break by insertion sequence, oldest first. Individual
// delete failures are accumulated into the report, never short-circuit.
// Running Enforce twice with no interleaved writes leaves the tier unchanged
// the second time.
func (e *Enforcer) Enforce(ctx context.Context, t Tier, policy tier.Policy) (EvictionReport, error) {
	var report EvictionReport

	entries, err := t.Entries(ctx)
	if err != nil {
		return report, err
	}

	now := nowFunc()

	// Age sweep.
	remaining := entries[:0]
	for _, ke := range entries {
		if policy.MaxAge > 0 && ke.Entry.Age(now) > policy.MaxAge {
			if err := t.Delete(ctx, ke.Key); err != nil {
				report.Failures = append(report.Failures, EvictionFailure{Key: ke.Key, Err: err})
				EvictionFailures.WithLabelValues(t.Name()).Inc()
				e.logger.Warn().Err(err).Str("tier", t.Name()).Str("key", ke.Key).
					Msg("Failed to evict expired entry")
				continue
			}
			report.Expired++
			EvictedEntries.WithLabelValues(t.Name(), "expired").Inc()
			continue
		}
		remaining = append(remaining, ke)
	}

	// LRU trim.
	if policy.MaxEntries > 0 && len(remaining) > policy.MaxEntries {
		sort.Slice(remaining, func(i, j int) bool {
			a, b := remaining[i].Entry, remaining[j].Entry
			if !a.LastAccess.Equal(b.LastAccess) {
				return a.LastAccess.Before(b.LastAccess)
			}
			return a.Seq < b.Seq
		})

		excess := len(remaining) - policy.MaxEntries
		for _, ke := range remaining[:excess] {
			if err := t.Delete(ctx, ke.Key); err != nil {
				report.Failures = append(report.Failures, EvictionFailure{Key: ke.Key, Err: err})
				EvictionFailures.WithLabelValues(t.Name()).Inc()
				e.logger.Warn().Err(err).Str("tier", t.Name()).Str("key", ke.Key).
					Msg("Failed to evict LRU entry")
				continue
			}
			report.Trimmed++
			EvictedEntries.WithLabelValues(t.Name(), "lru").Inc()
		}
	}

	if report.Removed() > 0 || len(report.Failures) > 0 {
		e.logger.Debug().
			Str("tier", t.Name()).
			Int("expired", report.Expired).
			Int("trimmed", report.Trimmed).
			Int("failures", len(report.Failures)).
			Msg("Eviction pass completed")
	}

	return report, nil
}
