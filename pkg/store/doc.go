// Package store provides the versioned multi-tier cache stores and the
// durable offline queue store of the edge cache engine.
//
// A Backend exposes named tier stores (one per {tier, build version} pair),
// plus one QueueStore that is independent of any build version and survives
// upgrades. Two backends are provided:
//
//   - bolt: a local bbolt file, the client-resident default
//   - redis: a Redis server, for shared deployments
//
// # Basic Usage
//
//	backend, err := store.New(store.Options{Backend: "bolt", BoltPath: "cache.db"})
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	handle, err := backend.Open(ctx, tier.APIResponses.StoreName(version))
//	if err != nil {
//		return err
//	}
//
//	entry, err := handle.Get(ctx, key)
//	if err == store.ErrMiss {
//		// miss - fetch from origin
//	}
//
// # Eviction
//
// The Enforcer applies per-tier bounds: an age sweep first, then an LRU trim
// down to MaxEntries. Passes are best effort; individual delete failures are
// collected into the EvictionReport and never abort the rest of the pass.
//
//	enforcer := store.NewEnforcer(logger)
//	report, err := enforcer.Enforce(ctx, handle, policy)
//
// # Versioning
//
// Tier store names carry the build version suffix. On activation the
// lifecycle controller lists all engine-owned names and deletes every one
// whose suffix is not the current version, so bytes from a previous
// deployment's asset graph are never served.
package store
