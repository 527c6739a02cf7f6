package store

import (
	"context"
	"errors"
)

var (
	// ErrMiss indicates the requested key was not found in the tier.
	ErrMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrQueueItemNotFound indicates the queue item was already removed.
	ErrQueueItemNotFound = errors.New("queue item not found")
)

// Tier is a handle to one named key→entry store.
//
// Concurrency: the underlying storage engine serializes individual
// operations. Concurrent writes to the same key are last-writer-wins;
// a concurrently deleted key yields ErrMiss, a defined outcome.
type Tier interface {
	// Name returns the durable store name this handle is bound to.
	Name() string

	// Get returns the entry for key, bumping its LastAccess timestamp.
	// Returns ErrMiss if the key is absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put writes the entry under key, replacing any prior entry. The
	// backend assigns Seq on first insert and preserves it on overwrite.
	Put(ctx context.Context, key string, entry *Entry) error

	// Delete removes the entry for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Entries enumerates all entries with their keys, for eviction.
	Entries(ctx context.Context) ([]KeyedEntry, error)

	// Len returns the current entry count.
	Len(ctx context.Context) (int, error)

	// Clear removes every entry but keeps the store itself.
	Clear(ctx context.Context) error
}

// QueueStore is the durable FIFO store backing the offline sync queue. It is
// independent of any build version and must survive upgrades.
type QueueStore interface {
	// Append stores data under a fresh monotonically increasing ID.
	Append(ctx context.Context, data []byte) (uint64, error)

	// Items returns all stored items ordered by ascending ID.
	Items(ctx context.Context) ([]QueueItem, error)

	// Remove deletes the item with the given ID.
	Remove(ctx context.Context, id uint64) error

	// Len returns the number of stored items.
	Len(ctx context.Context) (int, error)
}

// Backend provides named tier stores and the queue store on top of one
// storage engine.
type Backend interface {
	// Open returns a handle to the named tier store, creating it if needed.
	Open(ctx context.Context, name string) (Tier, error)

	// DeleteTier removes a named tier store and all its entries.
	DeleteTier(ctx context.Context, name string) error

	// ListTierNames returns the names of all tier stores owned by this
	// engine (queue storage excluded).
	ListTierNames(ctx context.Context) ([]string, error)

	// Queue returns the offline sync queue store.
	Queue() QueueStore

	// Close releases backend resources.
	Close() error
}
