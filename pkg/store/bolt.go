package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

const boltQueueBucket = tier.StorePrefix + "sync-queue"

// BoltBackend stores tiers as top-level buckets in a local bbolt file. This
// is the client-resident default: no external service, survives restarts.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a bbolt-backed store at the provided path.
func OpenBolt(path string) (*BoltBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	// The queue bucket must exist up front; it outlives every build version.
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltQueueBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure queue bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Open returns a handle to the named tier store, creating its bucket if
// needed.
func (b *BoltBackend) Open(ctx context.Context, name string) (Tier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("tier store name cannot be empty")
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create tier bucket %s: %w", name, err)
	}
	return &boltTier{db: b.db, name: name}, nil
}

// DeleteTier removes the named bucket and everything in it. Deleting an
// absent tier is not an error.
func (b *BoltBackend) DeleteTier(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete tier bucket %s: %w", name, err)
	}
	return nil
}

// ListTierNames enumerates engine-owned tier buckets, excluding the queue.
func (b *BoltBackend) ListTierNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			n := string(name)
			if n == boltQueueBucket || !tier.BelongsToEngine(n) {
				return nil
			}
			names = append(names, n)
			return nil
		})
	})
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("list tier buckets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Queue returns the bbolt-backed offline queue store.
func (b *BoltBackend) Queue() QueueStore {
	return &boltQueue{db: b.db}
}

// Close closes the underlying database.
func (b *BoltBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type boltTier struct {
	db   *bbolt.DB
	name string
}

func (t *boltTier) Name() string { return t.name }

func (t *boltTier) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	// Update, not View: the read bumps LastAccess in place.
	err := t.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.name))
		if bucket == nil {
			return ErrMiss
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrMiss
		}

		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}

		e.LastAccess = nowFunc()
		bumped, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		if err := bucket.Put([]byte(key), bumped); err != nil {
			return fmt.Errorf("bump last access: %w", err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMiss) {
			Misses.WithLabelValues(t.name).Inc()
			return nil, ErrMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	Hits.WithLabelValues(t.name).Inc()
	return entry, nil
}

func (t *boltTier) Put(ctx context.Context, key string, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	err := t.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.name))
		if bucket == nil {
			return fmt.Errorf("tier bucket %s is gone", t.name)
		}

		if prev := bucket.Get([]byte(key)); prev != nil {
			var old Entry
			if err := json.Unmarshal(prev, &old); err == nil {
				entry.Seq = old.Seq
			}
		} else {
			seq, err := bucket.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			entry.Seq = seq
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("put entry %s: %w", key, err)
	}
	return nil
}

func (t *boltTier) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.name))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete entry %s: %w", key, err)
	}
	return nil
}

func (t *boltTier) Entries(ctx context.Context) ([]KeyedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []KeyedEntry
	err := t.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.name))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, data []byte) error {
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return nil
			}
			entries = append(entries, KeyedEntry{Key: string(key), Entry: &e})
			return nil
		})
	})
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("enumerate tier %s: %w", t.name, err)
	}
	return entries, nil
}

func (t *boltTier) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := t.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.name))
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count tier %s: %w", t.name, err)
	}
	return n, nil
}

func (t *boltTier) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(t.name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(t.name))
		return err
	})
	if err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("clear tier %s: %w", t.name, err)
	}
	return nil
}

type boltQueue struct {
	db *bbolt.DB
}

func queueItemKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (q *boltQueue) Append(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var id uint64
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltQueueBucket))
		if bucket == nil {
			return fmt.Errorf("queue bucket is gone")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		id = seq
		return bucket.Put(queueItemKey(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append queue item: %w", err)
	}
	return id, nil
}

func (q *boltQueue) Items(ctx context.Context) ([]QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []QueueItem
	err := q.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltQueueBucket))
		if bucket == nil {
			return nil
		}
		// Big-endian keys keep cursor order == enqueue order.
		return bucket.ForEach(func(key, data []byte) error {
			if len(key) != 8 {
				return nil
			}
			item := QueueItem{ID: binary.BigEndian.Uint64(key)}
			item.Data = make([]byte, len(data))
			copy(item.Data, data)
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate queue: %w", err)
	}
	return items, nil
}

func (q *boltQueue) Remove(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltQueueBucket))
		if bucket == nil {
			return ErrQueueItemNotFound
		}
		key := queueItemKey(id)
		if bucket.Get(key) == nil {
			return ErrQueueItemNotFound
		}
		return bucket.Delete(key)
	})
	if err != nil {
		if errors.Is(err, ErrQueueItemNotFound) {
			return ErrQueueItemNotFound
		}
		return fmt.Errorf("remove queue item %d: %w", id, err)
	}
	return nil
}

func (q *boltQueue) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := q.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(boltQueueBucket))
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}
