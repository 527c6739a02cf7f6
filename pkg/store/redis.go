package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// Redis key layout:
//   {storeName}          hash: request key -> JSON entry
//   {storeName}:seq      counter for insertion sequence numbers
//   photonix-sync-queue  hash: decimal id -> raw queue payload
//   photonix-sync-queue:next-id  counter for queue ids

const (
	redisSeqSuffix      = ":seq"
	redisQueueKey       = tier.StorePrefix + "sync-queue"
	redisQueueCounter   = redisQueueKey + ":next-id"
	redisScanBatchCount = 100
)

// RedisBackend stores tiers as Redis hashes, one hash per tier store name.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Redis-backed store.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{client: client}
}

// Open returns a handle to the named tier store. Redis hashes materialize on
// first write, so Open never fails for a fresh name.
func (b *RedisBackend) Open(_ context.Context, name string) (Tier, error) {
	if name == "" {
		return nil, fmt.Errorf("tier store name cannot be empty")
	}
	return &redisTier{client: b.client, name: name}, nil
}

// DeleteTier removes the tier hash and its sequence counter.
func (b *RedisBackend) DeleteTier(ctx context.Context, name string) error {
	if err := b.client.Del(ctx, name, name+redisSeqSuffix).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del tier %s: %w", name, err)
	}
	return nil
}

// ListTierNames scans for engine-owned tier stores. Queue storage and
// sequence counters are excluded.
func (b *RedisBackend) ListTierNames(ctx context.Context) ([]string, error) {
	var names []string
	iter := b.client.Scan(ctx, 0, tier.StorePrefix+"*", redisScanBatchCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, redisSeqSuffix) {
			continue
		}
		if key == redisQueueKey || key == redisQueueCounter {
			continue
		}
		names = append(names, key)
	}
	if err := iter.Err(); err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis scan tier names: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Queue returns the Redis-backed offline queue store.
func (b *RedisBackend) Queue() QueueStore {
	return &redisQueue{client: b.client}
}

// Close closes the underlying Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisTier struct {
	client *redis.Client
	name   string
}

func (t *redisTier) Name() string { return t.name }

func (t *redisTier) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := t.client.HGet(ctx, t.name, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			Misses.WithLabelValues(t.name).Inc()
			return nil, ErrMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	Hits.WithLabelValues(t.name).Inc()

	// Bump LastAccess for LRU ordering. Best effort: a failed bump only
	// skews eviction order, it never affects the returned entry.
	entry.LastAccess = nowFunc()
	if bumped, err := json.Marshal(&entry); err == nil {
		_ = t.client.HSet(ctx, t.name, key, bumped).Err()
	}

	return &entry, nil
}

func (t *redisTier) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	// Preserve the insertion sequence across overwrites; assign a fresh
	// one only for new keys.
	prev, err := t.client.HGet(ctx, t.name, key).Bytes()
	switch {
	case err == nil:
		var old Entry
		if jsonErr := json.Unmarshal(prev, &old); jsonErr == nil {
			entry.Seq = old.Seq
		}
	case err == redis.Nil:
		seq, seqErr := t.client.Incr(ctx, t.name+redisSeqSuffix).Result()
		if seqErr != nil {
			StoreErrors.WithLabelValues("put").Inc()
			return fmt.Errorf("redis incr seq: %w", seqErr)
		}
		entry.Seq = uint64(seq)
	default:
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hget prior entry: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := t.client.HSet(ctx, t.name, key, data).Err(); err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (t *redisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.HDel(ctx, t.name, key).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

func (t *redisTier) Entries(ctx context.Context) ([]KeyedEntry, error) {
	raw, err := t.client.HGetAll(ctx, t.name).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	entries := make([]KeyedEntry, 0, len(raw))
	for key, data := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// Undecodable entries are unreachable via Get anyway;
			// skip them here, eviction cannot order them.
			continue
		}
		entries = append(entries, KeyedEntry{Key: key, Entry: &entry})
	}
	return entries, nil
}

func (t *redisTier) Len(ctx context.Context) (int, error) {
	n, err := t.client.HLen(ctx, t.name).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

func (t *redisTier) Clear(ctx context.Context) error {
	if err := t.client.Del(ctx, t.name).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type redisQueue struct {
	client *redis.Client
}

func (q *redisQueue) Append(ctx context.Context, data []byte) (uint64, error) {
	id, err := q.client.Incr(ctx, redisQueueCounter).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr queue id: %w", err)
	}
	field := strconv.FormatUint(uint64(id), 10)
	if err := q.client.HSet(ctx, redisQueueKey, field, data).Err(); err != nil {
		return 0, fmt.Errorf("redis hset queue item: %w", err)
	}
	return uint64(id), nil
}

func (q *redisQueue) Items(ctx context.Context) ([]QueueItem, error) {
	raw, err := q.client.HGetAll(ctx, redisQueueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall queue: %w", err)
	}

	items := make([]QueueItem, 0, len(raw))
	for field, data := range raw {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		items = append(items, QueueItem{ID: id, Data: []byte(data)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (q *redisQueue) Remove(ctx context.Context, id uint64) error {
	n, err := q.client.HDel(ctx, redisQueueKey, strconv.FormatUint(id, 10)).Result()
	if err != nil {
		return fmt.Errorf("redis hdel queue item: %w", err)
	}
	if n == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}

func (q *redisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.HLen(ctx, redisQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen queue: %w", err)
	}
	return int(n), nil
}
