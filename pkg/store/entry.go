package store

import (
	"net/http"
	"time"
)

// nowFunc is swapped out in tests to control LRU timestamps.
var nowFunc = time.Now

// Entry is one cached response. Entries are marshalled to JSON and written as
// a single value, so a write either lands completely or not at all.
type Entry struct {
	// Data is the full response body. Partial bodies are never stored.
	Data []byte `json:"data"`

	// StatusCode is the HTTP status of the cached response.
	StatusCode int `json:"status_code"`

	// Headers are the response headers as received.
	Headers http.Header `json:"headers"`

	// StoredAt is when the entry was first written.
	StoredAt time.Time `json:"stored_at"`

	// LastAccess is updated on every read and drives LRU ordering.
	LastAccess time.Time `json:"last_access"`

	// Seq is the tier-local insertion sequence, assigned by the backend on
	// first write. Breaks LastAccess ties during eviction, oldest first.
	Seq uint64 `json:"seq"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// KeyedEntry pairs an entry with its key for tier enumeration.
type KeyedEntry struct {
	Key   string
	Entry *Entry
}

// QueueItem is one raw record of the offline sync queue store. The queue
// package owns the payload encoding; backends only assign IDs and keep order.
type QueueItem struct {
	ID   uint64
	Data []byte
}
