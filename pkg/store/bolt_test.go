package store

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func setupBolt(t *testing.T) *BoltBackend {
	t.Helper()

	backend, err := OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func testEntry(body string) *Entry {
	return &Entry{
		Data:       []byte(body),
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		StoredAt:   time.Now().UTC().Truncate(time.Millisecond),
		LastAccess: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestBoltTier_RoundTrip(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, err := backend.Open(ctx, "photonix-api-v1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	entry := testEntry(`{"results":[1,2,3]}`)
	if err := handle.Put(ctx, "GET:/api/search?q=test", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := handle.Get(ctx, "GET:/api/search?q=test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", got.Data, entry.Data)
	}
	if got.StatusCode != entry.StatusCode {
		t.Errorf("StatusCode mismatch: got %d, want %d", got.StatusCode, entry.StatusCode)
	}
	if !reflect.DeepEqual(got.Headers, entry.Headers) {
		t.Errorf("Headers mismatch: got %v, want %v", got.Headers, entry.Headers)
	}
}

func TestBoltTier_Miss(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, err := backend.Open(ctx, "photonix-api-v1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = handle.Get(ctx, "GET:/api/nonexistent")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestBoltTier_GetBumpsLastAccess(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	handle, _ := backend.Open(ctx, "photonix-api-v1")
	entry := testEntry("body")
	entry.LastAccess = base.Add(-time.Hour)
	if err := handle.Put(ctx, "k", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	nowFunc = func() time.Time { return base.Add(time.Minute) }
	if _, err := handle.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	entries, err := handle.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if !entries[0].Entry.LastAccess.Equal(base.Add(time.Minute)) {
		t.Errorf("LastAccess not bumped: got %s", entries[0].Entry.LastAccess)
	}
}

func TestBoltTier_OverwriteKeepsSeq(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, _ := backend.Open(ctx, "photonix-api-v1")
	if err := handle.Put(ctx, "k", testEntry("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entries, _ := handle.Entries(ctx)
	firstSeq := entries[0].Entry.Seq

	if err := handle.Put(ctx, "k", testEntry("v2")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	entries, _ = handle.Entries(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", len(entries))
	}
	if entries[0].Entry.Seq != firstSeq {
		t.Errorf("Seq changed on overwrite: got %d, want %d", entries[0].Entry.Seq, firstSeq)
	}
	if string(entries[0].Entry.Data) != "v2" {
		t.Errorf("Data not replaced: got %s", entries[0].Entry.Data)
	}
}

func TestBoltTier_DeleteAbsentKey(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, _ := backend.Open(ctx, "photonix-api-v1")
	if err := handle.Delete(ctx, "never-stored"); err != nil {
		t.Errorf("deleting an absent key should not error: %v", err)
	}
}

func TestBoltTier_LenAndClear(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, _ := backend.Open(ctx, "photonix-thumbs-v1")
	for _, key := range []string{"a", "b", "c"} {
		if err := handle.Put(ctx, key, testEntry(key)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	n, err := handle.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}

	if err := handle.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	n, _ = handle.Len(ctx)
	if n != 0 {
		t.Errorf("Len after Clear = %d, want 0", n)
	}
}

func TestBoltBackend_ListTierNames(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	for _, name := range []string{"photonix-api-v1", "photonix-static-v1", "photonix-thumbs-v2"} {
		if _, err := backend.Open(ctx, name); err != nil {
			t.Fatalf("Open %s failed: %v", name, err)
		}
	}

	names, err := backend.ListTierNames(ctx)
	if err != nil {
		t.Fatalf("ListTierNames failed: %v", err)
	}

	want := []string{"photonix-api-v1", "photonix-static-v1", "photonix-thumbs-v2"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListTierNames = %v, want %v", names, want)
	}

	// The queue bucket always exists but must never be listed as a tier.
	for _, name := range names {
		if name == boltQueueBucket {
			t.Error("queue bucket listed as a tier store")
		}
	}
}

func TestBoltBackend_DeleteTier(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()

	handle, _ := backend.Open(ctx, "photonix-api-old")
	if err := handle.Put(ctx, "k", testEntry("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := backend.DeleteTier(ctx, "photonix-api-old"); err != nil {
		t.Fatalf("DeleteTier failed: %v", err)
	}

	names, _ := backend.ListTierNames(ctx)
	for _, name := range names {
		if name == "photonix-api-old" {
			t.Error("deleted tier still listed")
		}
	}

	// Deleting an absent tier is not an error.
	if err := backend.DeleteTier(ctx, "photonix-never-existed"); err != nil {
		t.Errorf("deleting an absent tier should not error: %v", err)
	}
}

func TestBoltQueue_FIFOAndRemove(t *testing.T) {
	backend := setupBolt(t)
	ctx := context.Background()
	queue := backend.Queue()

	idA, err := queue.Append(ctx, []byte("A"))
	if err != nil {
		t.Fatalf("Append A failed: %v", err)
	}
	idB, err := queue.Append(ctx, []byte("B"))
	if err != nil {
		t.Fatalf("Append B failed: %v", err)
	}
	if idB <= idA {
		t.Errorf("ids not monotonic: A=%d B=%d", idA, idB)
	}

	items, err := queue.Items(ctx)
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 2 || string(items[0].Data) != "A" || string(items[1].Data) != "B" {
		t.Fatalf("unexpected queue order: %v", items)
	}

	if err := queue.Remove(ctx, idA); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := queue.Remove(ctx, idA); !errors.Is(err, ErrQueueItemNotFound) {
		t.Errorf("expected ErrQueueItemNotFound on double remove, got %v", err)
	}

	n, _ := queue.Len(ctx)
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestBoltQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	backend, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	id, err := backend.Queue().Append(ctx, []byte("pending-upload"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	items, err := reopened.Queue().Items(ctx)
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != id || string(items[0].Data) != "pending-upload" {
		t.Errorf("queue item did not survive reopen: %v", items)
	}
}
