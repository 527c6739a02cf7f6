package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/internal/testutil"
	"github.com/li88iioo/photonix-edge-cache/pkg/router"
	"github.com/li88iioo/photonix-edge-cache/pkg/store"
	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

func setupBackend(t *testing.T) store.Backend {
	t.Helper()
	backend, err := store.OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func newController(t *testing.T, backend store.Backend, origin *testutil.MockOrigin, manifest []tier.ManifestEntry) *Controller {
	t.Helper()

	cfg := Config{
		Backend:  backend,
		Manifest: manifest,
		Enforcer: store.NewEnforcer(zerolog.Nop()),
		Logger:   zerolog.Nop(),
	}
	if origin != nil {
		originURL, err := url.Parse(origin.URL())
		if err != nil {
			t.Fatalf("parse origin URL: %v", err)
		}
		cfg.Origin = originURL
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

var testManifest = []tier.ManifestEntry{
	{Path: "/index.html", ContentHash: "aaa111"},
	{Path: "/assets/app.js", ContentHash: "bbb222"},
	{Path: "/assets/app.css", ContentHash: "ccc333"},
}

func TestNewOpensAllTiers(t *testing.T) {
	backend := setupBackend(t)
	c := newController(t, backend, nil, testManifest)

	if c.Version() == "" {
		t.Error("Version() is empty")
	}
	tiers := c.Tiers()
	for _, tr := range tier.All {
		handle, ok := tiers[tr]
		if !ok || handle == nil {
			t.Errorf("tier %s has no open handle", tr)
			continue
		}
		want := tr.StoreName(c.Version())
		if handle.Name() != want {
			t.Errorf("tier %s handle name = %q, want %q", tr, handle.Name(), want)
		}
	}
}

func TestInstallPrecachesManifest(t *testing.T) {
	backend := setupBackend(t)
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/index.html", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<!doctype html>",
		Headers:    map[string]string{"Content-Type": "text/html"},
	})
	origin.SetResponse("/assets/app.js", testutil.MockResponse{StatusCode: http.StatusOK, Body: "console.log(1)"})
	origin.SetResponse("/assets/app.css", testutil.MockResponse{StatusCode: http.StatusOK, Body: "body{}"})

	c := newController(t, backend, origin, testManifest)
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	static := c.Tiers()[tier.StaticAssets]
	for _, asset := range testManifest {
		key := router.Key(http.MethodGet, &url.URL{Path: asset.Path})
		entry, err := static.Get(context.Background(), key)
		if err != nil {
			t.Errorf("manifest asset %s not precached: %v", asset.Path, err)
			continue
		}
		if entry.StatusCode != http.StatusOK {
			t.Errorf("precached %s with status %d", asset.Path, entry.StatusCode)
		}
	}
}

func TestInstallSkipsFailedAssets(t *testing.T) {
	backend := setupBackend(t)
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/index.html", testutil.MockResponse{StatusCode: http.StatusOK, Body: "<!doctype html>"})
	origin.SetResponse("/assets/app.js", testutil.NewErrorResponse(http.StatusInternalServerError, "boom"))
	origin.SetResponse("/assets/app.css", testutil.MockResponse{StatusCode: http.StatusOK, Body: "body{}"})

	c := newController(t, backend, origin, testManifest)
	if err := c.Install(context.Background()); err != nil {
		t.Fatalf("Install must not fail on individual asset errors: %v", err)
	}

	static := c.Tiers()[tier.StaticAssets]
	n, err := static.Len(context.Background())
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 2 {
		t.Errorf("static tier holds %d entries, want 2 (failed asset skipped)", n)
	}
}

func TestActivateDeletesStaleVersions(t *testing.T) {
	backend := setupBackend(t)
	ctx := context.Background()

	// Simulate a previous deployment's tier stores.
	oldManifest := []tier.ManifestEntry{{Path: "/index.html", ContentHash: "old000"}}
	oldVersion := tier.ComputeVersion(oldManifest)
	for _, tr := range tier.All {
		handle, err := backend.Open(ctx, tr.StoreName(oldVersion))
		if err != nil {
			t.Fatalf("Open old tier failed: %v", err)
		}
		now := time.Now()
		if err := handle.Put(ctx, "req:GET:/stale", &store.Entry{
			Data: []byte("old"), StatusCode: 200, StoredAt: now, LastAccess: now,
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// A store outside the engine prefix must survive activation.
	foreign, err := backend.Open(ctx, "someone-elses-data")
	if err != nil {
		t.Fatalf("Open foreign store failed: %v", err)
	}
	now := time.Now()
	if err := foreign.Put(ctx, "k", &store.Entry{Data: []byte("keep"), StatusCode: 200, StoredAt: now, LastAccess: now}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	c := newController(t, backend, nil, testManifest)
	if err := c.Activate(ctx); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	names, err := backend.ListTierNames(ctx)
	if err != nil {
		t.Fatalf("ListTierNames failed: %v", err)
	}
	for _, name := range names {
		if tier.BelongsToEngine(name) && !tier.IsCurrentVersion(name, c.Version()) {
			t.Errorf("stale-version store %q survived activation", name)
		}
	}

	// Foreign store untouched.
	if _, err := foreign.Get(ctx, "k"); err != nil {
		t.Errorf("foreign store entry lost during activation: %v", err)
	}
}

func TestActivateIdempotent(t *testing.T) {
	backend := setupBackend(t)
	c := newController(t, backend, nil, testManifest)

	ctx := context.Background()
	if err := c.Activate(ctx); err != nil {
		t.Fatalf("first Activate failed: %v", err)
	}
	if err := c.Activate(ctx); err != nil {
		t.Fatalf("second Activate failed: %v", err)
	}
}

func TestPurgeClearsAPIAndThumbnailTiers(t *testing.T) {
	backend := setupBackend(t)
	c := newController(t, backend, nil, testManifest)
	ctx := context.Background()

	now := time.Now()
	entry := &store.Entry{Data: []byte("x"), StatusCode: 200, StoredAt: now, LastAccess: now}
	for _, tr := range tier.All {
		if err := c.Tiers()[tr].Put(ctx, "req:GET:/k", entry); err != nil {
			t.Fatalf("Put into %s failed: %v", tr, err)
		}
	}

	if err := c.Purge(ctx); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	wantLen := map[tier.Tier]int{
		tier.APIResponses:    0,
		tier.ThumbnailAssets: 0,
		tier.StaticAssets:    1,
		tier.MediaAssets:     1,
	}
	for tr, want := range wantLen {
		n, err := c.Tiers()[tr].Len(ctx)
		if err != nil {
			t.Fatalf("Len(%s) failed: %v", tr, err)
		}
		if n != want {
			t.Errorf("tier %s holds %d entries after purge, want %d", tr, n, want)
		}
	}
}

func TestWakeDrainsQueueOnSyncEvent(t *testing.T) {
	backend := setupBackend(t)
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/api/photos/1/caption", testutil.NewJSONResponse(http.StatusOK, map[string]string{"status": "ok"}))

	originURL, err := url.Parse(origin.URL())
	if err != nil {
		t.Fatalf("parse origin URL: %v", err)
	}
	queue := syncqueue.New(backend.Queue(),
		router.NewReplayer(&http.Client{Timeout: 2 * time.Second}, originURL, zerolog.Nop()), zerolog.Nop())

	ctx := context.Background()
	payload, _ := json.Marshal(router.ReplayPayload{
		Method: http.MethodPost,
		URL:    "/api/photos/1/caption",
	})
	if _, err := queue.Enqueue(ctx, syncqueue.KindAICaptionSubmit, payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	c, err := New(ctx, Config{
		Backend:  backend,
		Manifest: testManifest,
		Enforcer: store.NewEnforcer(zerolog.Nop()),
		Queue:    queue,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	applied, err := c.Wake(ctx, SyncEvent)
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("Wake applied %d entries, want 1", applied)
	}

	// Unknown events are a no-op.
	applied, err = c.Wake(ctx, "periodic-cleanup")
	if err != nil {
		t.Fatalf("Wake with unknown event failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("unknown event drained %d entries, want 0", applied)
	}
}

func TestInstallRequiresOrigin(t *testing.T) {
	backend := setupBackend(t)
	c := newController(t, backend, nil, testManifest)
	if err := c.Install(context.Background()); err == nil {
		t.Error("Install without an origin must fail")
	}
}
