package integration

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/li88iioo/photonix-edge-cache/internal/testutil"
	"github.com/li88iioo/photonix-edge-cache/pkg/connectivity"
	"github.com/li88iioo/photonix-edge-cache/pkg/lifecycle"
	"github.com/li88iioo/photonix-edge-cache/pkg/router"
	"github.com/li88iioo/photonix-edge-cache/pkg/store"
	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

type engine struct {
	router     *router.Router
	controller *lifecycle.Controller
	queue      *syncqueue.Queue
	backend    store.Backend
}

func setupEngine(t *testing.T, backend store.Backend, origin *testutil.MockOrigin, manifest []tier.ManifestEntry) *engine {
	t.Helper()

	originURL, err := url.Parse(origin.URL())
	if err != nil {
		t.Fatalf("parse origin URL: %v", err)
	}

	httpClient := &http.Client{Timeout: 2 * time.Second}
	queue := syncqueue.New(backend.Queue(),
		router.NewReplayer(httpClient, originURL, zerolog.Nop()), zerolog.Nop())
	enforcer := store.NewEnforcer(zerolog.Nop())

	controller, err := lifecycle.New(context.Background(), lifecycle.Config{
		Backend:    backend,
		Manifest:   manifest,
		Enforcer:   enforcer,
		Queue:      queue,
		Origin:     originURL,
		HTTPClient: httpClient,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("lifecycle.New failed: %v", err)
	}

	pool := router.NewPool(2, 16, zerolog.Nop())
	t.Cleanup(pool.Close)

	rt, err := router.New(router.Config{
		Origin:       originURL,
		HTTPClient:   httpClient,
		Tiers:        controller.Tiers(),
		Enforcer:     enforcer,
		Queue:        queue,
		Connectivity: connectivity.NewTracker(zerolog.Nop()),
		Pool:         pool,
		Retry: router.RetryConfig{
			MaxAttempts:       1,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1.0,
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("router.New failed: %v", err)
	}

	return &engine{router: rt, controller: controller, queue: queue, backend: backend}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// TestFullRequestFlowRedis exercises the complete flow against a real Redis
// backend: classify, fetch from origin, write through, then serve the stored
// entry once the origin goes away.
func TestFullRequestFlowRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	backend := store.NewRedisBackend(redisClient)
	defer backend.Close()

	eng := setupEngine(t, backend, origin, nil)
	ctx := context.Background()

	// First request hits the origin and writes through.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://gallery.local/api/search?q=sunset", nil)
	resp, err := eng.router.Handle(req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	key := router.Key(http.MethodGet, req.URL)
	apiTier := eng.controller.Tiers()[tier.APIResponses]
	if !waitFor(t, 3*time.Second, func() bool {
		_, err := apiTier.Get(ctx, key)
		return err == nil
	}) {
		t.Fatal("response never written through to Redis")
	}

	// Origin down: the stored entry must be served.
	origin.Close()

	req2, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://gallery.local/api/search?q=sunset", nil)
	resp2, err := eng.router.Handle(req2)
	if err != nil {
		t.Fatalf("fallback Handle failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Cache") != "hit" {
		t.Error("fallback response not served from Redis tier")
	}
}

// TestOfflineQueueSurvivesBackendRoundTrip verifies queued mutations persist
// in Redis and replay once the origin is reachable.
func TestOfflineQueueSurvivesBackendRoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	downOrigin := testutil.NewMockOrigin()
	backend := store.NewRedisBackend(redisClient)
	defer backend.Close()

	eng := setupEngine(t, backend, downOrigin, nil)
	downOrigin.Close()
	ctx := context.Background()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://gallery.local/api/photos/1/caption", nil)
	resp, err := eng.router.Handle(req)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 queued", resp.StatusCode)
	}

	// A fresh queue over the same Redis simulates a restart.
	upOrigin := testutil.NewMockOrigin()
	defer upOrigin.Close()
	upOrigin.SetResponse("/api/photos/1/caption",
		testutil.NewJSONResponse(http.StatusOK, map[string]string{"status": "ok"}))

	upURL, _ := url.Parse(upOrigin.URL())
	queue := syncqueue.New(backend.Queue(),
		router.NewReplayer(&http.Client{Timeout: 2 * time.Second}, upURL, zerolog.Nop()), zerolog.Nop())

	applied, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("Drain applied %d entries, want 1", applied)
	}
	if upOrigin.RequestCount("/api/photos/1/caption") != 1 {
		t.Errorf("origin saw %d replays, want 1", upOrigin.RequestCount("/api/photos/1/caption"))
	}
}

// TestVersionSweepRedis verifies activation deletes a previous deployment's
// tier stores from Redis while leaving the current version intact.
func TestVersionSweepRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	origin := testutil.NewMockOrigin()
	defer origin.Close()
	backend := store.NewRedisBackend(redisClient)
	defer backend.Close()
	ctx := context.Background()

	// Seed stores for a previous deployment.
	oldVersion := tier.ComputeVersion([]tier.ManifestEntry{{Path: "/index.html", ContentHash: "old"}})
	now := time.Now()
	for _, tr := range tier.All {
		handle, err := backend.Open(ctx, tr.StoreName(oldVersion))
		if err != nil {
			t.Fatalf("Open old tier failed: %v", err)
		}
		if err := handle.Put(ctx, "req:GET:/stale", &store.Entry{
			Data: []byte("old"), StatusCode: 200, StoredAt: now, LastAccess: now,
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	manifest := []tier.ManifestEntry{{Path: "/index.html", ContentHash: "new"}}
	eng := setupEngine(t, backend, origin, manifest)

	if err := eng.controller.Activate(ctx); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	names, err := backend.ListTierNames(ctx)
	if err != nil {
		t.Fatalf("ListTierNames failed: %v", err)
	}
	for _, name := range names {
		if tier.BelongsToEngine(name) && !tier.IsCurrentVersion(name, eng.controller.Version()) {
			t.Errorf("stale store %q survived activation", name)
		}
	}
}
