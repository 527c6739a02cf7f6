// Command edge-cache runs the gallery caching proxy: it classifies every
// request into a serving policy, serves from versioned tier stores where
// allowed, and queues mutating requests that cannot reach the origin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/config"
	"github.com/li88iioo/photonix-edge-cache/pkg/connectivity"
	"github.com/li88iioo/photonix-edge-cache/pkg/lifecycle"
	"github.com/li88iioo/photonix-edge-cache/pkg/logging"
	"github.com/li88iioo/photonix-edge-cache/pkg/router"
	"github.com/li88iioo/photonix-edge-cache/pkg/store"
	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "edge-cache exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})

	origin, err := cfg.Origin()
	if err != nil {
		return err
	}

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("origin", origin.String()).
		Str("store_backend", cfg.StoreBackend).
		Msg("Loaded configuration")

	backend, err := store.New(store.Options{
		Backend:   cfg.StoreBackend,
		BoltPath:  cfg.BoltPath,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		return fmt.Errorf("open store backend: %w", err)
	}
	defer backend.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := fetchManifest(ctx, httpClient, origin.String(), cfg.ManifestPath, logger)
	if err != nil {
		return err
	}

	tracker := connectivity.NewTracker(logging.NewLogger("connectivity"))
	queue := syncqueue.New(backend.Queue(),
		router.NewReplayer(httpClient, origin, logging.NewLogger("replay")),
		logging.NewLogger("syncqueue"))
	enforcer := store.NewEnforcer(logging.NewLogger("eviction"))

	controller, err := lifecycle.New(ctx, lifecycle.Config{
		Backend:    backend,
		Manifest:   manifest,
		Policies:   cfg.TierPolicies(),
		Enforcer:   enforcer,
		Queue:      queue,
		Origin:     origin,
		HTTPClient: httpClient,
		Logger:     logging.NewLogger("lifecycle"),
	})
	if err != nil {
		return fmt.Errorf("create lifecycle controller: %w", err)
	}

	logger.Info().Str("version", string(controller.Version())).Msg("Cache build version computed")

	// Install precaches the manifest, activation sweeps stale versions.
	if len(manifest) > 0 {
		if err := controller.Install(ctx); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}
	if err := controller.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	pool := router.NewPool(cfg.BackgroundWorkers, cfg.BackgroundWorkers*16, logging.NewLogger("pool"))
	defer pool.Close()

	rt, err := router.New(router.Config{
		Origin:            origin,
		HTTPClient:        httpClient,
		Tiers:             controller.Tiers(),
		Policies:          cfg.TierPolicies(),
		Enforcer:          enforcer,
		Queue:             queue,
		Connectivity:      tracker,
		Pool:              pool,
		MaxCacheableBytes: cfg.MaxCacheableBytes,
		Retry:             router.DefaultRetryConfig(),
		Logger:            logging.NewLogger("router"),
	})
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	// Reconnects trigger an immediate queue drain.
	tracker.OnReconnect(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := controller.Wake(drainCtx, lifecycle.SyncEvent); err != nil {
			logger.Warn().Err(err).Msg("Reconnect drain failed")
		}
	})

	// Periodic drain catches entries queued while no reconnect fired.
	if cfg.SyncInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := controller.Wake(ctx, lifecycle.SyncEvent); err != nil && ctx.Err() == nil {
						logger.Warn().Err(err).Msg("Periodic drain failed")
					}
				}
			}
		}()
	}

	mux := newServeMux(rt, controller, queue, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Starting edge cache proxy")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}

// newServeMux wires the control surface and the proxy catch-all.
func newServeMux(rt *router.Router, controller *lifecycle.Controller, queue *syncqueue.Queue, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	// Manual refresh: clear the short-lived tiers so the next requests
	// re-fetch. The media and static tiers keep their entries.
	r.Post("/-/purge", func(w http.ResponseWriter, req *http.Request) {
		if err := controller.Purge(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Explicit drain trigger for the offline queue.
	r.Post("/-/sync", func(w http.ResponseWriter, req *http.Request) {
		applied, err := controller.Wake(req.Context(), lifecycle.SyncEvent)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"applied": applied})
	})

	r.Get("/-/queue", func(w http.ResponseWriter, req *http.Request) {
		pending, err := queue.ListPending(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type queuedView struct {
			ID         uint64    `json:"id"`
			Kind       string    `json:"kind"`
			EnqueuedAt time.Time `json:"enqueued_at"`
		}
		views := make([]queuedView, 0, len(pending))
		for _, p := range pending {
			views = append(views, queuedView{ID: p.ID, Kind: p.Kind, EnqueuedAt: p.EnqueuedAt})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	})

	r.Handle("/*", proxyHandler(rt, logger))
	return r
}

// proxyHandler routes every gallery request through its serving policy.
func proxyHandler(rt *router.Router, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp, err := rt.Handle(req)
		if err != nil {
			// Only context cancellation reaches here; everything else is
			// answered with a fallback or synthesized response.
			logger.Debug().Err(err).Str("path", req.URL.Path).Msg("Request aborted")
			return
		}
		defer resp.Body.Close()

		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Debug().Err(err).Str("path", req.URL.Path).Msg("Response copy interrupted")
		}
	}
}

// fetchManifest loads the precache manifest from the origin. A missing or
// unreachable manifest downgrades to an empty one; precaching is an
// optimization, not a requirement.
func fetchManifest(ctx context.Context, client *http.Client, origin, manifestPath string, logger zerolog.Logger) ([]tier.ManifestEntry, error) {
	if manifestPath == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+manifestPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("Manifest fetch failed, continuing without precache")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("Manifest fetch failed, continuing without precache")
		return nil, nil
	}

	var manifest []tier.ManifestEntry
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	logger.Info().Int("assets", len(manifest)).Msg("Loaded precache manifest")
	return manifest, nil
}
