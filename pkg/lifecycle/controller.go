// Package lifecycle orchestrates the engine's install, activation, purge and
// wake phases: pre-populating the static tier, sweeping stale-version tiers,
// and triggering offline queue drains.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/router"
	"github.com/li88iioo/photonix-edge-cache/pkg/store"
	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// SyncEvent is the named wake event that triggers an offline queue drain.
const SyncEvent = "sync-gallery-requests"

// Config holds the controller configuration.
type Config struct {
	// Backend provides the tier stores.
	Backend store.Backend

	// Manifest is the precache manifest of the current deployment. The
	// build version derives from it.
	Manifest []tier.ManifestEntry

	// Policies is the per-tier capacity table.
	Policies map[tier.Tier]tier.Policy

	// Enforcer runs the activation eviction pass.
	Enforcer *store.Enforcer

	// Queue is drained on the sync wake event. Optional.
	Queue *syncqueue.Queue

	// Origin and HTTPClient fetch manifest assets during install.
	Origin     *url.URL
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Controller drives the engine through its lifecycle phases.
type Controller struct {
	backend  store.Backend
	version  tier.BuildVersion
	manifest []tier.ManifestEntry
	tiers    map[tier.Tier]store.Tier
	policies map[tier.Tier]tier.Policy
	enforcer *store.Enforcer
	queue    *syncqueue.Queue
	origin   *url.URL
	client   *http.Client
	logger   zerolog.Logger
}

// New creates a controller and opens the current version's tier handles.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("store backend is required")
	}
	if cfg.Enforcer == nil {
		return nil, fmt.Errorf("eviction enforcer is required")
	}
	if cfg.Policies == nil {
		cfg.Policies = tier.DefaultPolicies()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	version := tier.ComputeVersion(cfg.Manifest)

	tiers := make(map[tier.Tier]store.Tier, len(tier.All))
	for _, t := range tier.All {
		handle, err := cfg.Backend.Open(ctx, t.StoreName(version))
		if err != nil {
			return nil, fmt.Errorf("open tier %s: %w", t, err)
		}
		tiers[t] = handle
	}

	return &Controller{
		backend:  cfg.Backend,
		version:  version,
		manifest: cfg.Manifest,
		tiers:    tiers,
		policies: cfg.Policies,
		enforcer: cfg.Enforcer,
		queue:    cfg.Queue,
		origin:   cfg.Origin,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

// Version returns the build version computed from the manifest.
func (c *Controller) Version() tier.BuildVersion {
	return c.version
}

// Tiers returns the open tier handles for the current version.
func (c *Controller) Tiers() map[tier.Tier]store.Tier {
	return c.tiers
}

// Install pre-populates the static tier from the precache manifest. Fetch
// failures for individual assets are logged and skipped; they will be cached
// on first use instead.
func (c *Controller) Install(ctx context.Context) error {
	if c.origin == nil {
		return fmt.Errorf("origin URL is required for install")
	}

	static := c.tiers[tier.StaticAssets]
	fetched := 0
	for _, asset := range c.manifest {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.precacheAsset(ctx, static, asset.Path); err != nil {
			c.logger.Warn().Err(err).Str("path", asset.Path).
				Msg("Precache fetch failed, asset will be cached on first use")
			continue
		}
		fetched++
	}

	c.logger.Info().
		Str("version", string(c.version)).
		Int("fetched", fetched).
		Int("manifest_size", len(c.manifest)).
		Msg("Install completed")
	return nil
}

func (c *Controller) precacheAsset(ctx context.Context, static store.Tier, assetPath string) error {
	target := *c.origin
	target.Path = assetPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build precache request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("asset fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read asset body: %w", err)
	}

	now := time.Now()
	key := router.Key(http.MethodGet, &url.URL{Path: assetPath})
	return static.Put(ctx, key, &store.Entry{
		Data:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		StoredAt:   now,
		LastAccess: now,
	})
}

// Activate deletes every engine-owned tier store whose version suffix is not
// current, then runs an eviction pass over the current tiers. After this, no
// request can be served bytes from a previous deployment's asset graph.
func (c *Controller) Activate(ctx context.Context) error {
	names, err := c.backend.ListTierNames(ctx)
	if err != nil {
		return fmt.Errorf("list tier stores: %w", err)
	}

	deleted := 0
	for _, name := range names {
		if !tier.BelongsToEngine(name) || tier.IsCurrentVersion(name, c.version) {
			continue
		}
		if err := c.backend.DeleteTier(ctx, name); err != nil {
			c.logger.Warn().Err(err).Str("store", name).
				Msg("Failed to delete stale tier store")
			continue
		}
		deleted++
		c.logger.Info().Str("store", name).Msg("Deleted stale-version tier store")
	}

	for t, handle := range c.tiers {
		if _, err := c.enforcer.Enforce(ctx, handle, c.policies[t]); err != nil {
			c.logger.Warn().Err(err).Str("tier", t.String()).
				Msg("Activation eviction pass failed")
		}
	}

	c.logger.Info().
		Str("version", string(c.version)).
		Int("stale_deleted", deleted).
		Msg("Activation completed")
	return nil
}

// Purge handles the manual-refresh control signal: the api and thumbnail
// tiers are cleared immediately, independent of the eviction schedule.
func (c *Controller) Purge(ctx context.Context) error {
	for _, t := range []tier.Tier{tier.APIResponses, tier.ThumbnailAssets} {
		if err := c.tiers[t].Clear(ctx); err != nil {
			return fmt.Errorf("clear tier %s: %w", t, err)
		}
		c.logger.Info().Str("tier", t.String()).Msg("Tier purged on manual refresh")
	}
	return nil
}

// Wake handles a named platform wake event. The sync event drains the
// offline queue; unknown events are ignored.
func (c *Controller) Wake(ctx context.Context, event string) (int, error) {
	if event != SyncEvent || c.queue == nil {
		c.logger.Debug().Str("event", event).Msg("Ignoring wake event")
		return 0, nil
	}

	applied, err := c.queue.Drain(ctx)
	if err != nil {
		return applied, fmt.Errorf("drain offline queue: %w", err)
	}
	c.logger.Info().Int("applied", applied).Msg("Wake drain completed")
	return applied, nil
}
