// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// Config is the full engine configuration.
type Config struct {
	// ListenAddr is the address the proxy listens on.
	ListenAddr string `env:"PHOTONIX_LISTEN_ADDR" envDefault:":8080"`

	// OriginURL is the gallery origin every request is proxied to.
	OriginURL string `env:"PHOTONIX_ORIGIN_URL,required,notEmpty"`

	// StoreBackend selects "bolt" or "redis".
	StoreBackend string `env:"PHOTONIX_STORE_BACKEND" envDefault:"bolt"`

	// BoltPath is the database file for the bolt backend.
	BoltPath string `env:"PHOTONIX_BOLT_PATH" envDefault:"edge-cache.db"`

	// RedisAddr is the host:port for the redis backend.
	RedisAddr string `env:"PHOTONIX_REDIS_ADDR" envDefault:"localhost:6379"`

	// ManifestPath is the origin path of the precache manifest, a JSON
	// array of {path, content_hash} objects produced by the build. Empty
	// disables install-time precaching and version sweeps.
	ManifestPath string `env:"PHOTONIX_MANIFEST_PATH" envDefault:""`

	// MaxCacheableBytes is the global ceiling above which a response is
	// never cached.
	MaxCacheableBytes int64 `env:"PHOTONIX_MAX_CACHEABLE_BYTES" envDefault:"10485760"`

	// BackgroundWorkers sizes the detached task pool.
	BackgroundWorkers int `env:"PHOTONIX_BACKGROUND_WORKERS" envDefault:"4"`

	// SyncInterval is the periodic wake for offline queue drains.
	// Zero disables the periodic wake; reconnect signals still drain.
	SyncInterval time.Duration `env:"PHOTONIX_SYNC_INTERVAL" envDefault:"5m"`

	LogLevel  string `env:"PHOTONIX_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"PHOTONIX_LOG_PRETTY" envDefault:"false"`

	// Per-tier bounds.
	StaticMaxEntries int           `env:"PHOTONIX_STATIC_MAX_ENTRIES" envDefault:"128"`
	StaticMaxAge     time.Duration `env:"PHOTONIX_STATIC_MAX_AGE" envDefault:"720h"`
	APIMaxEntries    int           `env:"PHOTONIX_API_MAX_ENTRIES" envDefault:"64"`
	APIMaxAge        time.Duration `env:"PHOTONIX_API_MAX_AGE" envDefault:"24h"`
	MediaMaxEntries  int           `env:"PHOTONIX_MEDIA_MAX_ENTRIES" envDefault:"100"`
	MediaMaxAge      time.Duration `env:"PHOTONIX_MEDIA_MAX_AGE" envDefault:"720h"`
	ThumbsMaxEntries int           `env:"PHOTONIX_THUMBS_MAX_ENTRIES" envDefault:"500"`
	ThumbsMaxAge     time.Duration `env:"PHOTONIX_THUMBS_MAX_AGE" envDefault:"336h"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Origin parses and validates the origin URL.
func (c Config) Origin() (*url.URL, error) {
	u, err := url.Parse(c.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin url must be http(s), got %q", c.OriginURL)
	}
	return u, nil
}

// TierPolicies builds the per-tier capacity table from the configured bounds.
func (c Config) TierPolicies() map[tier.Tier]tier.Policy {
	return map[tier.Tier]tier.Policy{
		tier.StaticAssets:    {MaxEntries: c.StaticMaxEntries, MaxAge: c.StaticMaxAge},
		tier.APIResponses:    {MaxEntries: c.APIMaxEntries, MaxAge: c.APIMaxAge},
		tier.MediaAssets:     {MaxEntries: c.MediaMaxEntries, MaxAge: c.MediaMaxAge},
		tier.ThumbnailAssets: {MaxEntries: c.ThumbsMaxEntries, MaxAge: c.ThumbsMaxAge},
	}
}
