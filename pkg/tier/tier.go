// Package tier defines the cache partitions of the edge cache engine and the
// deterministic build version used to invalidate them wholesale.
package tier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StorePrefix marks every store name owned by this engine. Activation only
// deletes stores carrying this prefix, so consumer data sharing the same
// storage backend is never touched.
const StorePrefix = "photonix-"

// Tier is a cache partition for one class of resource. Each tier is bounded
// independently and versioned independently of the others.
type Tier int

const (
	// StaticAssets holds the app shell and build artifacts (scripts, styles).
	StaticAssets Tier = iota

	// APIResponses holds short-lived search and browse results.
	APIResponses

	// MediaAssets holds full-size photo and video responses.
	MediaAssets

	// ThumbnailAssets holds thumbnail responses, including 202 placeholders.
	ThumbnailAssets
)

// All lists every tier in declaration order.
var All = []Tier{StaticAssets, APIResponses, MediaAssets, ThumbnailAssets}

// String returns the stable tier name used in store names and metrics labels.
func (t Tier) String() string {
	switch t {
	case StaticAssets:
		return "static"
	case APIResponses:
		return "api"
	case MediaAssets:
		return "media"
	case ThumbnailAssets:
		return "thumbs"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// StoreName composes the durable store name for this tier under the given
// build version. Format: photonix-{tier}-{version}.
func (t Tier) StoreName(version BuildVersion) string {
	return fmt.Sprintf("%s%s-%s", StorePrefix, t, version)
}

// Policy bounds a tier: at most MaxEntries entries, none older than MaxAge.
type Policy struct {
	MaxEntries int
	MaxAge     time.Duration
}

// DefaultPolicies returns the per-tier capacity table.
func DefaultPolicies() map[Tier]Policy {
	return map[Tier]Policy{
		StaticAssets:    {MaxEntries: 128, MaxAge: 30 * 24 * time.Hour},
		APIResponses:    {MaxEntries: 64, MaxAge: 24 * time.Hour},
		MediaAssets:     {MaxEntries: 100, MaxAge: 30 * 24 * time.Hour},
		ThumbnailAssets: {MaxEntries: 500, MaxAge: 14 * 24 * time.Hour},
	}
}

// BuildVersion is a short deterministic fingerprint of the deployed asset set.
// Two deployments with identical asset content produce the same version; any
// asset change produces a different one.
type BuildVersion string

// ManifestEntry is one precache manifest item: an asset path and the hash of
// its content as produced by the build pipeline.
type ManifestEntry struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// versionLen is the number of hex characters kept from the fingerprint.
// 16 hex chars (64 bits) is plenty for distinguishing deployments.
const versionLen = 16

// ComputeVersion derives the build version from the precache manifest.
// Entries are sorted by path before hashing so manifest order is irrelevant.
func ComputeVersion(manifest []ManifestEntry) BuildVersion {
	sorted := make([]ManifestEntry, len(manifest))
	copy(sorted, manifest)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s\x00%s\x00", e.Path, e.ContentHash)
	}
	return BuildVersion(hex.EncodeToString(h.Sum(nil))[:versionLen])
}

// BelongsToEngine reports whether a store name follows this engine's naming
// convention.
func BelongsToEngine(storeName string) bool {
	return strings.HasPrefix(storeName, StorePrefix)
}

// IsCurrentVersion reports whether a store name carries the given build
// version suffix.
func IsCurrentVersion(storeName string, version BuildVersion) bool {
	return strings.HasSuffix(storeName, "-"+string(version))
}
