package router

import (
	"net/http"
	"path"
	"strings"

	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// Policy is the serving strategy selected for one request.
type Policy int

const (
	// PolicyNetworkOnly goes straight to the origin and never touches any
	// tier. Auth and live-settings endpoints always land here, as does
	// every unrecognized path.
	PolicyNetworkOnly Policy = iota

	// PolicyNetworkFirst tries the origin first, writes successes through
	// to the tier asynchronously, and falls back to the stored entry (or a
	// synthesized 503) on network failure.
	PolicyNetworkFirst

	// PolicyCacheFirst returns a stored entry immediately and refreshes it
	// in the background (stale-while-revalidate). A miss waits on the
	// network.
	PolicyCacheFirst

	// PolicyBypass is network-only for byte-range and streaming requests.
	// Partial responses must never be cached.
	PolicyBypass
)

// String returns the policy name used in logs and metrics labels.
func (p Policy) String() string {
	switch p {
	case PolicyNetworkOnly:
		return "network-only"
	case PolicyNetworkFirst:
		return "network-first"
	case PolicyCacheFirst:
		return "cache-first"
	case PolicyBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one request. Tier is only
// meaningful for policies that read or write a tier.
type Decision struct {
	Policy Policy
	Tier   tier.Tier
}

// staticExtensions are build artifacts and app-shell resources served
// network-first into the static tier.
var staticExtensions = map[string]bool{
	".html": true, ".js": true, ".mjs": true, ".css": true,
	".woff": true, ".woff2": true, ".ico": true, ".svg": true,
	".json": true, ".webmanifest": true,
}

// mediaExtensions are full-size gallery assets served cache-first.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".gif": true, ".avif": true, ".bmp": true, ".mp4": true,
	".webm": true, ".mov": true,
}

// streamingExtensions mark HLS/DASH manifests and segments. These arrive in
// pieces; caching any one of them would pair a partial body with a prior
// full entry's Content-Length.
var streamingExtensions = map[string]bool{
	".m3u8": true, ".ts": true, ".mpd": true, ".m4s": true,
}

// Classify selects exactly one serving policy for a request.
func Classify(req *http.Request) Decision {
	// Byte-range and streaming requests always bypass, regardless of tier.
	if req.Header.Get("Range") != "" {
		return Decision{Policy: PolicyBypass}
	}

	p := req.URL.Path
	ext := strings.ToLower(path.Ext(p))
	if streamingExtensions[ext] {
		return Decision{Policy: PolicyBypass}
	}

	// Stale authorization state must never be served.
	if strings.HasPrefix(p, "/auth/") || p == "/auth" || p == "/settings" {
		return Decision{Policy: PolicyNetworkOnly}
	}

	// API surface: search and browse are network-first with a short-lived
	// fallback tier; only GETs are ever cached, POSTs pass through.
	if matchesAPI(p) {
		if req.Method != http.MethodGet {
			return Decision{Policy: PolicyNetworkOnly}
		}
		if isThumbnailPath(p) {
			return Decision{Policy: PolicyCacheFirst, Tier: tier.ThumbnailAssets}
		}
		return Decision{Policy: PolicyNetworkFirst, Tier: tier.APIResponses}
	}

	if req.Method != http.MethodGet {
		return Decision{Policy: PolicyNetworkOnly}
	}

	// Page navigations refresh the app shell in the static tier.
	if isNavigation(req) {
		return Decision{Policy: PolicyNetworkFirst, Tier: tier.StaticAssets}
	}

	if mediaExtensions[ext] {
		return Decision{Policy: PolicyCacheFirst, Tier: tier.MediaAssets}
	}

	if staticExtensions[ext] {
		return Decision{Policy: PolicyNetworkFirst, Tier: tier.StaticAssets}
	}

	// Unrecognized path: the conservative default risks a wasted fetch,
	// never incorrect caching.
	return Decision{Policy: PolicyNetworkOnly}
}

func matchesAPI(p string) bool {
	trimmed := strings.TrimPrefix(p, "/api")
	return strings.HasPrefix(trimmed, "/search") ||
		strings.HasPrefix(trimmed, "/browse/") || trimmed == "/browse" ||
		isThumbnailPath(p)
}

func isThumbnailPath(p string) bool {
	trimmed := strings.TrimPrefix(p, "/api")
	return strings.HasPrefix(trimmed, "/thumbnail")
}

// isNavigation reports whether the request is a page navigation rather than
// a subresource fetch. Browsers mark navigations with Sec-Fetch-Mode; the
// Accept header is the fallback signal.
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// QueueKind maps a deferred mutating request to its offline queue kind.
func QueueKind(p string) string {
	trimmed := strings.TrimPrefix(p, "/api")
	switch {
	case strings.HasPrefix(trimmed, "/search"):
		return syncqueue.KindSearchRetry
	case strings.Contains(trimmed, "/caption"):
		return syncqueue.KindAICaptionSubmit
	default:
		return syncqueue.KindRequestRetry
	}
}
