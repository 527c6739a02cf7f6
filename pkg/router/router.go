// Package router classifies every intercepted gallery request into a serving
// policy and executes it against the tier stores and the origin.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/connectivity"
	"github.com/li88iioo/photonix-edge-cache/pkg/store"
	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
	"github.com/li88iioo/photonix-edge-cache/pkg/tier"
)

// Prometheus metrics for request routing.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_requests_total",
		Help: "Total routed requests by policy and outcome",
	}, []string{"policy", "outcome"}) // outcome: "origin", "cache_hit", "fallback", "queued", "unavailable"

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "photonix_request_duration_seconds",
		Help:    "Request duration in seconds by policy",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"policy"})

	backgroundRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_background_refresh_total",
		Help: "Total stale-while-revalidate refreshes by result",
	}, []string{"result"}) // "updated", "skipped", "failed"

	uncacheableDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_uncacheable_responses_total",
		Help: "Responses that passed through uncached by reason",
	}, []string{"reason"}) // "status", "partial", "method", "authorization", "size"
)

// DefaultMaxCacheableBytes is the global ceiling above which a response is
// never written to any tier.
const DefaultMaxCacheableBytes = 10 << 20 // 10 MiB

// Config holds the router configuration.
type Config struct {
	// Origin is the base URL all requests are proxied to.
	Origin *url.URL

	// HTTPClient performs origin requests. Defaults to a 30s-timeout client.
	HTTPClient *http.Client

	// Tiers maps each cache tier to its open store handle.
	Tiers map[tier.Tier]store.Tier

	// Policies is the per-tier capacity table used for post-write eviction.
	Policies map[tier.Tier]tier.Policy

	// Enforcer runs eviction passes after writes.
	Enforcer *store.Enforcer

	// Queue receives mutating requests that failed terminally. Optional;
	// without it such requests fail with a synthesized 503.
	Queue *syncqueue.Queue

	// Connectivity is fed with origin outcomes. Optional.
	Connectivity *connectivity.Tracker

	// Pool runs detached cache writes, refreshes and eviction passes.
	Pool *Pool

	// MaxCacheableBytes caps the size of any cached response body.
	// Defaults to DefaultMaxCacheableBytes.
	MaxCacheableBytes int64

	// BackgroundTimeout bounds each detached task. Defaults to 30s.
	BackgroundTimeout time.Duration

	// Retry configures origin retry behavior.
	Retry RetryConfig

	Logger zerolog.Logger
}

// Router executes one serving policy per intercepted request.
type Router struct {
	origin       *http.Client
	originURL    *url.URL
	tiers        map[tier.Tier]store.Tier
	policies     map[tier.Tier]tier.Policy
	enforcer     *store.Enforcer
	queue        *syncqueue.Queue
	connectivity *connectivity.Tracker
	pool         *Pool
	maxBytes     int64
	bgTimeout    time.Duration
	retryCfg     RetryConfig
	logger       zerolog.Logger
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if cfg.Origin == nil {
		return nil, fmt.Errorf("origin URL is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("at least one tier handle is required")
	}
	if cfg.Enforcer == nil {
		return nil, fmt.Errorf("eviction enforcer is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("worker pool is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxCacheableBytes <= 0 {
		cfg.MaxCacheableBytes = DefaultMaxCacheableBytes
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Policies == nil {
		cfg.Policies = tier.DefaultPolicies()
	}

	return &Router{
		origin:       httpClient,
		originURL:    cfg.Origin,
		tiers:        cfg.Tiers,
		policies:     cfg.Policies,
		enforcer:     cfg.Enforcer,
		queue:        cfg.Queue,
		connectivity: cfg.Connectivity,
		pool:         cfg.Pool,
		maxBytes:     cfg.MaxCacheableBytes,
		bgTimeout:    cfg.BackgroundTimeout,
		retryCfg:     cfg.Retry,
		logger:       cfg.Logger,
	}, nil
}

// Handle routes one intercepted request through its serving policy and
// returns a response. No engine failure ever blocks the caller: origin
// failures yield the cached fallback, a queued 202, or a synthesized 503.
func (r *Router) Handle(req *http.Request) (*http.Response, error) {
	decision := Classify(req)

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(decision.Policy.String()).Observe(time.Since(start).Seconds())
	}()

	r.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("policy", decision.Policy.String()).
		Msg("Routing request")

	switch decision.Policy {
	case PolicyCacheFirst:
		return r.cacheFirst(req, decision)
	case PolicyNetworkFirst:
		return r.networkFirst(req, decision)
	default:
		return r.passthrough(req, decision)
	}
}

// passthrough serves network-only and bypass requests. Mutating requests
// that fail at the network level are handed to the offline queue instead of
// failing the caller.
func (r *Router) passthrough(req *http.Request, decision Decision) (*http.Response, error) {
	var bodyCopy []byte
	if req.Body != nil && req.Method != http.MethodGet && req.Method != http.MethodHead {
		var err error
		bodyCopy, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyCopy))
	}

	resp, err := r.doOrigin(req, bodyCopy)
	if err == nil {
		requestsTotal.WithLabelValues(decision.Policy.String(), "origin").Inc()
		return resp, nil
	}
	if errors.Is(err, ErrContextCancelled) {
		return nil, err
	}

	if isMutating(req.Method) && r.queue != nil && isNetworkFailure(err) {
		payload, merr := json.Marshal(ReplayPayload{
			Method: req.Method,
			URL:    req.URL.String(),
			Header: pickReplayHeaders(req.Header),
			Body:   bodyCopy,
		})
		if merr == nil {
			queued, qerr := r.queue.Enqueue(req.Context(), QueueKind(req.URL.Path), payload)
			if qerr == nil {
				requestsTotal.WithLabelValues(decision.Policy.String(), "queued").Inc()
				return synthesizeQueued(req, queued.ID), nil
			}
			r.logger.Error().Err(qerr).Str("path", req.URL.Path).
				Msg("Failed to queue mutating request")
		}
	}

	requestsTotal.WithLabelValues(decision.Policy.String(), "unavailable").Inc()
	return synthesizeUnavailable(req), nil
}

// networkFirst tries the origin and falls back to the stored entry for the
// exact key, or a synthesized 503 if none exists.
func (r *Router) networkFirst(req *http.Request, decision Decision) (*http.Response, error) {
	key := Key(req.Method, req.URL)
	handle := r.tiers[decision.Tier]

	resp, err := r.doOrigin(req, nil)
	if err == nil {
		r.writeThroughAsync(req, decision, handle, key, resp)
		requestsTotal.WithLabelValues(decision.Policy.String(), "origin").Inc()
		return resp, nil
	}
	if errors.Is(err, ErrContextCancelled) {
		return nil, err
	}

	if handle != nil {
		if entry, gerr := handle.Get(req.Context(), key); gerr == nil {
			requestsTotal.WithLabelValues(decision.Policy.String(), "fallback").Inc()
			r.logger.Info().Str("key", key).Err(err).
				Msg("Origin unavailable, serving stored entry")
			return EntryToResponse(entry), nil
		}
	}

	requestsTotal.WithLabelValues(decision.Policy.String(), "unavailable").Inc()
	return synthesizeUnavailable(req), nil
}

// cacheFirst returns the stored entry immediately and refreshes it in the
// background; a miss waits on the network.
func (r *Router) cacheFirst(req *http.Request, decision Decision) (*http.Response, error) {
	key := Key(req.Method, req.URL)
	handle := r.tiers[decision.Tier]

	if handle != nil {
		if entry, err := handle.Get(req.Context(), key); err == nil {
			r.refreshAsync(req, decision, handle, key)
			requestsTotal.WithLabelValues(decision.Policy.String(), "cache_hit").Inc()
			return EntryToResponse(entry), nil
		}
	}

	resp, err := r.doOrigin(req, nil)
	if err != nil {
		if errors.Is(err, ErrContextCancelled) {
			return nil, err
		}
		requestsTotal.WithLabelValues(decision.Policy.String(), "unavailable").Inc()
		return synthesizeUnavailable(req), nil
	}

	r.writeThroughAsync(req, decision, handle, key, resp)
	requestsTotal.WithLabelValues(decision.Policy.String(), "origin").Inc()
	return resp, nil
}

// doOrigin executes the network leg with retry. Network failures and 5xx
// responses are retried; 4xx responses are returned for the caller to
// handle. Terminal failures come back as a wrapped *OriginError.
func (r *Router) doOrigin(req *http.Request, bodyCopy []byte) (*http.Response, error) {
	ctx := req.Context()
	outReq := r.rewriteToOrigin(req)

	var resp *http.Response
	attempt := func() error {
		if bodyCopy != nil {
			outReq.Body = io.NopCloser(bytes.NewReader(bodyCopy))
			outReq.ContentLength = int64(len(bodyCopy))
		}

		var reqErr error
		resp, reqErr = r.origin.Do(outReq)
		if reqErr != nil {
			if r.connectivity != nil {
				r.connectivity.RecordFailure(reqErr)
			}
			return &OriginError{
				ErrorClass: ErrorClassNetwork,
				Message:    "origin unreachable",
				Err:        reqErr,
			}
		}

		if r.connectivity != nil {
			r.connectivity.RecordSuccess()
		}

		if resp.StatusCode >= 500 {
			oe := &OriginError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassServer,
				Message:    resp.Status,
			}
			resp.Body.Close()
			return oe
		}
		return nil
	}

	classify := func(err error) ErrorClass {
		var oe *OriginError
		if errors.As(err, &oe) {
			return oe.ErrorClass
		}
		return ErrorClassNetwork
	}

	if err := retryWithBackoff(ctx, r.logger, r.retryCfg, attempt, classify); err != nil {
		return nil, err
	}
	return resp, nil
}

// rewriteToOrigin clones the inbound request onto the origin base URL.
func (r *Router) rewriteToOrigin(req *http.Request) *http.Request {
	outURL := *req.URL
	outURL.Scheme = r.originURL.Scheme
	outURL.Host = r.originURL.Host

	outReq := req.Clone(req.Context())
	outReq.URL = &outURL
	outReq.Host = r.originURL.Host
	outReq.RequestURI = ""
	return outReq
}

// writeThroughAsync buffers the response and, if cacheable, writes it to the
// tier on the worker pool followed by an eviction pass. The caller's
// response keeps streaming from the buffer; the write itself is detached and
// cannot be corrupted by a caller abort.
func (r *Router) writeThroughAsync(req *http.Request, decision Decision, handle store.Tier, key string, resp *http.Response) {
	if handle == nil {
		return
	}
	if reason, ok := r.cacheable(req, resp); !ok {
		uncacheableDropsTotal.WithLabelValues(reason).Inc()
		return
	}

	entry, err := responseToEntry(resp)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Failed to buffer response for caching")
		return
	}
	if int64(len(entry.Data)) > r.maxBytes {
		uncacheableDropsTotal.WithLabelValues("size").Inc()
		return
	}

	policy := r.policies[decision.Tier]
	r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.bgTimeout)
		defer cancel()

		// Best effort: a failed write never propagates to a caller whose
		// network response already succeeded.
		if err := handle.Put(ctx, key, entry); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
			return
		}
		if _, err := r.enforcer.Enforce(ctx, handle, policy); err != nil {
			r.logger.Warn().Err(err).Str("tier", handle.Name()).Msg("Eviction pass failed")
		}
	})
}

// refreshAsync dispatches a stale-while-revalidate refresh. The caller has
// already been answered from the tier and never waits on this.
func (r *Router) refreshAsync(req *http.Request, decision Decision, handle store.Tier, key string) {
	refreshReq := r.rewriteToOrigin(req)
	policy := r.policies[decision.Tier]

	submitted := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.bgTimeout)
		defer cancel()

		resp, err := r.origin.Do(refreshReq.Clone(ctx))
		if err != nil {
			if r.connectivity != nil {
				r.connectivity.RecordFailure(err)
			}
			backgroundRefreshTotal.WithLabelValues("failed").Inc()
			return
		}
		defer resp.Body.Close()
		if r.connectivity != nil {
			r.connectivity.RecordSuccess()
		}

		if reason, ok := r.cacheable(req, resp); !ok {
			uncacheableDropsTotal.WithLabelValues(reason).Inc()
			backgroundRefreshTotal.WithLabelValues("skipped").Inc()
			return
		}

		entry, err := responseToEntry(resp)
		if err != nil || int64(len(entry.Data)) > r.maxBytes {
			backgroundRefreshTotal.WithLabelValues("skipped").Inc()
			return
		}

		if err := handle.Put(ctx, key, entry); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("Background refresh write failed")
			backgroundRefreshTotal.WithLabelValues("failed").Inc()
			return
		}
		backgroundRefreshTotal.WithLabelValues("updated").Inc()

		if _, err := r.enforcer.Enforce(ctx, handle, policy); err != nil {
			r.logger.Warn().Err(err).Str("tier", handle.Name()).Msg("Eviction pass failed")
		}
	})
	if !submitted {
		backgroundRefreshTotal.WithLabelValues("skipped").Inc()
	}
}

// cacheable is the single cacheability gate. Only successful, full-content
// GET responses without caller authorization may enter a tier.
func (r *Router) cacheable(req *http.Request, resp *http.Response) (reason string, ok bool) {
	if req.Method != http.MethodGet {
		return "method", false
	}
	if req.Header.Get("Authorization") != "" {
		// Tiers are shared across users of this install; a response to an
		// authorized request must not leak into them.
		return "authorization", false
	}
	if resp.StatusCode == http.StatusPartialContent {
		return "partial", false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "status", false
	}
	if resp.ContentLength > r.maxBytes {
		return "size", false
	}
	return "", true
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func isNetworkFailure(err error) bool {
	var oe *OriginError
	if errors.As(err, &oe) {
		return oe.ErrorClass == ErrorClassNetwork
	}
	return false
}

// pickReplayHeaders keeps the headers a replay needs; hop-by-hop and
// connection-specific headers are dropped.
func pickReplayHeaders(header http.Header) http.Header {
	kept := http.Header{}
	for _, name := range []string{"Content-Type", "Accept", "Authorization", "X-Requested-With"} {
		if v := header.Get(name); v != "" {
			kept.Set(name, v)
		}
	}
	return kept
}
