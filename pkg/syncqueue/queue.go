// Package syncqueue implements the durable offline queue of mutating
// requests that failed to reach the origin. Entries are replayed in enqueue
// order once connectivity returns and removed only after a definitive
// success, so no write is ever silently lost.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/store"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photonix_sync_queue_depth",
		Help: "Current number of queued offline requests",
	})

	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_sync_queue_enqueued_total",
		Help: "Total requests enqueued for offline replay by kind",
	}, []string{"kind"})

	replayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_sync_queue_replayed_total",
		Help: "Total queued requests successfully replayed by kind",
	}, []string{"kind"})

	replayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "photonix_sync_queue_replay_failures_total",
		Help: "Total replay attempts that failed by kind",
	}, []string{"kind"})
)

// Well-known queued request kinds. The payload schema is owned by whoever
// enqueues; the queue treats it as opaque JSON.
const (
	KindSearchRetry     = "search-retry"
	KindAICaptionSubmit = "ai-caption-submit"
	KindRequestRetry    = "request-retry"
)

// QueuedRequest is one deferred mutating request.
type QueuedRequest struct {
	// ID is assigned by the store, monotonically increasing. Drain order.
	ID uint64 `json:"-"`

	// Kind names the operation, e.g. "search-retry".
	Kind string `json:"kind"`

	// Payload is the opaque JSON needed to replay the request.
	Payload json.RawMessage `json:"payload"`

	// EnqueuedAt is when the request was deferred.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Replayer re-issues one queued request against the origin. A nil return is
// the unambiguous success that allows removal; any error leaves the entry
// queued for the next drain.
type Replayer interface {
	Replay(ctx context.Context, req QueuedRequest) error
}

// ReplayFunc adapts a function to the Replayer interface.
type ReplayFunc func(ctx context.Context, req QueuedRequest) error

// Replay implements Replayer.
func (f ReplayFunc) Replay(ctx context.Context, req QueuedRequest) error {
	return f(ctx, req)
}

// Queue is the durable offline sync queue. The backing store is independent
// of any cache build version and survives restarts and upgrades.
//
// The queue deliberately has no TTL and no maximum size: a permanently
// failing entry stays visible through ListPending rather than being dropped.
type Queue struct {
	store    store.QueueStore
	replayer Replayer
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight map[uint64]struct{}
}

// New creates an offline sync queue.
func New(qs store.QueueStore, replayer Replayer, logger zerolog.Logger) *Queue {
	if qs == nil {
		panic("queue store cannot be nil")
	}
	if replayer == nil {
		panic("replayer cannot be nil")
	}
	return &Queue{
		store:    qs,
		replayer: replayer,
		logger:   logger,
		inFlight: make(map[uint64]struct{}),
	}
}

// Enqueue durably stores a request for later replay.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (QueuedRequest, error) {
	req := QueuedRequest{
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	data, err := json.Marshal(&req)
	if err != nil {
		return QueuedRequest{}, fmt.Errorf("marshal queued request: %w", err)
	}

	id, err := q.store.Append(ctx, data)
	if err != nil {
		return QueuedRequest{}, fmt.Errorf("append queued request: %w", err)
	}
	req.ID = id

	enqueuedTotal.WithLabelValues(kind).Inc()
	q.updateDepth(ctx)

	q.logger.Info().
		Uint64("id", id).
		Str("kind", kind).
		Msg("Request queued for offline replay")

	return req, nil
}

// ListPending returns every stored request in enqueue order, including any
// currently being replayed.
func (q *Queue) ListPending(ctx context.Context) ([]QueuedRequest, error) {
	items, err := q.store.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued requests: %w", err)
	}

	reqs := make([]QueuedRequest, 0, len(items))
	for _, item := range items {
		var req QueuedRequest
		if err := json.Unmarshal(item.Data, &req); err != nil {
			q.logger.Warn().Uint64("id", item.ID).Err(err).
				Msg("Skipping undecodable queued request")
			continue
		}
		req.ID = item.ID
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Drain attempts every pending request at most once, in enqueue order, and
// returns how many were applied. An entry is removed only after its replay
// succeeds; failures stay queued for the next trigger. A partial drain is a
// normal outcome, not an error.
//
// Drain is safe against concurrent invocation: an entry already being
// replayed by another drain is skipped.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	reqs, err := q.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		if !q.acquire(req.ID) {
			// Another drain is already replaying this entry.
			continue
		}

		err := q.replayer.Replay(ctx, req)
		if err != nil {
			q.release(req.ID)
			replayFailuresTotal.WithLabelValues(req.Kind).Inc()
			q.logger.Warn().
				Uint64("id", req.ID).
				Str("kind", req.Kind).
				Err(err).
				Msg("Replay failed, entry stays queued")
			continue
		}

		if err := q.store.Remove(ctx, req.ID); err != nil && err != store.ErrQueueItemNotFound {
			q.release(req.ID)
			q.logger.Error().
				Uint64("id", req.ID).
				Err(err).
				Msg("Failed to remove applied queue entry; it may replay again")
			continue
		}
		q.release(req.ID)

		applied++
		replayedTotal.WithLabelValues(req.Kind).Inc()
		q.logger.Info().
			Uint64("id", req.ID).
			Str("kind", req.Kind).
			Msg("Queued request replayed")
	}

	q.updateDepth(ctx)
	return applied, nil
}

// acquire marks an entry as Replaying. Returns false if already in flight.
func (q *Queue) acquire(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inFlight[id]; busy {
		return false
	}
	q.inFlight[id] = struct{}{}
	return true
}

func (q *Queue) release(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.store.Len(ctx); err == nil {
		queueDepth.Set(float64(n))
	}
}
