package connectivity

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	originOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photonix_origin_online",
		Help: "Whether the origin is currently considered reachable (1/0)",
	})

	originFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photonix_origin_failures_total",
		Help: "Total network-level failures observed against the origin",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photonix_origin_reconnects_total",
		Help: "Total offline-to-online transitions",
	})
)

// Tracker observes request outcomes and derives origin reachability. It
// starts optimistic: the origin is assumed online until failures accumulate.
type Tracker struct {
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	listeners []func()
}

// NewTracker creates a connectivity tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	originOnline.Set(1)
	return &Tracker{
		logger: logger,
		state:  State{Online: true},
	}
}

// OnReconnect registers a callback fired on every offline-to-online
// transition. Callbacks run on their own goroutine and must be safe to
// invoke repeatedly.
func (t *Tracker) OnReconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// RecordSuccess notes that the origin answered a request. If the tracker was
// offline this is the reconnect signal.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	wasOffline := !t.state.Online
	t.state.Online = true
	t.state.ConsecutiveFailures = 0
	t.state.LastSuccess = time.Now()
	listeners := make([]func(), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	originOnline.Set(1)

	if wasOffline {
		reconnectsTotal.Inc()
		t.logger.Info().Msg("Origin reachable again, firing reconnect signal")
		for _, fn := range listeners {
			go fn()
		}
	}
}

// RecordFailure notes a network-level failure. HTTP error statuses do not
// count: a 500 still proves the origin is reachable.
func (t *Tracker) RecordFailure(err error) {
	originFailuresTotal.Inc()

	t.mu.Lock()
	t.state.ConsecutiveFailures++
	t.state.LastFailure = time.Now()
	goingOffline := t.state.Online && t.state.ShouldGoOffline()
	if goingOffline {
		t.state.Online = false
	}
	failures := t.state.ConsecutiveFailures
	t.mu.Unlock()

	if goingOffline {
		originOnline.Set(0)
		t.logger.Warn().
			Int("consecutive_failures", failures).
			Err(err).
			Msg("Origin considered unreachable, entering offline mode")
	}
}

// Online reports the current reachability view.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Online
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
