// Package connectivity tracks origin reachability and signals reconnection.
// The offline sync queue drains on the reconnect signal, so queued mutations
// replay as soon as the origin is reachable again.
package connectivity

import (
	"time"
)

// Thresholds for connectivity decisions.
const (
	// OfflineThreshold is the number of consecutive network failures after
	// which the origin is considered unreachable. A single failed request
	// is not enough: transient resets happen on healthy links.
	OfflineThreshold = 3

	// StaleAfter bounds how long a recorded state is trusted without new
	// observations.
	StaleAfter = 5 * time.Minute
)

// State is the current view of origin reachability.
type State struct {
	// Online reports whether the origin is currently considered reachable.
	Online bool `json:"online"`

	// ConsecutiveFailures counts network failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastSuccess is when the origin last answered a request.
	LastSuccess time.Time `json:"last_success"`

	// LastFailure is when a request last failed at the network level.
	LastFailure time.Time `json:"last_failure"`
}

// IsStale returns true if no observation was recorded within StaleAfter.
func (s *State) IsStale(now time.Time) bool {
	latest := s.LastSuccess
	if s.LastFailure.After(latest) {
		latest = s.LastFailure
	}
	return latest.IsZero() || now.Sub(latest) > StaleAfter
}

// ShouldGoOffline reports whether the failure count crossed the threshold.
func (s *State) ShouldGoOffline() bool {
	return s.ConsecutiveFailures >= OfflineThreshold
}
