// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements the time-windowed duplicate check against a session's
// last-allowed maps.
package tracker

import (
	"time"

	"github.com/pulsefolio/loopgate/internal/models"
	"github.com/pulsefolio/loopgate/internal/policy"
)

// dedupResult reports the outcome of a duplicate check.
type dedupResult struct {
	duplicate bool
	// byContent is true when the content fingerprint tripped the check rather
	// than the action id.
	byContent bool
	// age is the distance from the authoritative last-allowed occurrence.
	age time.Duration
}

// dedupCheck looks up the event against the session's last-allowed maps using
// the policy's window. Duplicates never advance the last-allowed timestamp, so
// a sustained burst cannot extend suppression past the window of the first
// allowed event. When an event arrives out of order (observed before the
// recorded last-allowed occurrence), the earliest timestamp becomes
// authoritative for window math. Caller must hold s.mu.
func (s *session) dedupCheck(ev models.InteractionEvent, entry policy.Entry) dedupResult {
	if entry.Window <= 0 {
		return dedupResult{}
	}

	if res, hit := checkWindow(s.lastByAction, ev.ActionID, ev.ObservedAt, entry.Window); hit {
		return res
	}
	if entry.MatchContent && ev.Fingerprint != "" {
		if res, hit := checkWindow(s.lastByContent, ev.Fingerprint, ev.ObservedAt, entry.Window); hit {
			res.byContent = true
			return res
		}
	}
	return dedupResult{}
}

// checkWindow compares observedAt against the recorded timestamp for key and
// reports whether it falls inside the window. Out-of-order arrivals rewind the
// recorded timestamp to the earlier one.
func checkWindow(last map[string]time.Time, key string, observedAt time.Time, window time.Duration) (dedupResult, bool) {
	prev, ok := last[key]
	if !ok {
		return dedupResult{}, false
	}
	age := observedAt.Sub(prev)
	if age < 0 {
		// Retry or delayed delivery: this event actually happened first.
		last[key] = observedAt
		if -age < window {
			return dedupResult{duplicate: true, age: -age}, true
		}
		return dedupResult{}, false
	}
	if age < window {
		return dedupResult{duplicate: true, age: age}, true
	}
	return dedupResult{}, false
}

// recordAllowed marks the event as the newest allowed occurrence of its action
// id (and fingerprint, when the policy dedups on content). Only called for
// events the decision engine lets through. Caller must hold s.mu.
func (s *session) recordAllowed(ev models.InteractionEvent, entry policy.Entry) {
	s.lastByAction[ev.ActionID] = ev.ObservedAt
	if entry.MatchContent && ev.Fingerprint != "" {
		s.lastByContent[ev.Fingerprint] = ev.ObservedAt
	}
}
