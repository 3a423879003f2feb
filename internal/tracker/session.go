// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements per-session history: a bounded ring buffer of recent
// events plus the last-allowed timestamp maps used for O(1) dedup checks.
package tracker

import (
	"sync"
	"time"

	"github.com/pulsefolio/loopgate/internal/models"
)

// DefaultHistorySize is the number of recent events retained per session.
const DefaultHistorySize = 20

// session owns all tracking state for one session id. It is created lazily on
// the first event, mutated only while its mutex is held, and evicted by the
// janitor after the idle timeout.
type session struct {
	mu sync.Mutex

	id string

	// ring buffer of the last historySize events, suppressed ones included.
	events []models.InteractionEvent
	start  int
	count  int

	// lastByAction maps action id -> timestamp of the last allowed occurrence.
	lastByAction map[string]time.Time
	// lastByContent maps content fingerprint -> last allowed occurrence, used
	// only for policies with content matching enabled.
	lastByContent map[string]time.Time

	lastSeen time.Time

	// evicted is set by the janitor while holding mu; a handler that acquires
	// the lock afterwards must discard this instance and recreate the session.
	evicted bool
}

func newSession(id string, historySize int) *session {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &session{
		id:            id,
		events:        make([]models.InteractionEvent, 0, historySize),
		lastByAction:  make(map[string]time.Time),
		lastByContent: make(map[string]time.Time),
	}
}

// append pushes an event onto the ring buffer, overwriting the oldest entry
// when full, and refreshes the idle clock. Caller must hold mu.
func (s *session) append(ev models.InteractionEvent) {
	if cap(s.events) == 0 {
		return
	}
	if len(s.events) < cap(s.events) {
		s.events = append(s.events, ev)
		s.count = len(s.events)
	} else {
		s.events[s.start] = ev
		s.start = (s.start + 1) % len(s.events)
	}
	if ev.ObservedAt.After(s.lastSeen) {
		s.lastSeen = ev.ObservedAt
	}
}

// recent returns up to n of the newest events ordered oldest to newest.
// Caller must hold mu. The returned slice is freshly allocated.
func (s *session) recent(n int) []models.InteractionEvent {
	total := len(s.events)
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.InteractionEvent, 0, n)
	for i := total - n; i < total; i++ {
		out = append(out, s.events[(s.start+i)%total])
	}
	return out
}

// size returns the number of events currently held. Caller must hold mu.
func (s *session) size() int {
	return len(s.events)
}
