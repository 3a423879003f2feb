// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements the pattern classifier, which inspects a session's
// recent history to detect named navigation patterns. Classification is
// structural and read-only; it never mutates history.
package tracker

import (
	"strings"
	"time"

	"github.com/pulsefolio/loopgate/internal/models"
)

const (
	// rapidSwitchWindow is the wall-clock span inspected for rapid menu switching.
	rapidSwitchWindow = 2 * time.Second
	// rapidSwitchCount is the number of distinct top-level menus that counts as rapid.
	rapidSwitchCount = 3
	// menuPrefix marks top-level menu actions for rapid-switch counting.
	menuPrefix = "menu_"
)

// classify inspects the session's recent history together with the new event
// and returns the first matching pattern. history is ordered oldest to newest
// and does not yet contain ev; missing history is never an error, patterns
// that need more entries than exist simply report none.
func classify(history []models.InteractionEvent, ev models.InteractionEvent) models.Pattern {
	n := len(history)

	// A, A: the previous event had the same action id. Structural, not timed.
	if n >= 1 && history[n-1].ActionID == ev.ActionID {
		return models.PatternImmediateRepeat
	}

	// A, B, A with the new event as the closing A.
	if n >= 2 &&
		history[n-2].ActionID == ev.ActionID &&
		history[n-1].ActionID != ev.ActionID &&
		history[n-1].Kind == models.KindNavigation {
		return models.PatternBackAndForth
	}

	// A, B, C, A with the new event as the closing A.
	if n >= 3 &&
		history[n-3].ActionID == ev.ActionID &&
		history[n-2].ActionID != ev.ActionID &&
		history[n-1].ActionID != ev.ActionID &&
		history[n-1].ActionID != history[n-2].ActionID {
		return models.PatternCircular
	}

	if isRapidSwitch(history, ev) {
		return models.PatternRapidSwitch
	}

	return models.PatternNone
}

// isRapidSwitch reports whether the new event completes a burst of
// rapidSwitchCount or more distinct top-level menu actions within
// rapidSwitchWindow of wall-clock history.
func isRapidSwitch(history []models.InteractionEvent, ev models.InteractionEvent) bool {
	if !strings.HasPrefix(ev.ActionID, menuPrefix) {
		return false
	}
	cutoff := ev.ObservedAt.Add(-rapidSwitchWindow)
	distinct := map[string]bool{ev.ActionID: true}
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.ObservedAt.Before(cutoff) {
			break
		}
		if strings.HasPrefix(h.ActionID, menuPrefix) {
			distinct[h.ActionID] = true
		}
	}
	return len(distinct) >= rapidSwitchCount
}
