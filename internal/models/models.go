// Package models defines the core data structures for loopgate.
//
// It includes types for inbound interaction events, tracker verdicts, and
// navigation patterns, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// EventKind classifies an inbound user action.
type EventKind string

const (
	// KindNavigation is a menu/navigation button press.
	KindNavigation EventKind = "navigation"
	// KindAmountSelection is an investment-amount button press.
	KindAmountSelection EventKind = "amount-selection"
	// KindConfirmation is a confirm/cancel button press.
	KindConfirmation EventKind = "confirmation"
	// KindFreeText is a typed message or command.
	KindFreeText EventKind = "free-text"
)

// IsValidEventKind checks if the given event kind is supported.
func IsValidEventKind(k EventKind) bool {
	switch k {
	case KindNavigation, KindAmountSelection, KindConfirmation, KindFreeText:
		return true
	default:
		return false
	}
}

// Validation constants for interaction events.
const (
	// MaxActionIDLength defines the maximum allowed length for a canonical action id.
	MaxActionIDLength = 64
	// MaxPayloadLength defines the maximum payload size fingerprinted by the normalizer.
	MaxPayloadLength = 4096
)

// Error variables for better error handling and testability.
var (
	ErrEmptySessionID   = errors.New("session id cannot be empty")
	ErrEmptyAction      = errors.New("action cannot be empty")
	ErrUnknownNamespace = errors.New("action does not resolve to a known namespace")
	ErrActionTooLong    = errors.New("action id exceeds maximum length")
	ErrInvalidEventKind = errors.New("invalid event kind")

	// ErrInvalidEvent wraps all normalizer validation failures. Callers must
	// treat it as "do not suppress, but also do not track" (fail open).
	ErrInvalidEvent = errors.New("invalid interaction event")
)

// InteractionEvent is the canonical form of one inbound user action.
type InteractionEvent struct {
	SessionID   string    `json:"session_id"`
	ActionID    string    `json:"action_id"`
	Fingerprint string    `json:"content_fingerprint"`
	ObservedAt  time.Time `json:"observed_at"` // arrival time at the tracker, not origin time
	Kind        EventKind `json:"kind"`
}

// Pattern names a higher-level navigation pattern detected in a session's
// recent history.
type Pattern string

const (
	// PatternNone means no pattern matched.
	PatternNone Pattern = ""
	// PatternImmediateRepeat means the previous event had the same action id.
	PatternImmediateRepeat Pattern = "immediate_repeat"
	// PatternBackAndForth means the last three events form A, B, A.
	PatternBackAndForth Pattern = "back_and_forth"
	// PatternCircular means the last four events form A, B, C, A.
	PatternCircular Pattern = "circular"
	// PatternRapidSwitch means three or more distinct top-level menus within
	// a short wall-clock burst.
	PatternRapidSwitch Pattern = "rapid_switch"
)

// VerdictReason explains why a verdict allowed or suppressed an event.
type VerdictReason string

const (
	// ReasonFresh means the event is new activity and should be processed.
	ReasonFresh VerdictReason = "fresh"
	// ReasonDuplicateWindow means the same action id was allowed too recently.
	ReasonDuplicateWindow VerdictReason = "duplicate-window"
	// ReasonDuplicateContent means an equivalent payload was allowed too recently.
	ReasonDuplicateContent VerdictReason = "duplicate-content"
	// ReasonPatternSuppressed means a navigation pattern triggered suppression.
	ReasonPatternSuppressed VerdictReason = "pattern-suppressed"
	// ReasonPatternAllowedOverride means a duplicate or pattern was detected but
	// the action's policy marks it tolerant, so it is allowed through anyway.
	ReasonPatternAllowedOverride VerdictReason = "pattern-allowed-override"
)

// Verdict is the tracker's decision for one inbound event.
type Verdict struct {
	Allow          bool          `json:"allow"`
	Reason         VerdictReason `json:"reason"`
	MatchedPattern Pattern       `json:"matched_pattern,omitempty"`
}

// Allowed reports whether the dispatch layer should invoke the real handler.
func (v Verdict) Allowed() bool {
	return v.Allow
}
