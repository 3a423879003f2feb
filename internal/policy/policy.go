// Package policy provides the per-action suppression policy table for loopgate.
//
// A policy entry maps an action-id prefix to a dedup window and pattern
// tolerance flags. Every action id resolves to exactly one effective entry via
// longest-prefix match, falling back to a mandatory default entry. Tables are
// immutable after construction; hot reload swaps the whole table atomically.
package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultWindow is the dedup window applied when no entry matches and the
	// table carries no usable default. Conservative on purpose.
	DefaultWindow = 1 * time.Second
	// DefaultPrefix marks the mandatory catch-all entry.
	DefaultPrefix = "*"
)

// Entry maps an action-id prefix to its suppression policy.
type Entry struct {
	// Prefix is matched against the start of the canonical action id.
	// The special prefix "*" is the mandatory default entry.
	Prefix string `json:"prefix"`
	// Window is the dedup time window. Zero disables time-based dedup.
	Window time.Duration `json:"window"`
	// PatternTolerant actions are never suppressed by pattern classification
	// or the dedup window; rapid legitimate re-use stays responsive.
	PatternTolerant bool `json:"pattern_tolerant"`
	// MatchContent additionally keys dedup on the content fingerprint, so a
	// typed amount and its button twin dedup against each other.
	MatchContent bool `json:"match_content"`
	// SuppressLoops enables suppression on back-and-forth and circular
	// patterns for this prefix. Off by default.
	SuppressLoops bool `json:"suppress_loops"`
	// SuppressRepeat enables structural suppression of immediate repeats
	// regardless of timing. Off by default: the dedup window already covers
	// bursts, and re-pressing a button after the window expires is legitimate.
	SuppressRepeat bool `json:"suppress_repeat"`
}

// Table resolves action ids to policy entries via longest-prefix match.
type Table struct {
	// entries sorted by descending prefix length so the first match wins.
	entries []Entry
	def     Entry
	hasDef  bool
}

// NewTable builds an immutable table from the given entries. The entry with
// prefix "*" becomes the default; a table without one still resolves every
// action id, falling back to a hardcoded conservative window.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Prefix == "" {
			return nil, fmt.Errorf("policy entry with empty prefix")
		}
		if seen[e.Prefix] {
			return nil, fmt.Errorf("duplicate policy prefix: %s", e.Prefix)
		}
		seen[e.Prefix] = true
		if e.Window < 0 {
			return nil, fmt.Errorf("policy prefix %s has negative window", e.Prefix)
		}
		if e.Prefix == DefaultPrefix {
			t.def = e
			t.hasDef = true
			continue
		}
		t.entries = append(t.entries, e)
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].Prefix) > len(t.entries[j].Prefix)
	})
	slog.Debug("Policy table built", "entries", len(t.entries), "has_default", t.hasDef)
	return t, nil
}

// Resolve returns the effective policy entry for an action id. It never fails:
// a missing default falls back to a conservative hardcoded window rather than
// surfacing a resolution error to the decision path.
func (t *Table) Resolve(actionID string) Entry {
	for _, e := range t.entries {
		if strings.HasPrefix(actionID, e.Prefix) {
			return e
		}
	}
	if t.hasDef {
		return t.def
	}
	slog.Warn("Policy table has no default entry, using hardcoded window", "actionID", actionID, "window", DefaultWindow)
	return Entry{Prefix: DefaultPrefix, Window: DefaultWindow}
}

// Len returns the number of non-default entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// DefaultTable returns the built-in policy table used when no policy file is
// configured. Windows are tuned for button-driven Telegram menus.
func DefaultTable() *Table {
	t, err := NewTable([]Entry{
		{Prefix: "menu_", Window: 1 * time.Second},
		{Prefix: "back_", Window: 500 * time.Millisecond, PatternTolerant: true},
		{Prefix: "profile_", Window: 1 * time.Second, SuppressLoops: true},
		{Prefix: "amount_", Window: 2 * time.Second, MatchContent: true},
		{Prefix: "confirm_", Window: 3 * time.Second, MatchContent: true, SuppressRepeat: true},
		{Prefix: "cancel_", Window: 1 * time.Second, PatternTolerant: true},
		{Prefix: "cmd_", Window: 1 * time.Second},
		{Prefix: "text_", Window: 1 * time.Second},
		{Prefix: DefaultPrefix, Window: 1 * time.Second},
	})
	if err != nil {
		// Unreachable: the built-in entries are statically valid.
		panic(err)
	}
	return t
}
