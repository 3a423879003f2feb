// Package policy provides the per-action suppression policy table for loopgate.
//
// This file implements loading a table from a JSON policy file.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// fileEntry is the on-disk shape of a policy entry. Windows are expressed in
// seconds to match the operational tuning surface.
type fileEntry struct {
	Prefix          string  `json:"prefix"`
	WindowSeconds   float64 `json:"window_seconds"`
	PatternTolerant bool    `json:"pattern_tolerant"`
	MatchContent    bool    `json:"match_content"`
	SuppressLoops   bool    `json:"suppress_loops"`
	SuppressRepeat  bool    `json:"suppress_repeat"`
}

// LoadFile reads a policy table from a JSON file containing an array of
// entries. The file must include a "*" default entry.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var raw []fileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("policy file %s contains no entries", path)
	}

	entries := make([]Entry, 0, len(raw))
	hasDefault := false
	for _, fe := range raw {
		if fe.Prefix == DefaultPrefix {
			hasDefault = true
		}
		entries = append(entries, Entry{
			Prefix:          fe.Prefix,
			Window:          time.Duration(fe.WindowSeconds * float64(time.Second)),
			PatternTolerant: fe.PatternTolerant,
			MatchContent:    fe.MatchContent,
			SuppressLoops:   fe.SuppressLoops,
			SuppressRepeat:  fe.SuppressRepeat,
		})
	}
	if !hasDefault {
		return nil, fmt.Errorf("policy file %s is missing the %q default entry", path, DefaultPrefix)
	}

	table, err := NewTable(entries)
	if err != nil {
		return nil, fmt.Errorf("build policy table from %s: %w", path, err)
	}
	slog.Info("Policy table loaded from file", "path", path, "entries", table.Len())
	return table, nil
}
