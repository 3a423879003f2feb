// Package store provides the AuditRepo interface for decision audit records.
package store

import (
	"time"

	"github.com/pulsefolio/loopgate/internal/models"
)

// DecisionRecord is one tracker verdict persisted for operational tuning of
// windows and patterns.
type DecisionRecord struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	ActionID  string               `json:"action_id"`
	Reason    models.VerdictReason `json:"reason"`
	Pattern   models.Pattern       `json:"pattern,omitempty"`
	Allowed   bool                 `json:"allowed"`
	DecidedAt time.Time            `json:"decided_at"`
}

// AuditRepo defines the interface for recording and inspecting tracker
// decisions. Implementations must be safe for concurrent use; recording is
// best-effort and must never influence a verdict.
type AuditRepo interface {
	// RecordDecision inserts a new decision record.
	RecordDecision(rec DecisionRecord) error

	// RecentDecisions returns up to limit records for a session, newest first.
	RecentDecisions(sessionID string, limit int) ([]DecisionRecord, error)

	// PruneBefore deletes records decided before the cutoff and returns the
	// number removed.
	PruneBefore(cutoff time.Time) (int64, error)

	// Close releases any underlying resources.
	Close() error
}
