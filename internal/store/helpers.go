package store

import (
	"database/sql"
	"fmt"

	"github.com/pulsefolio/loopgate/internal/models"
)

// scanDecision scans a DecisionRecord from sql.Rows.
func scanDecision(rows *sql.Rows) (DecisionRecord, error) {
	var rec DecisionRecord
	var reason, pattern string
	err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ActionID, &reason, &pattern, &rec.Allowed, &rec.DecidedAt)
	if err != nil {
		return rec, fmt.Errorf("scan decision failed: %w", err)
	}
	rec.Reason = models.VerdictReason(reason)
	rec.Pattern = models.Pattern(pattern)
	return rec, nil
}
