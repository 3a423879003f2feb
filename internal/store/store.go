// Package store provides storage backends for loopgate decision audit records.
//
// It includes an in-memory repo for tests and single-process use, plus SQLite
// and PostgreSQL backends for durable retention.
package store

import (
	"sort"
	"sync"
	"time"
)

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Compile-time check that InMemoryAuditRepo implements AuditRepo.
var _ AuditRepo = (*InMemoryAuditRepo)(nil)

// InMemoryAuditRepo is a simple in-memory audit repo.
type InMemoryAuditRepo struct {
	mu      sync.RWMutex
	records []DecisionRecord
}

// NewInMemoryAuditRepo creates an empty in-memory audit repo.
func NewInMemoryAuditRepo() *InMemoryAuditRepo {
	return &InMemoryAuditRepo{}
}

// RecordDecision appends a decision record.
func (r *InMemoryAuditRepo) RecordDecision(rec DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// RecentDecisions returns up to limit records for a session, newest first.
func (r *InMemoryAuditRepo) RecentDecisions(sessionID string, limit int) ([]DecisionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []DecisionRecord
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DecidedAt.After(out[j].DecidedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneBefore deletes records decided before the cutoff.
func (r *InMemoryAuditRepo) PruneBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	var removed int64
	for _, rec := range r.records {
		if rec.DecidedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}

// Close is a no-op for the in-memory repo.
func (r *InMemoryAuditRepo) Close() error {
	return nil
}
