// Package store provides storage backends for loopgate decision audit records.
//
// This file implements a PostgreSQL-backed audit repo.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed audit repo.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements AuditRepo.
var _ AuditRepo = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Postgres migrations failed", "error", err)
		db.Close()
		return nil, fmt.Errorf("postgres migrations failed: %w", err)
	}
	slog.Debug("Postgres migrations applied")

	return &PostgresStore{db: db}, nil
}

// RecordDecision inserts a new decision record.
func (s *PostgresStore) RecordDecision(rec DecisionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO decision_audit (id, session_id, action_id, reason, pattern, allowed, decided_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.SessionID, rec.ActionID, string(rec.Reason), string(rec.Pattern), rec.Allowed, rec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision failed: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit records for a session, newest first.
func (s *PostgresStore) RecentDecisions(sessionID string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, action_id, reason, pattern, allowed, decided_at FROM decision_audit WHERE session_id = $1 ORDER BY decided_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions failed: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneBefore deletes records decided before the cutoff.
func (s *PostgresStore) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM decision_audit WHERE decided_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune decisions failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
