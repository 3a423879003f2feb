// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements the Tracker itself: session shards, the decision
// engine combining the dedup check with pattern classification under the
// policy table, and the observability record emitted per decision.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefolio/loopgate/internal/models"
	"github.com/pulsefolio/loopgate/internal/policy"
	"github.com/pulsefolio/loopgate/internal/store"
)

// DefaultIdleTimeout is how long a session may stay quiet before the janitor
// evicts its history.
const DefaultIdleTimeout = 10 * time.Minute

// Opts holds configuration options for a Tracker.
type Opts struct {
	HistorySize int
	IdleTimeout time.Duration
	Policies    *policy.Table
	Audit       store.AuditRepo
}

// Option defines a configuration option for a Tracker.
type Option func(*Opts)

// WithHistorySize sets the per-session ring buffer size.
func WithHistorySize(n int) Option {
	return func(o *Opts) { o.HistorySize = n }
}

// WithIdleTimeout sets the idle timeout after which sessions are evictable.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithPolicyTable sets the initial policy table.
func WithPolicyTable(t *policy.Table) Option {
	return func(o *Opts) { o.Policies = t }
}

// WithAuditRepo sets the decision audit repo. Recording is best-effort.
func WithAuditRepo(r store.AuditRepo) Option {
	return func(o *Opts) { o.Audit = r }
}

// Tracker owns all session shards and decides, for every inbound event,
// whether the dispatch layer should process it or drop it. One instance per
// process; tests create isolated instances.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*session

	policies atomic.Pointer[policy.Table]

	historySize int
	idleTimeout time.Duration

	audit store.AuditRepo

	closed atomic.Bool
}

// New creates a Tracker with the given options. Without options it uses the
// built-in policy table, the default history size, and no audit repo.
func New(opts ...Option) *Tracker {
	cfg := Opts{
		HistorySize: DefaultHistorySize,
		IdleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Policies == nil {
		cfg.Policies = policy.DefaultTable()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	t := &Tracker{
		sessions:    make(map[string]*session),
		historySize: cfg.HistorySize,
		idleTimeout: cfg.IdleTimeout,
		audit:       cfg.Audit,
	}
	t.policies.Store(cfg.Policies)
	slog.Debug("Tracker created", "historySize", cfg.HistorySize, "idleTimeout", cfg.IdleTimeout, "policies", cfg.Policies.Len())
	return t
}

// IdleTimeout returns the configured idle timeout.
func (t *Tracker) IdleTimeout() time.Duration {
	return t.idleTimeout
}

// ReloadPolicies atomically swaps the policy table. Session state is
// untouched; the new table applies to subsequent decisions only.
func (t *Tracker) ReloadPolicies(table *policy.Table) {
	if table == nil {
		return
	}
	t.policies.Store(table)
	slog.Info("Tracker policy table reloaded", "entries", table.Len())
}

// Handle decides whether one inbound event should be processed. It is called
// synchronously by the dispatch layer once per Telegram update; events for the
// same session are serialized, different sessions run in parallel. Handle
// never fails: malformed input is allowed through untracked (over-suppression
// is the worse failure mode for a user-facing bot).
func (t *Tracker) Handle(ctx context.Context, sessionID, rawAction, rawPayload string, kind models.EventKind, observedAt time.Time) models.Verdict {
	if t.closed.Load() {
		slog.Warn("Tracker Handle called after shutdown", "sessionID", sessionID, "action", rawAction)
		return models.Verdict{Allow: true, Reason: models.ReasonFresh}
	}

	ev, err := Normalize(sessionID, rawAction, rawPayload, kind, observedAt)
	if err != nil {
		slog.Warn("Tracker normalization failed, allowing untracked", "error", err, "sessionID", sessionID, "action", rawAction)
		return models.Verdict{Allow: true, Reason: models.ReasonFresh}
	}

	verdict := t.decide(ev)

	slog.Info("Tracker decision",
		"sessionID", ev.SessionID,
		"actionID", ev.ActionID,
		"reason", verdict.Reason,
		"pattern", verdict.MatchedPattern,
		"allow", verdict.Allow)
	t.recordAudit(ev, verdict)

	return verdict
}

// decide runs the decision algorithm for a normalized event under its
// session's lock.
func (t *Tracker) decide(ev models.InteractionEvent) models.Verdict {
	entry := t.policies.Load().Resolve(ev.ActionID)

	for {
		s := t.getOrCreate(ev.SessionID)
		s.mu.Lock()
		if s.evicted {
			// Janitor won the race; this instance is an orphan. Recreate and
			// treat the event as belonging to a fresh session.
			s.mu.Unlock()
			continue
		}
		verdict := decideLocked(s, ev, entry)
		s.mu.Unlock()
		return verdict
	}
}

// decideLocked computes the verdict and updates session bookkeeping. Caller
// must hold s.mu.
func decideLocked(s *session, ev models.InteractionEvent, entry policy.Entry) models.Verdict {
	dedup := s.dedupCheck(ev, entry)
	pattern := classify(s.recent(s.size()), ev)

	// The event joins the history whatever the verdict, so suppressed bursts
	// still shape future pattern classification. Only allowed events advance
	// the last-allowed maps.
	verdict := resolveVerdict(dedup, pattern, entry)
	if verdict.Allow && verdict.Reason == models.ReasonFresh {
		s.recordAllowed(ev, entry)
	}
	s.append(ev)
	return verdict
}

// resolveVerdict combines the dedup result and the classified pattern under
// the action's policy entry.
func resolveVerdict(dedup dedupResult, pattern models.Pattern, entry policy.Entry) models.Verdict {
	if dedup.duplicate {
		if entry.PatternTolerant {
			return models.Verdict{Allow: true, Reason: models.ReasonPatternAllowedOverride, MatchedPattern: pattern}
		}
		reason := models.ReasonDuplicateWindow
		if dedup.byContent {
			reason = models.ReasonDuplicateContent
		}
		return models.Verdict{Allow: false, Reason: reason, MatchedPattern: pattern}
	}

	if suppressing(pattern, entry) {
		if entry.PatternTolerant {
			return models.Verdict{Allow: true, Reason: models.ReasonPatternAllowedOverride, MatchedPattern: pattern}
		}
		return models.Verdict{Allow: false, Reason: models.ReasonPatternSuppressed, MatchedPattern: pattern}
	}

	return models.Verdict{Allow: true, Reason: models.ReasonFresh, MatchedPattern: pattern}
}

// suppressing reports whether the classified pattern suppresses under the
// policy entry, ignoring tolerance (the caller applies the override).
// Rapid switching always suppresses; immediate repeats only when the entry
// asks for structural suppression, since a repeat outside the dedup window is
// usually a legitimate re-press.
func suppressing(pattern models.Pattern, entry policy.Entry) bool {
	switch pattern {
	case models.PatternRapidSwitch:
		return true
	case models.PatternImmediateRepeat:
		return entry.SuppressRepeat
	case models.PatternBackAndForth, models.PatternCircular:
		return entry.SuppressLoops
	default:
		return false
	}
}

// getOrCreate returns the session shard for an id, creating it lazily.
func (t *Tracker) getOrCreate(sessionID string) *session {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		return s
	}
	s = newSession(sessionID, t.historySize)
	t.sessions[sessionID] = s
	slog.Debug("Tracker session created", "sessionID", sessionID)
	return s
}

// SessionCount returns the number of live session shards.
func (t *Tracker) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// EvictIdle removes sessions whose newest event is older than idleTimeout.
// Sessions whose lock cannot be acquired immediately are skipped so a sweep
// never stalls live dispatch. Returns the number of sessions evicted.
func (t *Tracker) EvictIdle(now time.Time, idleTimeout time.Duration) int {
	t.mu.RLock()
	candidates := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		candidates = append(candidates, s)
	}
	t.mu.RUnlock()

	var evicted []*session
	for _, s := range candidates {
		if !s.mu.TryLock() {
			// Live traffic holds the lock; the next sweep will get it.
			continue
		}
		idle := !s.lastSeen.IsZero() && now.Sub(s.lastSeen) >= idleTimeout
		if idle {
			s.evicted = true
			evicted = append(evicted, s)
		}
		s.mu.Unlock()
	}

	if len(evicted) == 0 {
		return 0
	}

	t.mu.Lock()
	for _, s := range evicted {
		if current, ok := t.sessions[s.id]; ok && current == s {
			delete(t.sessions, s.id)
		}
	}
	t.mu.Unlock()

	slog.Debug("Tracker evicted idle sessions", "count", len(evicted))
	return len(evicted)
}

// Shutdown releases all session state. Handle calls after shutdown are
// allowed through untracked.
func (t *Tracker) Shutdown() {
	t.closed.Store(true)
	t.mu.Lock()
	count := len(t.sessions)
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	slog.Info("Tracker shut down", "sessions_dropped", count)
}

// recordAudit persists the decision best-effort. Failures are logged and
// never influence the verdict.
func (t *Tracker) recordAudit(ev models.InteractionEvent, verdict models.Verdict) {
	if t.audit == nil {
		return
	}
	rec := store.DecisionRecord{
		ID:        uuid.NewString(),
		SessionID: ev.SessionID,
		ActionID:  ev.ActionID,
		Reason:    verdict.Reason,
		Pattern:   verdict.MatchedPattern,
		Allowed:   verdict.Allow,
		DecidedAt: ev.ObservedAt,
	}
	if err := t.audit.RecordDecision(rec); err != nil {
		slog.Error("Tracker audit record failed", "error", err, "sessionID", ev.SessionID, "actionID", ev.ActionID)
	}
}
