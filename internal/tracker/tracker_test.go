package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulsefolio/loopgate/internal/models"
	"github.com/pulsefolio/loopgate/internal/policy"
	"github.com/pulsefolio/loopgate/internal/store"
)

func testTable(t *testing.T, entries []policy.Entry) *policy.Table {
	t.Helper()
	table, err := policy.NewTable(entries)
	if err != nil {
		t.Fatalf("failed to build policy table: %v", err)
	}
	return table
}

func TestHandleScenarioDedupWindow(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: time.Second},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	v := trk.Handle(ctx, "chat-42", "menu_invest", "menu_invest", models.KindNavigation, t0)
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Fatalf("press at t=0: verdict %+v, want fresh/allow", v)
	}

	v = trk.Handle(ctx, "chat-42", "menu_invest", "menu_invest", models.KindNavigation, t0.Add(300*time.Millisecond))
	if v.Allow || v.Reason != models.ReasonDuplicateWindow {
		t.Fatalf("press at t=0.3: verdict %+v, want duplicate-window", v)
	}

	v = trk.Handle(ctx, "chat-42", "menu_invest", "menu_invest", models.KindNavigation, t0.Add(1200*time.Millisecond))
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Fatalf("press at t=1.2: verdict %+v, want fresh/allow", v)
	}
}

func TestHandleIdempotentSuppression(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: time.Second},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	allowed := 0
	for i := 0; i < 10; i++ {
		at := t0.Add(time.Duration(i) * 50 * time.Millisecond)
		if v := trk.Handle(ctx, "chat-1", "menu_invest", "", models.KindNavigation, at); v.Allow {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d of 10 presses inside the window, want exactly 1", allowed)
	}
}

func TestHandleScenarioBackAndForth(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 100 * time.Millisecond, SuppressLoops: true},
		{Prefix: "back_", Window: 0, PatternTolerant: true},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	if v := trk.Handle(ctx, "chat-7", "menu_invest", "", models.KindNavigation, t0); !v.Allow {
		t.Fatalf("first press: %+v", v)
	}
	if v := trk.Handle(ctx, "chat-7", "back_to_main", "", models.KindNavigation, t0.Add(200*time.Millisecond)); !v.Allow {
		t.Fatalf("back press: %+v", v)
	}
	v := trk.Handle(ctx, "chat-7", "menu_invest", "", models.KindNavigation, t0.Add(400*time.Millisecond))
	if v.MatchedPattern != models.PatternBackAndForth {
		t.Errorf("pattern = %q, want back_and_forth", v.MatchedPattern)
	}
	if v.Allow || v.Reason != models.ReasonPatternSuppressed {
		t.Errorf("verdict %+v, want pattern-suppressed", v)
	}
}

func TestHandleBackAndForthAllowedWhenLoopsTolerated(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 100 * time.Millisecond}, // SuppressLoops off
		{Prefix: "back_", Window: 0, PatternTolerant: true},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	trk.Handle(ctx, "chat-7", "menu_invest", "", models.KindNavigation, t0)
	trk.Handle(ctx, "chat-7", "back_to_main", "", models.KindNavigation, t0.Add(200*time.Millisecond))
	v := trk.Handle(ctx, "chat-7", "menu_invest", "", models.KindNavigation, t0.Add(400*time.Millisecond))
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Errorf("verdict %+v, want fresh with pattern reported", v)
	}
	if v.MatchedPattern != models.PatternBackAndForth {
		t.Errorf("pattern = %q, want back_and_forth", v.MatchedPattern)
	}
}

func TestHandleSessionIsolation(t *testing.T) {
	trk := New()
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	v1 := trk.Handle(ctx, "chat-1", "profile_high-risk", "", models.KindNavigation, t0)
	v2 := trk.Handle(ctx, "chat-2", "profile_high-risk", "", models.KindNavigation, t0)
	if !v1.Allow || !v2.Allow {
		t.Errorf("identical actions in different sessions must both be fresh: %+v, %+v", v1, v2)
	}
}

func TestHandleScenarioRapidSwitch(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 100 * time.Millisecond},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	trk.Handle(ctx, "chat-9", "menu_invest", "", models.KindNavigation, t0)
	trk.Handle(ctx, "chat-9", "menu_explore", "", models.KindNavigation, t0.Add(500*time.Millisecond))
	v := trk.Handle(ctx, "chat-9", "menu_account", "", models.KindNavigation, t0.Add(900*time.Millisecond))
	if v.MatchedPattern != models.PatternRapidSwitch {
		t.Errorf("pattern = %q, want rapid_switch", v.MatchedPattern)
	}
	if v.Allow || v.Reason != models.ReasonPatternSuppressed {
		t.Errorf("verdict %+v, want pattern-suppressed", v)
	}
}

func TestHandlePatternTolerantOverride(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "back_", Window: time.Second, PatternTolerant: true, SuppressRepeat: true},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	// Hammer the back button inside the window: every press stays allowed.
	for i := 0; i < 5; i++ {
		at := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		v := trk.Handle(ctx, "chat-3", "back_to_main", "", models.KindNavigation, at)
		if !v.Allow {
			t.Fatalf("press %d: verdict %+v, want allowed", i, v)
		}
		if i > 0 && v.Reason != models.ReasonPatternAllowedOverride {
			t.Errorf("press %d: reason = %q, want pattern-allowed-override", i, v.Reason)
		}
	}
}

func TestHandleEvictionResetsState(t *testing.T) {
	trk := New(WithIdleTimeout(time.Minute))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	trk.Handle(ctx, "chat-5", "/status", "/status", models.KindFreeText, t0)
	trk.Handle(ctx, "chat-5", "/status", "/status", models.KindFreeText, t0.Add(100*time.Millisecond))

	// Session goes idle past the timeout and is swept.
	if n := trk.EvictIdle(t0.Add(2*time.Minute), time.Minute); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if trk.SessionCount() != 0 {
		t.Fatalf("session count = %d after eviction, want 0", trk.SessionCount())
	}

	// Re-entry is indistinguishable from a first-ever event.
	v := trk.Handle(ctx, "chat-5", "/status", "/status", models.KindFreeText, t0.Add(3*time.Minute))
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Errorf("post-eviction verdict %+v, want fresh", v)
	}
	if v.MatchedPattern != models.PatternNone {
		t.Errorf("post-eviction pattern = %q, want none", v.MatchedPattern)
	}
}

func TestHandleMalformedInputFailsOpen(t *testing.T) {
	trk := New()
	defer trk.Shutdown()

	v := trk.Handle(context.Background(), "", "menu_invest", "", models.KindNavigation, time.Now())
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Errorf("malformed input verdict %+v, want fresh/allow", v)
	}
	if trk.SessionCount() != 0 {
		t.Error("malformed input must not be tracked")
	}

	v = trk.Handle(context.Background(), "chat-1", "totally_unknown", "", models.KindNavigation, time.Now())
	if !v.Allow {
		t.Errorf("unmappable action verdict %+v, want allowed", v)
	}
}

func TestHandleSuppressedEventsStillShapeHistory(t *testing.T) {
	table := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 2 * time.Second},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(table))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	// Two distinct menus, then a burst of suppressed duplicates of a third.
	trk.Handle(ctx, "chat-8", "menu_invest", "", models.KindNavigation, t0)
	trk.Handle(ctx, "chat-8", "menu_explore", "", models.KindNavigation, t0.Add(300*time.Millisecond))
	trk.Handle(ctx, "chat-8", "menu_explore", "", models.KindNavigation, t0.Add(400*time.Millisecond))

	// The duplicate above was suppressed but still sits in history, so the
	// third distinct menu completes a rapid switch.
	v := trk.Handle(ctx, "chat-8", "menu_account", "", models.KindNavigation, t0.Add(600*time.Millisecond))
	if v.MatchedPattern != models.PatternRapidSwitch {
		t.Errorf("pattern = %q, want rapid_switch", v.MatchedPattern)
	}
}

func TestHandlePolicyReloadAffectsSubsequentVerdicts(t *testing.T) {
	strict := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 10 * time.Second},
		{Prefix: "*", Window: time.Second},
	})
	relaxed := testTable(t, []policy.Entry{
		{Prefix: "menu_", Window: 100 * time.Millisecond},
		{Prefix: "*", Window: time.Second},
	})
	trk := New(WithPolicyTable(strict))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	trk.Handle(ctx, "chat-4", "menu_invest", "", models.KindNavigation, t0)
	if v := trk.Handle(ctx, "chat-4", "menu_invest", "", models.KindNavigation, t0.Add(time.Second)); v.Allow {
		t.Fatalf("strict table should suppress: %+v", v)
	}

	trk.ReloadPolicies(relaxed)
	if v := trk.Handle(ctx, "chat-4", "menu_invest", "", models.KindNavigation, t0.Add(2*time.Second)); !v.Allow {
		t.Errorf("relaxed table should allow: %+v", v)
	}
}

// failingAuditRepo always errors, to prove audit failures never change verdicts.
type failingAuditRepo struct{}

func (failingAuditRepo) RecordDecision(store.DecisionRecord) error {
	return errors.New("audit backend down")
}
func (failingAuditRepo) RecentDecisions(string, int) ([]store.DecisionRecord, error) {
	return nil, errors.New("audit backend down")
}
func (failingAuditRepo) PruneBefore(time.Time) (int64, error) {
	return 0, errors.New("audit backend down")
}
func (failingAuditRepo) Close() error { return nil }

func TestHandleAuditFailureDoesNotChangeVerdict(t *testing.T) {
	trk := New(WithAuditRepo(failingAuditRepo{}))
	defer trk.Shutdown()

	v := trk.Handle(context.Background(), "chat-1", "menu_invest", "", models.KindNavigation, time.Now())
	if !v.Allow || v.Reason != models.ReasonFresh {
		t.Errorf("verdict %+v, want fresh despite audit failure", v)
	}
}

func TestHandleRecordsAuditDecisions(t *testing.T) {
	audit := store.NewInMemoryAuditRepo()
	trk := New(WithAuditRepo(audit))
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()
	trk.Handle(ctx, "chat-6", "menu_invest", "", models.KindNavigation, t0)
	trk.Handle(ctx, "chat-6", "menu_invest", "", models.KindNavigation, t0.Add(100*time.Millisecond))

	recs, err := audit.RecentDecisions("chat-6", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(recs))
	}
	if recs[0].Reason != models.ReasonDuplicateWindow {
		t.Errorf("newest record reason = %q, want duplicate-window", recs[0].Reason)
	}
	if recs[1].Reason != models.ReasonFresh {
		t.Errorf("oldest record reason = %q, want fresh", recs[1].Reason)
	}
}

func TestHandleConcurrentSessions(t *testing.T) {
	trk := New()
	defer trk.Shutdown()

	ctx := context.Background()
	t0 := time.Now()

	var wg sync.WaitGroup
	results := make([]models.Verdict, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := fmt.Sprintf("chat-%d", i)
			results[i] = trk.Handle(ctx, session, "menu_invest", "", models.KindNavigation, t0)
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		if !v.Allow || v.Reason != models.ReasonFresh {
			t.Errorf("session %d: verdict %+v, want fresh", i, v)
		}
	}
	if trk.SessionCount() != 50 {
		t.Errorf("session count = %d, want 50", trk.SessionCount())
	}
}

func TestHandleAfterShutdownFailsOpen(t *testing.T) {
	trk := New()
	trk.Shutdown()

	v := trk.Handle(context.Background(), "chat-1", "menu_invest", "", models.KindNavigation, time.Now())
	if !v.Allow {
		t.Errorf("verdict %+v, want allowed after shutdown", v)
	}
}
