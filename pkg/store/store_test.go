package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/steerage-ai/steerage/pkg/models"
)

func setup(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, context.Background()
}

func TestAppendAndRecentUsage(t *testing.T) {
	s, ctx := setup(t)

	for i := 0; i < 3; i++ {
		err := s.AppendUsage(ctx, models.UsageEvent{
			Provider: "modal", Model: "llama-4", Outcome: models.OutcomeSuccess,
			TokensUsed: 100, LatencyMs: 250, CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.RecentUsage(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID <= events[1].ID {
		t.Errorf("expected newest first, got ids %d, %d", events[0].ID, events[1].ID)
	}
	if events[0].Outcome != models.OutcomeSuccess {
		t.Errorf("unexpected outcome %q", events[0].Outcome)
	}
}

func TestIncrementAggregate(t *testing.T) {
	s, ctx := setup(t)

	for i := 0; i < 5; i++ {
		if err := s.IncrementAggregate(ctx, models.ScopeDaily, "", "2026-08-31", 10); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.IncrementAggregate(ctx, models.ScopeProvider, "modal", "2026-08-31", 7); err != nil {
		t.Fatal(err)
	}

	aggs, err := s.AggregatesForWindow(ctx, "2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregate rows, got %d", len(aggs))
	}
	for _, a := range aggs {
		switch a.Scope {
		case models.ScopeDaily:
			if a.Requests != 5 || a.Tokens != 50 {
				t.Errorf("daily: expected 5 requests / 50 tokens, got %d / %d", a.Requests, a.Tokens)
			}
		case models.ScopeProvider:
			if a.Key != "modal" || a.Requests != 1 || a.Tokens != 7 {
				t.Errorf("provider: unexpected row %+v", a)
			}
		}
	}
}

func TestAggregateWindowsIsolated(t *testing.T) {
	s, ctx := setup(t)

	if err := s.IncrementAggregate(ctx, models.ScopeDaily, "", "2026-08-30", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementAggregate(ctx, models.ScopeDaily, "", "2026-08-31", 1); err != nil {
		t.Fatal(err)
	}

	aggs, err := s.AggregatesForWindow(ctx, "2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 1 || aggs[0].Requests != 1 {
		t.Fatalf("expected one row with 1 request, got %+v", aggs)
	}
}

func TestMergeCooldownMonotonic(t *testing.T) {
	s, ctx := setup(t)

	later := time.Now().UTC().Add(5 * time.Second).Truncate(time.Millisecond)
	earlier := later.Add(-3 * time.Second)

	if err := s.MergeCooldown(ctx, "modal", later, 1); err != nil {
		t.Fatal(err)
	}
	// An earlier cooldown_until must not rewind the window.
	if err := s.MergeCooldown(ctx, "modal", earlier, 2); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Cooldowns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].CooldownUntil.Before(later) {
		t.Errorf("cooldown_until went backwards: %v < %v", entries[0].CooldownUntil, later)
	}
	if entries[0].ConsecutiveFailures != 2 {
		t.Errorf("expected 2 failures, got %d", entries[0].ConsecutiveFailures)
	}
}

func TestClearCooldown(t *testing.T) {
	s, ctx := setup(t)

	if err := s.MergeCooldown(ctx, "modal", time.Now().UTC().Add(time.Second), 3); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearCooldown(ctx, "modal"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Cooldowns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after clear, got %d", len(entries))
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, ctx := setup(t)

	_, ok, err := s.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no persisted state in a fresh db")
	}

	pin := models.ProfileEconomy
	st := models.BudgetState{
		Severity:     models.SeverityWarning,
		Profile:      models.ProfileBalanced,
		ManualPin:    &pin,
		FallbackMode: models.ModeAggressiveFallback,
		UpdatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected persisted state")
	}
	if got.Severity != st.Severity || got.Profile != st.Profile || got.FallbackMode != st.FallbackMode {
		t.Errorf("state mismatch: %+v", got)
	}
	if got.ManualPin == nil || *got.ManualPin != pin {
		t.Errorf("expected pin %s, got %v", pin, got.ManualPin)
	}

	// Upsert replaces the single row.
	st.ManualPin = nil
	st.Severity = models.SeverityOK
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, _, err = s.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ManualPin != nil || got.Severity != models.SeverityOK {
		t.Errorf("upsert did not replace row: %+v", got)
	}
}

func TestResetKeepsEventLogs(t *testing.T) {
	s, ctx := setup(t)

	if err := s.AppendUsage(ctx, models.UsageEvent{
		Provider: "modal", Model: "llama-4", Outcome: models.OutcomeError, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendTransition(ctx, models.BudgetTransitionEvent{
		FromSeverity: models.SeverityOK, ToSeverity: models.SeverityWarning,
		FromProfile: models.ProfilePerformance, ToProfile: models.ProfileBalanced,
		Reason: "usage recorded", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementAggregate(ctx, models.ScopeDaily, "", "2026-08-31", 5); err != nil {
		t.Fatal(err)
	}
	if err := s.MergeCooldown(ctx, "modal", time.Now().UTC().Add(time.Minute), 1); err != nil {
		t.Fatal(err)
	}

	if err := s.ResetPolicyState(ctx); err != nil {
		t.Fatal(err)
	}

	aggs, err := s.AggregatesForWindow(ctx, "2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 0 {
		t.Errorf("expected aggregates cleared, got %d rows", len(aggs))
	}
	cds, err := s.Cooldowns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cds) != 0 {
		t.Errorf("expected cooldowns cleared, got %d rows", len(cds))
	}

	usage, err := s.RecentUsage(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	transitions, err := s.RecentTransitions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 || len(transitions) != 1 {
		t.Errorf("event logs must survive reset: %d usage, %d transitions", len(usage), len(transitions))
	}
}
