package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/metrics"
	"github.com/steerage-ai/steerage/pkg/models"
)

// Clock supplies the current time. Injected so directive computation is
// reproducible with a fake clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Store is the governor's persistence port.
type Store interface {
	AppendUsage(ctx context.Context, ev models.UsageEvent) error
	AppendTransition(ctx context.Context, ev models.BudgetTransitionEvent) error
	IncrementAggregate(ctx context.Context, scope models.AggregateScope, key, window string, tokens int64) error
	AggregatesForWindow(ctx context.Context, window string) ([]models.UsageAggregate, error)
	SaveState(ctx context.Context, st models.BudgetState) error
	LoadState(ctx context.Context) (models.BudgetState, bool, error)
	MergeCooldown(ctx context.Context, provider string, until time.Time, failures int) error
	ClearCooldown(ctx context.Context, provider string) error
	Cooldowns(ctx context.Context) ([]models.CooldownEntry, error)
	RecentUsage(ctx context.Context, limit int) ([]models.UsageEvent, error)
	RecentTransitions(ctx context.Context, limit int) ([]models.BudgetTransitionEvent, error)
	ResetPolicyState(ctx context.Context) error
}

// Governor is the single authority for whether, and under what constraints,
// the next inference call may proceed. It owns the mutable budget state;
// nothing else writes it.
type Governor struct {
	cfg   *config.Config
	clock Clock
	store Store
	log   *slog.Logger
	met   *metrics.Metrics

	mu    sync.Mutex
	state models.BudgetState
}

// New builds a Governor from persisted state. It never fails: malformed or
// unreadable state is reinitialized to defaults with a logged warning,
// because the governor sits on the hot path of every inference call. A load
// failure leaves the governor degraded (economy-only) until a write to the
// store succeeds.
func New(ctx context.Context, cfg *config.Config, st Store, clock Clock, logger *slog.Logger, met *metrics.Metrics) *Governor {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Governor{cfg: cfg, clock: clock, store: st, log: logger, met: met}

	now := clock.Now()
	g.state = models.DefaultBudgetState(now)

	persisted, ok, err := st.LoadState(ctx)
	switch {
	case err != nil:
		g.log.Warn("budget state load failed, starting degraded", "error", err)
		g.state.Degraded = true
	case ok:
		g.adoptPersisted(persisted)
	default:
		g.log.Info("no persisted budget state, starting from defaults")
	}

	if aggs, err := st.AggregatesForWindow(ctx, models.WindowDay(now)); err != nil {
		g.log.Warn("aggregate load failed, starting degraded", "error", err)
		g.state.Degraded = true
	} else {
		for _, a := range aggs {
			switch a.Scope {
			case models.ScopeDaily:
				g.state.Daily = a
			case models.ScopeSession:
				g.state.Sessions[a.Key] = a
			case models.ScopeProvider:
				g.state.Providers[a.Key] = a
			}
		}
	}

	if entries, err := st.Cooldowns(ctx); err != nil {
		g.log.Warn("cooldown load failed, starting degraded", "error", err)
		g.state.Degraded = true
	} else {
		for _, e := range entries {
			g.state.Cooldowns[e.Provider] = e
		}
	}

	g.mu.Lock()
	g.evaluateLocked(ctx, "startup re-evaluation")
	g.mu.Unlock()
	return g
}

// adoptPersisted copies the scalar policy fields from a persisted row,
// falling back to defaults field-by-field when values do not parse.
func (g *Governor) adoptPersisted(p models.BudgetState) {
	if _, err := models.ParseFallbackMode(string(p.FallbackMode)); err == nil {
		g.state.FallbackMode = p.FallbackMode
	} else {
		g.log.Warn("malformed persisted fallback mode, using default", "value", string(p.FallbackMode))
	}
	if _, err := models.ParseProfile(string(p.Profile)); err == nil {
		g.state.Profile = p.Profile
	} else {
		g.log.Warn("malformed persisted profile, using default", "value", string(p.Profile))
	}
	switch p.Severity {
	case models.SeverityOK, models.SeverityWarning, models.SeverityHardLimit:
		g.state.Severity = p.Severity
	default:
		g.log.Warn("malformed persisted severity, using default", "value", string(p.Severity))
	}
	if p.ManualPin != nil {
		if _, err := models.ParseProfile(string(*p.ManualPin)); err == nil {
			g.state.ManualPin = p.ManualPin
		} else {
			g.log.Warn("malformed persisted profile pin, dropping it", "value", string(*p.ManualPin))
		}
	}
}

// Directive answers "how should the next call behave" for a session. No
// side effects, and no suspension between reading state and computing, so
// two concurrent turns cannot observe a half-updated snapshot.
func (g *Governor) Directive(sessionID string) models.RoutingDirective {
	g.mu.Lock()
	st := g.state.Clone()
	g.mu.Unlock()

	d := Compute(st, g.cfg, g.clock.Now(), sessionID)
	if g.met != nil {
		g.met.DirectivesTotal.WithLabelValues(string(d.Severity), string(d.Profile)).Inc()
	}
	return d
}

// RecordUsage appends the event and advances all three aggregates by O(1)
// increments, then re-evaluates severity/profile. Persistence is
// best-effort: a storage failure is logged and the in-memory aggregates
// still advance for the remainder of the process lifetime.
func (g *Governor) RecordUsage(ctx context.Context, ev models.UsageEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = g.clock.Now()
	}
	window := models.WindowDay(ev.CreatedAt)
	g.rollWindowLocked(window)
	// An event dated before the current window (clock skew) counts toward
	// the current window instead of rewinding it.
	if window != g.state.Daily.Window {
		window = g.state.Daily.Window
	}

	g.state.Daily.Requests++
	g.state.Daily.Tokens += ev.TokensUsed
	if ev.SessionID != "" {
		agg := g.state.Sessions[ev.SessionID]
		agg.Scope, agg.Key, agg.Window = models.ScopeSession, ev.SessionID, window
		agg.Requests++
		agg.Tokens += ev.TokensUsed
		g.state.Sessions[ev.SessionID] = agg
	}
	if ev.Provider != "" {
		agg := g.state.Providers[ev.Provider]
		agg.Scope, agg.Key, agg.Window = models.ScopeProvider, ev.Provider, window
		agg.Requests++
		agg.Tokens += ev.TokensUsed
		g.state.Providers[ev.Provider] = agg
	}

	if err := g.store.AppendUsage(ctx, ev); err != nil {
		g.storeError("append_usage", err)
	}
	if err := g.store.IncrementAggregate(ctx, models.ScopeDaily, "", window, ev.TokensUsed); err != nil {
		g.storeError("increment_daily", err)
	}
	if ev.SessionID != "" {
		if err := g.store.IncrementAggregate(ctx, models.ScopeSession, ev.SessionID, window, ev.TokensUsed); err != nil {
			g.storeError("increment_session", err)
		}
	}
	if ev.Provider != "" {
		if err := g.store.IncrementAggregate(ctx, models.ScopeProvider, ev.Provider, window, ev.TokensUsed); err != nil {
			g.storeError("increment_provider", err)
		}
	}

	g.evaluateLocked(ctx, "usage recorded")
}

// rollWindowLocked restarts daily and session counters when the window day
// advances. Provider counters are daily too, so they roll with it. Only
// forward rolls are honored; the YYYY-MM-DD encoding makes the comparison a
// plain string one.
func (g *Governor) rollWindowLocked(window string) {
	if window <= g.state.Daily.Window {
		return
	}
	g.log.Info("usage window rolled", "from", g.state.Daily.Window, "to", window)
	g.state.Daily = models.UsageAggregate{Scope: models.ScopeDaily, Window: window}
	g.state.Sessions = make(map[string]models.UsageAggregate)
	g.state.Providers = make(map[string]models.UsageAggregate)
}

// evaluateLocked re-derives the global severity and effective profile; if
// either changed it writes exactly one transition event. Repeated
// evaluations that land on the same pair write nothing. The classification
// is sessionless: session pressure narrows that session's own directives
// but never flips the shared persisted state.
func (g *Governor) evaluateLocked(ctx context.Context, cause string) {
	severity, detail, _ := classifySeverity(g.state, g.cfg, "")
	profile, _ := resolveProfile(g.state, severity)

	if severity == g.state.Severity && profile == g.state.Profile {
		return
	}

	ev := models.BudgetTransitionEvent{
		FromSeverity: g.state.Severity,
		ToSeverity:   severity,
		FromProfile:  g.state.Profile,
		ToProfile:    profile,
		Reason:       fmt.Sprintf("%s: %s", cause, detail),
		CreatedAt:    g.clock.Now(),
	}
	g.state.Severity = severity
	g.state.Profile = profile
	g.state.UpdatedAt = ev.CreatedAt

	if err := g.store.AppendTransition(ctx, ev); err != nil {
		g.storeError("append_transition", err)
	}
	g.persistStateLocked(ctx)

	g.log.Info("budget transition",
		"from_severity", ev.FromSeverity, "to_severity", ev.ToSeverity,
		"from_profile", ev.FromProfile, "to_profile", ev.ToProfile,
		"reason", ev.Reason)
	if g.met != nil {
		g.met.TransitionsTotal.WithLabelValues(string(severity), string(profile)).Inc()
	}
}

// ApplyProviderCooldown advances or clears a provider's circuit. Failures
// push cooldown_until forward with exponential backoff (never backwards);
// a success closes the circuit entirely.
func (g *Governor) ApplyProviderCooldown(ctx context.Context, provider string, outcome models.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if outcome == models.OutcomeSuccess {
		if _, ok := g.state.Cooldowns[provider]; !ok {
			return
		}
		delete(g.state.Cooldowns, provider)
		if err := g.store.ClearCooldown(ctx, provider); err != nil {
			g.storeError("clear_cooldown", err)
		}
		g.log.Debug("provider cooldown cleared", "provider", provider)
		return
	}

	now := g.clock.Now()
	entry := g.state.Cooldowns[provider]
	entry.Provider = provider

	backoff := g.cfg.Cooldown.Base
	for i := 0; i < entry.ConsecutiveFailures && backoff < g.cfg.Cooldown.Max; i++ {
		backoff *= 2
	}
	if backoff > g.cfg.Cooldown.Max {
		backoff = g.cfg.Cooldown.Max
	}

	if until := now.Add(backoff); until.After(entry.CooldownUntil) {
		entry.CooldownUntil = until
	}
	entry.ConsecutiveFailures++
	g.state.Cooldowns[provider] = entry

	if err := g.store.MergeCooldown(ctx, provider, entry.CooldownUntil, entry.ConsecutiveFailures); err != nil {
		g.storeError("merge_cooldown", err)
	}
	if g.met != nil {
		g.met.CooldownOpens.WithLabelValues(provider).Inc()
	}
	g.log.Warn("provider cooling down",
		"provider", provider, "outcome", outcome,
		"backoff", backoff, "consecutive_failures", entry.ConsecutiveFailures)
}

// CooldownRemaining reports how long a provider's circuit stays open. The
// router re-checks this directly before each attempt as a safety net
// against directives computed just before a cooldown landed.
func (g *Governor) CooldownRemaining(provider string) time.Duration {
	g.mu.Lock()
	entry, ok := g.state.Cooldowns[provider]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return entry.Remaining(g.clock.Now())
}

// SetManualProfile pins the profile, or releases the pin when nil. The pin
// is persisted immediately and survives restarts.
func (g *Governor) SetManualProfile(ctx context.Context, pin *models.Profile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.ManualPin = pin
	g.state.UpdatedAt = g.clock.Now()
	cause := "manual profile pin released"
	if pin != nil {
		cause = fmt.Sprintf("manual profile pinned to %s", *pin)
	}
	g.evaluateLocked(ctx, cause)
	if err := g.store.SaveState(ctx, g.state); err != nil {
		g.storeError("save_state", err)
		return fmt.Errorf("persist manual profile: %w", err)
	}
	g.state.Degraded = false
	g.log.Info("manual profile updated", "cause", cause)
	return nil
}

// SetFallbackMode switches failover behavior; persisted immediately.
func (g *Governor) SetFallbackMode(ctx context.Context, mode models.FallbackMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.FallbackMode = mode
	g.state.UpdatedAt = g.clock.Now()
	if err := g.store.SaveState(ctx, g.state); err != nil {
		g.storeError("save_state", err)
		return fmt.Errorf("persist fallback mode: %w", err)
	}
	g.state.Degraded = false
	g.log.Info("fallback mode updated", "mode", mode)
	return nil
}

// Reset zeroes aggregates and cooldowns. The immutable event logs are kept.
// The store is reset first; a failure there leaves the in-memory state
// untouched so memory and store never diverge.
func (g *Governor) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.ResetPolicyState(ctx); err != nil {
		return fmt.Errorf("reset policy state: %w", err)
	}

	now := g.clock.Now()
	g.state.Daily = models.UsageAggregate{Scope: models.ScopeDaily, Window: models.WindowDay(now)}
	g.state.Sessions = make(map[string]models.UsageAggregate)
	g.state.Providers = make(map[string]models.UsageAggregate)
	g.state.Cooldowns = make(map[string]models.CooldownEntry)

	g.evaluateLocked(ctx, "administrative reset")
	g.log.Info("policy state reset")
	return nil
}

// Snapshot assembles the full diagnostics view: state, a session-less
// directive, per-provider cooldown remaining, and recent events.
func (g *Governor) Snapshot(ctx context.Context) models.Snapshot {
	g.mu.Lock()
	st := g.state.Clone()
	g.mu.Unlock()

	now := g.clock.Now()
	snap := models.Snapshot{
		State:     st,
		Directive: Compute(st, g.cfg, now, ""),
	}

	for name, entry := range st.Cooldowns {
		snap.Cooldowns = append(snap.Cooldowns, models.CooldownStatus{
			Provider:            name,
			RemainingMs:         entry.Remaining(now).Milliseconds(),
			ConsecutiveFailures: entry.ConsecutiveFailures,
		})
	}
	sort.Slice(snap.Cooldowns, func(i, j int) bool {
		return snap.Cooldowns[i].Provider < snap.Cooldowns[j].Provider
	})

	usage, transitions, err := g.RecentEvents(ctx, 20)
	if err != nil {
		g.log.Warn("recent events unavailable for snapshot", "error", err)
	}
	snap.RecentUsage = usage
	snap.RecentTransitions = transitions
	return snap
}

// RecentEvents returns the newest usage and transition events.
func (g *Governor) RecentEvents(ctx context.Context, limit int) ([]models.UsageEvent, []models.BudgetTransitionEvent, error) {
	usage, err := g.store.RecentUsage(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("recent usage: %w", err)
	}
	transitions, err := g.store.RecentTransitions(ctx, limit)
	if err != nil {
		return usage, nil, fmt.Errorf("recent transitions: %w", err)
	}
	return usage, transitions, nil
}

func (g *Governor) persistStateLocked(ctx context.Context) {
	if err := g.store.SaveState(ctx, g.state); err != nil {
		g.storeError("save_state", err)
		return
	}
	g.state.Degraded = false
}

func (g *Governor) storeError(op string, err error) {
	g.log.Warn("store operation failed, continuing in-memory", "op", op, "error", err)
	if g.met != nil {
		g.met.StoreErrors.WithLabelValues(op).Inc()
	}
}
