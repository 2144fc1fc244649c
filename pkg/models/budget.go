package models

import "time"

// BudgetTransitionEvent records a severity/profile change. Append-only;
// repeated evaluations landing on the same severity and profile write
// nothing.
type BudgetTransitionEvent struct {
	ID           int64     `json:"id"`
	FromSeverity Severity  `json:"from_severity"`
	ToSeverity   Severity  `json:"to_severity"`
	FromProfile  Profile   `json:"from_profile"`
	ToProfile    Profile   `json:"to_profile"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// CooldownEntry is per-provider circuit state. CooldownUntil only ever moves
// forward between successes; a success clears the entry.
type CooldownEntry struct {
	Provider            string    `json:"provider"`
	CooldownUntil       time.Time `json:"cooldown_until"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Active reports whether the provider is still inside its cooldown window
// (circuit open). Once the window elapses the provider is selectable again
// as a half-open probe.
func (c CooldownEntry) Active(now time.Time) bool {
	return now.Before(c.CooldownUntil)
}

// Remaining returns how much of the cooldown window is left, or zero.
func (c CooldownEntry) Remaining(now time.Time) time.Duration {
	if !c.Active(now) {
		return 0
	}
	return c.CooldownUntil.Sub(now)
}

// BudgetState is the governor's working state: the scalar policy fields
// persisted in the single runtime_budget_state row plus the aggregate and
// cooldown views assembled from their own tables.
type BudgetState struct {
	Severity     Severity     `json:"severity"`
	Profile      Profile      `json:"profile"`
	ManualPin    *Profile     `json:"manual_profile_pin,omitempty"`
	FallbackMode FallbackMode `json:"fallback_mode"`

	Daily     UsageAggregate            `json:"daily"`
	Sessions  map[string]UsageAggregate `json:"sessions,omitempty"`
	Providers map[string]UsageAggregate `json:"providers,omitempty"`
	Cooldowns map[string]CooldownEntry  `json:"cooldowns,omitempty"`

	// Degraded is set when persisted state could not be loaded; directives
	// fall back to economy until a write succeeds again.
	Degraded  bool      `json:"degraded,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so directive computation can work on an
// immutable snapshot.
func (s BudgetState) Clone() BudgetState {
	out := s
	if s.ManualPin != nil {
		pin := *s.ManualPin
		out.ManualPin = &pin
	}
	out.Sessions = make(map[string]UsageAggregate, len(s.Sessions))
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	out.Providers = make(map[string]UsageAggregate, len(s.Providers))
	for k, v := range s.Providers {
		out.Providers[k] = v
	}
	out.Cooldowns = make(map[string]CooldownEntry, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		out.Cooldowns[k] = v
	}
	return out
}

// DefaultBudgetState returns the state a governor starts from when nothing
// is persisted yet.
func DefaultBudgetState(now time.Time) BudgetState {
	return BudgetState{
		Severity:     SeverityOK,
		Profile:      ProfilePerformance,
		FallbackMode: ModeIntelligentPacing,
		Daily:        UsageAggregate{Scope: ScopeDaily, Window: WindowDay(now)},
		Sessions:     make(map[string]UsageAggregate),
		Providers:    make(map[string]UsageAggregate),
		Cooldowns:    make(map[string]CooldownEntry),
		UpdatedAt:    now,
	}
}
