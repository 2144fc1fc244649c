package models

import "time"

// RoutingDirective is the governor's answer to "how should the next call
// behave". It is derived, never persisted: a pure projection of
// (BudgetState, Config, now).
type RoutingDirective struct {
	Profile          Profile      `json:"profile"`
	Severity         Severity     `json:"severity"`
	FallbackMode     FallbackMode `json:"fallback_mode"`
	BlockedProviders []string     `json:"blocked_providers"`
	BlockedModels    []string     `json:"blocked_models"`
	PacingDelayMs    int64        `json:"pacing_delay_ms"`
	Reason           string       `json:"reason"`
	ComputedAt       time.Time    `json:"computed_at"`
}

// ProviderBlocked reports whether the directive excludes a provider.
func (d RoutingDirective) ProviderBlocked(provider string) bool {
	for _, p := range d.BlockedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// ModelBlocked reports whether the directive excludes a model.
func (d RoutingDirective) ModelBlocked(model string) bool {
	for _, m := range d.BlockedModels {
		if m == model {
			return true
		}
	}
	return false
}

// CooldownStatus is the operator-facing view of one provider's circuit.
type CooldownStatus struct {
	Provider            string `json:"provider"`
	RemainingMs         int64  `json:"remaining_ms"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Snapshot is the read-only diagnostics view served to operator tooling,
// incident detection, and the GUI/TUI.
type Snapshot struct {
	State             BudgetState             `json:"state"`
	Directive         RoutingDirective        `json:"directive"`
	Cooldowns         []CooldownStatus        `json:"cooldowns"`
	RecentUsage       []UsageEvent            `json:"recent_usage"`
	RecentTransitions []BudgetTransitionEvent `json:"recent_transitions"`
}
