package models

import "fmt"

// Severity classifies current usage pressure against configured limits.
type Severity string

const (
	SeverityOK        Severity = "ok"
	SeverityWarning   Severity = "warning"
	SeverityHardLimit Severity = "hard_limit"
)

// Rank orders severities from least to most severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityHardLimit:
		return 2
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Profile is a named bundle of routing preferences, selected automatically
// from severity or pinned manually by an operator.
type Profile string

const (
	ProfileEconomy     Profile = "economy"
	ProfileBalanced    Profile = "balanced"
	ProfilePerformance Profile = "performance"
)

// Rank orders profiles from most to least conservative.
func (p Profile) Rank() int {
	switch p {
	case ProfileBalanced:
		return 1
	case ProfilePerformance:
		return 2
	default:
		return 0
	}
}

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileEconomy, ProfileBalanced, ProfilePerformance:
		return Profile(s), nil
	}
	return "", fmt.Errorf("unknown profile %q", s)
}

// MaxProfileFor returns the least conservative profile a severity permits.
// A manual pin can never select past this; under hard_limit the effective
// profile is always economy.
func MaxProfileFor(s Severity) Profile {
	switch s {
	case SeverityHardLimit:
		return ProfileEconomy
	case SeverityWarning:
		return ProfileBalanced
	default:
		return ProfilePerformance
	}
}

// ClampProfile applies the severity ceiling to a requested profile.
func ClampProfile(requested Profile, s Severity) Profile {
	max := MaxProfileFor(s)
	if requested.Rank() > max.Rank() {
		return max
	}
	return requested
}

// ModelTier buckets models by cost. Profiles cap the tier a directive allows.
type ModelTier string

const (
	TierLite     ModelTier = "lite"
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// Rank orders tiers from cheapest to most expensive.
func (t ModelTier) Rank() int {
	switch t {
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	default:
		return 0
	}
}

// ParseTier validates a model tier name.
func ParseTier(s string) (ModelTier, error) {
	switch ModelTier(s) {
	case TierLite, TierStandard, TierPremium:
		return ModelTier(s), nil
	}
	return "", fmt.Errorf("unknown model tier %q", s)
}

// MaxTierFor returns the most expensive model tier a profile allows.
func MaxTierFor(p Profile) ModelTier {
	switch p {
	case ProfileEconomy:
		return TierLite
	case ProfileBalanced:
		return TierStandard
	default:
		return TierPremium
	}
}

// FallbackMode is the operator-selected failover policy.
type FallbackMode string

const (
	// ModeIntelligentPacing waits between attempts and prefers probing the
	// same provider again before advancing.
	ModeIntelligentPacing FallbackMode = "intelligent_pacing"
	// ModeAggressiveFallback advances to the next candidate immediately on
	// any failure, with no pacing delay.
	ModeAggressiveFallback FallbackMode = "aggressive_fallback"
)

// ParseFallbackMode validates a fallback mode name.
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch FallbackMode(s) {
	case ModeIntelligentPacing, ModeAggressiveFallback:
		return FallbackMode(s), nil
	}
	return "", fmt.Errorf("unknown fallback mode %q", s)
}
