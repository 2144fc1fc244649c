package governor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/models"
)

// Compute derives a routing directive from a state snapshot. It is a pure
// projection: identical (state, cfg, now, sessionID) inputs always yield an
// identical directive.
func Compute(st models.BudgetState, cfg *config.Config, now time.Time, sessionID string) models.RoutingDirective {
	blocked := make(map[string]bool)

	// Providers still inside an active cooldown window.
	var coolingDown []string
	for name, entry := range st.Cooldowns {
		if entry.Active(now) {
			coolingDown = append(coolingDown, name)
			blocked[name] = true
		}
	}
	sort.Strings(coolingDown)

	severity, detail, overQuota := classifySeverity(st, cfg, sessionID)
	for _, name := range overQuota {
		blocked[name] = true
	}

	profile, profileNote := resolveProfile(st, severity)

	blockedProviders := make([]string, 0, len(blocked))
	for name := range blocked {
		blockedProviders = append(blockedProviders, name)
	}
	sort.Strings(blockedProviders)

	// Models above the profile's tier ceiling are excluded everywhere.
	maxTier := models.MaxTierFor(profile)
	var blockedModels []string
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			if m.Tier.Rank() > maxTier.Rank() && !seen[m.Name] {
				seen[m.Name] = true
				blockedModels = append(blockedModels, m.Name)
			}
		}
	}
	sort.Strings(blockedModels)

	pacing := cfg.PacingFor(profile)

	var reasons []string
	reasons = append(reasons, fmt.Sprintf("severity=%s: %s", severity, detail))
	reasons = append(reasons, fmt.Sprintf("profile=%s (%s)", profile, profileNote))
	if len(coolingDown) > 0 {
		reasons = append(reasons, fmt.Sprintf("cooling down: %s", strings.Join(coolingDown, ", ")))
	}
	if len(overQuota) > 0 {
		reasons = append(reasons, fmt.Sprintf("provider quota exhausted: %s", strings.Join(overQuota, ", ")))
	}

	return models.RoutingDirective{
		Profile:          profile,
		Severity:         severity,
		FallbackMode:     st.FallbackMode,
		BlockedProviders: blockedProviders,
		BlockedModels:    blockedModels,
		PacingDelayMs:    pacing.Milliseconds(),
		Reason:           strings.Join(reasons, "; "),
		ComputedAt:       now,
	}
}

// classifySeverity grades usage aggregates against the configured limits.
// Daily and session dimensions drive the overall severity. A provider that
// exhausts its own request quota is returned in overQuota (to be blocked)
// and contributes at most warning overall, so one spent provider does not
// clamp every other provider to economy.
func classifySeverity(st models.BudgetState, cfg *config.Config, sessionID string) (severity models.Severity, detail string, overQuota []string) {
	severity = models.SeverityOK
	var details []string

	grade := func(used, limit int64, label string) {
		if limit <= 0 {
			return
		}
		pct := used * 100 / limit
		dim := models.SeverityOK
		switch {
		case used >= limit:
			dim = models.SeverityHardLimit
		case pct >= int64(cfg.Limits.WarningPct):
			dim = models.SeverityWarning
		}
		if dim != models.SeverityOK {
			details = append(details, fmt.Sprintf("%s %d/%d (%d%%)", label, used, limit, pct))
		}
		severity = models.MaxSeverity(severity, dim)
	}

	grade(st.Daily.Requests, cfg.Limits.DailyRequests, "daily requests")
	grade(st.Daily.Tokens, cfg.Limits.DailyTokens, "daily tokens")
	if sessionID != "" {
		grade(st.Sessions[sessionID].Requests, cfg.Limits.SessionRequests, "session requests")
	}

	if limit := cfg.Limits.ProviderRequests; limit > 0 {
		providerDim := models.SeverityOK
		for _, p := range cfg.Providers {
			used := st.Providers[p.Name].Requests
			pct := used * 100 / limit
			switch {
			case used >= limit:
				overQuota = append(overQuota, p.Name)
				providerDim = models.SeverityWarning
				details = append(details, fmt.Sprintf("provider %s %d/%d (%d%%)", p.Name, used, limit, pct))
			case pct >= int64(cfg.Limits.WarningPct):
				providerDim = models.MaxSeverity(providerDim, models.SeverityWarning)
				details = append(details, fmt.Sprintf("provider %s %d/%d (%d%%)", p.Name, used, limit, pct))
			}
		}
		severity = models.MaxSeverity(severity, providerDim)
	}

	if len(details) == 0 {
		detail = "all usage within limits"
	} else {
		detail = strings.Join(details, ", ")
	}
	return severity, detail, overQuota
}

// resolveProfile picks the effective profile for a severity, honoring the
// manual pin up to the severity's ceiling. A load-degraded governor always
// answers economy.
func resolveProfile(st models.BudgetState, severity models.Severity) (models.Profile, string) {
	if st.Degraded {
		return models.ProfileEconomy, "state load degraded, most restrictive profile"
	}
	auto := models.MaxProfileFor(severity)
	if st.ManualPin == nil {
		return auto, "auto"
	}
	effective := models.ClampProfile(*st.ManualPin, severity)
	if effective != *st.ManualPin {
		return effective, fmt.Sprintf("pin %s clamped by severity", *st.ManualPin)
	}
	return effective, "pinned"
}
