package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/metrics"
	"github.com/steerage-ai/steerage/pkg/models"
)

// ErrRateLimited is the sentinel an Invoker wraps when a provider answers
// with a rate limit (HTTP 429 or equivalent). Any other error is treated as
// a transient transport/provider error; both take the same failover path.
var ErrRateLimited = errors.New("provider rate limited")

// Request is the opaque inference payload carried through a turn. The
// router never parses it.
type Request struct {
	SessionID string
	Body      []byte
}

// Response is one successful provider answer.
type Response struct {
	Provider   string
	Model      string
	TokensUsed int64
	Body       []byte
}

// Invoker performs one inference attempt against a provider model. The
// actual provider HTTP transport lives behind this port.
type Invoker interface {
	Invoke(ctx context.Context, provider, model string, req *Request) (*Response, error)
}

// Governor is the slice of the budget governor the router reports to.
type Governor interface {
	RecordUsage(ctx context.Context, ev models.UsageEvent)
	ApplyProviderCooldown(ctx context.Context, provider string, outcome models.Outcome)
	CooldownRemaining(provider string) time.Duration
}

// Candidate is one (provider, model) pair in priority order.
type Candidate struct {
	Provider string
	Model    string
}

// CandidateDiagnostic explains why one candidate did not produce a result.
type CandidateDiagnostic struct {
	Provider          string        `json:"provider"`
	Model             string        `json:"model"`
	Reason            string        `json:"reason"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

func (d CandidateDiagnostic) String() string {
	if d.CooldownRemaining > 0 {
		return fmt.Sprintf("%s/%s: %s (retry in %s)", d.Provider, d.Model, d.Reason, d.CooldownRemaining.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s/%s: %s", d.Provider, d.Model, d.Reason)
}

// AllProvidersUnavailableError is returned when the failover loop exhausts
// every candidate. It carries one diagnostic per candidate so the gateway
// can surface an accurate message instead of a generic timeout.
type AllProvidersUnavailableError struct {
	Diagnostics []CandidateDiagnostic
}

func (e *AllProvidersUnavailableError) Error() string {
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return "all providers unavailable: " + strings.Join(parts, "; ")
}

// Router turns a directive plus the configured provider priority list into
// one successful, or exhaustively failed, inference attempt.
type Router struct {
	cfg     *config.Config
	gov     Governor
	invoker Invoker
	log     *slog.Logger
	met     *metrics.Metrics

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Router.
func New(cfg *config.Config, gov Governor, invoker Invoker, logger *slog.Logger, met *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		gov:     gov,
		invoker: invoker,
		log:     logger,
		met:     met,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SelectCandidates builds the ordered candidate list from configuration,
// filtered by the directive. Filtered-out pairs come back as diagnostics so
// an empty candidate list can still explain itself.
func (r *Router) SelectCandidates(directive models.RoutingDirective) ([]Candidate, []CandidateDiagnostic) {
	var cands []Candidate
	var skipped []CandidateDiagnostic
	for _, p := range r.cfg.Providers {
		for _, m := range p.Models {
			switch {
			case !p.HasCredentials():
				skipped = append(skipped, CandidateDiagnostic{Provider: p.Name, Model: m.Name, Reason: "no credentials"})
			case directive.ProviderBlocked(p.Name):
				d := CandidateDiagnostic{Provider: p.Name, Model: m.Name, Reason: "provider blocked"}
				if rem := r.gov.CooldownRemaining(p.Name); rem > 0 {
					d.Reason = "cooldown"
					d.CooldownRemaining = rem
				}
				skipped = append(skipped, d)
			case directive.ModelBlocked(m.Name):
				skipped = append(skipped, CandidateDiagnostic{Provider: p.Name, Model: m.Name, Reason: "model blocked by severity"})
			default:
				cands = append(cands, Candidate{Provider: p.Name, Model: m.Name})
			}
		}
	}
	return cands, skipped
}

// ExecuteWithFailover iterates candidates until one succeeds. The loop is
// bounded: each candidate is attempted at most twice (the second time only
// as an intelligent-pacing probe), so it never retries indefinitely. Every
// attempt is reported to the governor.
func (r *Router) ExecuteWithFailover(ctx context.Context, req *Request, directive models.RoutingDirective) (*Response, error) {
	cands, skipped := r.SelectCandidates(directive)
	if len(cands) == 0 {
		if r.met != nil {
			r.met.ExhaustedTotal.Inc()
		}
		return nil, &AllProvidersUnavailableError{Diagnostics: skipped}
	}

	pacing := time.Duration(directive.PacingDelayMs) * time.Millisecond
	pacingMode := directive.FallbackMode == models.ModeIntelligentPacing
	diags := skipped
	probed := make(map[int]bool, len(cands))

	for i := 0; i < len(cands); {
		c := cands[i]

		// Safety net: a cooldown may have landed after the directive was
		// computed. Re-check live state before spending an attempt. A
		// sanctioned pacing probe passes through: its cooldown window ends
		// before the pacing sleep does.
		if rem := r.gov.CooldownRemaining(c.Provider); rem > 0 {
			probe := pacingMode && probed[i] && rem <= pacing
			if !probe {
				diags = append(diags, CandidateDiagnostic{Provider: c.Provider, Model: c.Model, Reason: "cooldown", CooldownRemaining: rem})
				i++
				continue
			}
		}

		if pacingMode && pacing > 0 {
			if r.met != nil {
				r.met.PacingSleeps.Observe(pacing.Seconds())
			}
			if err := r.sleep(ctx, pacing); err != nil {
				return nil, err
			}
		}

		resp, err := r.attempt(ctx, c, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		reason := "error"
		if errors.Is(err, ErrRateLimited) {
			reason = "rate limited"
		}
		diags = append(diags, CandidateDiagnostic{
			Provider:          c.Provider,
			Model:             c.Model,
			Reason:            reason,
			CooldownRemaining: r.gov.CooldownRemaining(c.Provider),
		})

		// Intelligent pacing prefers probing the same candidate again when
		// its cooldown window will have elapsed after the next pacing
		// sleep; otherwise, and always in aggressive mode, advance.
		if pacingMode && !probed[i] && r.gov.CooldownRemaining(c.Provider) <= pacing {
			probed[i] = true
			continue
		}
		i++
	}

	if r.met != nil {
		r.met.ExhaustedTotal.Inc()
	}
	return nil, &AllProvidersUnavailableError{Diagnostics: diags}
}

// attempt performs one bounded provider call and reports it to the
// governor, success or failure. Usage accounting reflects attempts made; a
// caller abandoning the turn never undoes an event already recorded.
func (r *Router) attempt(ctx context.Context, c Candidate, req *Request) (*Response, error) {
	attemptID := uuid.NewString()
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.invoker.Invoke(attemptCtx, c.Provider, c.Model, req)
	latency := time.Since(start)

	outcome := models.OutcomeSuccess
	var tokens int64
	switch {
	case err == nil:
		tokens = resp.TokensUsed
	case errors.Is(err, ErrRateLimited):
		outcome = models.OutcomeRateLimited
	default:
		outcome = models.OutcomeError
	}

	sessionID := ""
	if req != nil {
		sessionID = req.SessionID
	}
	// Report with a fresh context: accounting must survive the caller
	// abandoning the request.
	r.gov.RecordUsage(context.WithoutCancel(ctx), models.UsageEvent{
		AttemptID:  attemptID,
		SessionID:  sessionID,
		Provider:   c.Provider,
		Model:      c.Model,
		Outcome:    outcome,
		TokensUsed: tokens,
		LatencyMs:  latency.Milliseconds(),
	})
	r.gov.ApplyProviderCooldown(context.WithoutCancel(ctx), c.Provider, outcome)

	if r.met != nil {
		r.met.AttemptsTotal.WithLabelValues(c.Provider, c.Model, string(outcome)).Inc()
		r.met.AttemptDuration.WithLabelValues(c.Provider).Observe(latency.Seconds())
	}

	if err != nil {
		r.log.Warn("provider attempt failed",
			"attempt_id", attemptID, "provider", c.Provider, "model", c.Model,
			"outcome", outcome, "latency_ms", latency.Milliseconds(), "error", err)
		return nil, err
	}
	r.log.Debug("provider attempt succeeded",
		"attempt_id", attemptID, "provider", c.Provider, "model", c.Model,
		"tokens", tokens, "latency_ms", latency.Milliseconds())
	return resp, nil
}
