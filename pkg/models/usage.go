package models

import "time"

// Outcome is the result of one recorded inference attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// UsageEvent is one recorded inference attempt. Events are append-only and
// immutable once written.
type UsageEvent struct {
	ID         int64     `json:"id"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Outcome    Outcome   `json:"outcome"`
	TokensUsed int64     `json:"tokens_used"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AggregateScope names one usage counter dimension.
type AggregateScope string

const (
	ScopeDaily    AggregateScope = "daily"
	ScopeSession  AggregateScope = "session"
	ScopeProvider AggregateScope = "provider"
)

// UsageAggregate is one counter row: requests and tokens for a scope/key
// within a window day. Counters only ever advance within a window; a new
// window day restarts them.
type UsageAggregate struct {
	Scope    AggregateScope `json:"scope"`
	Key      string         `json:"key,omitempty"`
	Window   string         `json:"window"`
	Requests int64          `json:"requests"`
	Tokens   int64          `json:"tokens"`
}

// WindowDay formats a timestamp as the UTC calendar day used for aggregate
// windows.
func WindowDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
