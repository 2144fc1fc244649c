package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/steerage-ai/steerage/pkg/models"
)

// Store persists governor state in SQLite: two append-only event logs, the
// single budget-state row, normalized usage counters, and per-provider
// cooldowns. Only the governor writes here.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runtime_usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	outcome TEXT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_created ON runtime_usage_events(created_at);

CREATE TABLE IF NOT EXISTS runtime_budget_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_severity TEXT NOT NULL,
	to_severity TEXT NOT NULL,
	from_profile TEXT NOT NULL,
	to_profile TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budget_events_created ON runtime_budget_events(created_at);

CREATE TABLE IF NOT EXISTS runtime_budget_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	severity TEXT NOT NULL,
	profile TEXT NOT NULL,
	manual_profile TEXT NOT NULL DEFAULT '',
	fallback_mode TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runtime_usage_aggregates (
	scope TEXT NOT NULL,
	key TEXT NOT NULL DEFAULT '',
	window_day TEXT NOT NULL,
	requests INTEGER NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scope, key, window_day)
);

CREATE TABLE IF NOT EXISTS runtime_cooldowns (
	provider TEXT PRIMARY KEY,
	cooldown_until DATETIME NOT NULL,
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);
`

// New opens the database and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendUsage appends one usage event. The log is append-only; there is no
// update or delete path.
func (s *Store) AppendUsage(ctx context.Context, ev models.UsageEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_usage_events (attempt_id, session_id, provider, model, outcome, tokens_used, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.AttemptID, ev.SessionID, ev.Provider, ev.Model, string(ev.Outcome), ev.TokensUsed, ev.LatencyMs, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// AppendTransition appends one severity/profile transition event.
func (s *Store) AppendTransition(ctx context.Context, ev models.BudgetTransitionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_budget_events (from_severity, to_severity, from_profile, to_profile, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.FromSeverity), string(ev.ToSeverity), string(ev.FromProfile), string(ev.ToProfile), ev.Reason, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transition event: %w", err)
	}
	return nil
}

// IncrementAggregate advances one counter row. The increment happens in SQL
// so two concurrent completions never lose an update.
func (s *Store) IncrementAggregate(ctx context.Context, scope models.AggregateScope, key, window string, tokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_usage_aggregates (scope, key, window_day, requests, tokens)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(scope, key, window_day)
		 DO UPDATE SET requests = requests + 1, tokens = tokens + excluded.tokens`,
		string(scope), key, window, tokens,
	)
	if err != nil {
		return fmt.Errorf("increment aggregate: %w", err)
	}
	return nil
}

// AggregatesForWindow returns all counter rows for a window day.
func (s *Store) AggregatesForWindow(ctx context.Context, window string) ([]models.UsageAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, key, window_day, requests, tokens FROM runtime_usage_aggregates WHERE window_day = ?`,
		window,
	)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []models.UsageAggregate
	for rows.Next() {
		var a models.UsageAggregate
		var scope string
		if err := rows.Scan(&scope, &a.Key, &a.Window, &a.Requests, &a.Tokens); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		a.Scope = models.AggregateScope(scope)
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// SaveState upserts the scalar policy fields of the budget state row.
func (s *Store) SaveState(ctx context.Context, st models.BudgetState) error {
	manual := ""
	if st.ManualPin != nil {
		manual = string(*st.ManualPin)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_budget_state (id, severity, profile, manual_profile, fallback_mode, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			profile = excluded.profile,
			manual_profile = excluded.manual_profile,
			fallback_mode = excluded.fallback_mode,
			updated_at = excluded.updated_at`,
		string(st.Severity), string(st.Profile), manual, string(st.FallbackMode), st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState reads the budget state row. The second return value is false
// when no row has been persisted yet.
func (s *Store) LoadState(ctx context.Context) (models.BudgetState, bool, error) {
	var severity, profile, manual, mode string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT severity, profile, manual_profile, fallback_mode, updated_at FROM runtime_budget_state WHERE id = 1`,
	).Scan(&severity, &profile, &manual, &mode, &updatedAt)
	if err == sql.ErrNoRows {
		return models.BudgetState{}, false, nil
	}
	if err != nil {
		return models.BudgetState{}, false, fmt.Errorf("load state: %w", err)
	}

	st := models.BudgetState{
		Severity:     models.Severity(severity),
		Profile:      models.Profile(profile),
		FallbackMode: models.FallbackMode(mode),
		UpdatedAt:    updatedAt,
	}
	if manual != "" {
		pin := models.Profile(manual)
		st.ManualPin = &pin
	}
	return st, true, nil
}

// MergeCooldown upserts a provider cooldown, keeping the later of the old
// and new cooldown_until so the window is monotonically non-decreasing.
func (s *Store) MergeCooldown(ctx context.Context, provider string, until time.Time, failures int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runtime_cooldowns (provider, cooldown_until, consecutive_failures)
		 VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET
			cooldown_until = MAX(cooldown_until, excluded.cooldown_until),
			consecutive_failures = excluded.consecutive_failures`,
		provider, until, failures,
	)
	if err != nil {
		return fmt.Errorf("merge cooldown: %w", err)
	}
	return nil
}

// ClearCooldown removes a provider's circuit state after a success.
func (s *Store) ClearCooldown(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runtime_cooldowns WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}
	return nil
}

// Cooldowns returns all persisted provider circuit entries.
func (s *Store) Cooldowns(ctx context.Context) ([]models.CooldownEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, cooldown_until, consecutive_failures FROM runtime_cooldowns`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cooldowns: %w", err)
	}
	defer rows.Close()

	var entries []models.CooldownEntry
	for rows.Next() {
		var e models.CooldownEntry
		if err := rows.Scan(&e.Provider, &e.CooldownUntil, &e.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentUsage returns the newest usage events, newest first.
func (s *Store) RecentUsage(ctx context.Context, limit int) ([]models.UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, session_id, provider, model, outcome, tokens_used, latency_ms, created_at
		 FROM runtime_usage_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var events []models.UsageEvent
	for rows.Next() {
		var ev models.UsageEvent
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.AttemptID, &ev.SessionID, &ev.Provider, &ev.Model, &outcome, &ev.TokensUsed, &ev.LatencyMs, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		ev.Outcome = models.Outcome(outcome)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentTransitions returns the newest transition events, newest first.
func (s *Store) RecentTransitions(ctx context.Context, limit int) ([]models.BudgetTransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_severity, to_severity, from_profile, to_profile, reason, created_at
		 FROM runtime_budget_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transition events: %w", err)
	}
	defer rows.Close()

	var events []models.BudgetTransitionEvent
	for rows.Next() {
		var ev models.BudgetTransitionEvent
		var fs, ts, fp, tp string
		if err := rows.Scan(&ev.ID, &fs, &ts, &fp, &tp, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition event: %w", err)
		}
		ev.FromSeverity, ev.ToSeverity = models.Severity(fs), models.Severity(ts)
		ev.FromProfile, ev.ToProfile = models.Profile(fp), models.Profile(tp)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ResetPolicyState zeroes aggregates and cooldowns. The immutable event
// logs are left untouched.
func (s *Store) ResetPolicyState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runtime_usage_aggregates`); err != nil {
		return fmt.Errorf("reset aggregates: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runtime_cooldowns`); err != nil {
		return fmt.Errorf("reset cooldowns: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
