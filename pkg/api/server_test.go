package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/governor"
	"github.com/steerage-ai/steerage/pkg/models"
	"github.com/steerage-ai/steerage/pkg/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func setup(t *testing.T) (http.Handler, *governor.Governor) {
	t.Helper()
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "modal", APIKey: "mk-1", Models: []config.ModelConfig{{Name: "llama-4", Tier: models.TierStandard}}},
	}
	cfg.Limits.DailyRequests = 100

	st, err := store.New(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	gov := governor.New(context.Background(), cfg, st, clock, logger, nil)

	srv := New(":0", gov, nil, logger)
	return srv.Handler(), gov
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := setup(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetTelemetry(t *testing.T) {
	h, gov := setup(t)
	ctx := context.Background()

	for i := 0; i < 85; i++ {
		gov.RecordUsage(ctx, models.UsageEvent{
			Provider: "modal", Model: "llama-4", Outcome: models.OutcomeSuccess, TokensUsed: 10,
		})
	}
	gov.ApplyProviderCooldown(ctx, "modal", models.OutcomeRateLimited)

	rec := doJSON(t, h, http.MethodGet, "/routing/telemetry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp telemetryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.SeverityWarning, resp.Severity)
	assert.Equal(t, models.ProfileBalanced, resp.Profile)
	assert.Equal(t, models.ModeIntelligentPacing, resp.FallbackMode)
	require.Len(t, resp.Cooldowns, 1)
	assert.Equal(t, "modal", resp.Cooldowns[0].Provider)
	assert.Positive(t, resp.Cooldowns[0].RemainingMs)
	assert.NotEmpty(t, resp.RecentUsage)
	assert.NotEmpty(t, resp.RecentTransitions)
	assert.Contains(t, resp.Directive.BlockedProviders, "modal")
}

func TestGetSnapshot(t *testing.T) {
	h, gov := setup(t)
	gov.RecordUsage(context.Background(), models.UsageEvent{
		Provider: "modal", Model: "llama-4", Outcome: models.OutcomeSuccess, TokensUsed: 7,
	})

	rec := doJSON(t, h, http.MethodGet, "/budget/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap.State.Daily.Requests)
	assert.EqualValues(t, 7, snap.State.Daily.Tokens)
	assert.Equal(t, models.SeverityOK, snap.Directive.Severity)
}

func TestSetMode(t *testing.T) {
	h, gov := setup(t)

	rec := doJSON(t, h, http.MethodPost, "/routing/mode", map[string]string{"mode": "aggressive_fallback"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"aggressive_fallback"}`, rec.Body.String())
	assert.Equal(t, models.ModeAggressiveFallback, gov.Directive("").FallbackMode)
}

func TestSetModeUnknownValue(t *testing.T) {
	h, _ := setup(t)

	rec := doJSON(t, h, http.MethodPost, "/routing/mode", map[string]string{"mode": "turbo"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_mode", env.Error.Code)
}

func TestSetModeMalformedBody(t *testing.T) {
	h, _ := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/routing/mode", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAndReleaseProfile(t *testing.T) {
	h, gov := setup(t)

	rec := doJSON(t, h, http.MethodPost, "/budget/profile", map[string]any{"profile": "economy"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ProfileEconomy, gov.Directive("").Profile)

	rec = doJSON(t, h, http.MethodPost, "/budget/profile", map[string]any{"profile": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"profile":null}`, rec.Body.String())
	assert.Equal(t, models.ProfilePerformance, gov.Directive("").Profile)
}

func TestSetProfileUnknownValue(t *testing.T) {
	h, _ := setup(t)

	rec := doJSON(t, h, http.MethodPost, "/budget/profile", map[string]any{"profile": "ludicrous"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_profile", env.Error.Code)
}

func TestResetEndpoint(t *testing.T) {
	h, gov := setup(t)
	ctx := context.Background()

	for i := 0; i < 90; i++ {
		gov.RecordUsage(ctx, models.UsageEvent{
			Provider: "modal", Model: "llama-4", Outcome: models.OutcomeSuccess, TokensUsed: 10,
		})
	}
	require.Equal(t, models.SeverityWarning, gov.Directive("").Severity)

	rec := doJSON(t, h, http.MethodPost, "/budget/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SeverityOK, gov.Directive("").Severity)
}
