package api

import (
	"context"
	"net/http"

	"github.com/steerage-ai/steerage/pkg/models"
)

// GovernorAPI is the slice of the governor the diagnostics surface needs.
type GovernorAPI interface {
	Snapshot(ctx context.Context) models.Snapshot
	SetFallbackMode(ctx context.Context, mode models.FallbackMode) error
	SetManualProfile(ctx context.Context, pin *models.Profile) error
	Reset(ctx context.Context) error
}

type handler struct {
	gov GovernorAPI
}

func newHandler(gov GovernorAPI) *handler {
	return &handler{gov: gov}
}

// telemetryResponse trims the snapshot to what routing dashboards render.
type telemetryResponse struct {
	Directive         models.RoutingDirective        `json:"directive"`
	Severity          models.Severity                `json:"severity"`
	Profile           models.Profile                 `json:"profile"`
	FallbackMode      models.FallbackMode            `json:"fallback_mode"`
	Cooldowns         []models.CooldownStatus        `json:"cooldowns"`
	RecentUsage       []models.UsageEvent            `json:"recent_usage"`
	RecentTransitions []models.BudgetTransitionEvent `json:"recent_transitions"`
}

func (h *handler) getTelemetry(w http.ResponseWriter, r *http.Request) {
	snap := h.gov.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, telemetryResponse{
		Directive:         snap.Directive,
		Severity:          snap.State.Severity,
		Profile:           snap.State.Profile,
		FallbackMode:      snap.State.FallbackMode,
		Cooldowns:         snap.Cooldowns,
		RecentUsage:       snap.RecentUsage,
		RecentTransitions: snap.RecentTransitions,
	})
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gov.Snapshot(r.Context()))
}

func (h *handler) setMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	mode, err := models.ParseFallbackMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	if err := h.gov.SetFallbackMode(r.Context(), mode); err != nil {
		writeError(w, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}

func (h *handler) setProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile *string `json:"profile"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	var pin *models.Profile
	if body.Profile != nil {
		p, err := models.ParseProfile(*body.Profile)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_profile", err.Error())
			return
		}
		pin = &p
	}
	if err := h.gov.SetManualProfile(r.Context(), pin); err != nil {
		writeError(w, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	if pin == nil {
		writeJSON(w, http.StatusOK, map[string]any{"profile": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": string(*pin)})
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.gov.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reset_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
