package handlers

import (
	"net/http"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
)

// handleGetCorrelationSettings handles GET /api/settings/correlation
func (h *APIHandler) handleGetCorrelationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := database.GetOrCreateCorrelationSettings(h.db)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to load correlation settings")
		return
	}
	api.RespondJSON(w, http.StatusOK, settings)
}

// handleUpdateCorrelationSettings handles PUT /api/settings/correlation.
// The correlator reads the row on every decision, so changes apply to the
// next ingested alert without a restart.
func (h *APIHandler) handleUpdateCorrelationSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateCorrelationSettingsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}
	if req.Enabled == nil && req.WindowMinutes == nil {
		api.RespondError(w, http.StatusBadRequest, "At least one of enabled, window_minutes is required")
		return
	}

	settings, err := database.GetOrCreateCorrelationSettings(h.db)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to load correlation settings")
		return
	}

	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.WindowMinutes != nil {
		settings.WindowMinutes = *req.WindowMinutes
	}

	if err := database.UpdateCorrelationSettings(h.db, settings); err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to update correlation settings")
		return
	}

	api.RespondJSON(w, http.StatusOK, settings)
}
