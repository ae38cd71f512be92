package handlers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleIngestAlert handles POST /api/alerts
func (h *APIHandler) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req api.IngestAlertRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	alert := &database.Alert{
		Service:  req.Service,
		Severity: database.AlertSeverity(req.Severity),
		Message:  req.Message,
		Labels:   labelsToJSONB(req.Labels),
		Source:   "api",
	}
	if req.Timestamp != nil {
		alert.ObservedAt = req.Timestamp.UTC()
	}

	result, err := h.correlator.Ingest(alert)
	if result == nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to store alert")
		return
	}
	if err != nil {
		// The alert is stored and marked deferred; the recorrelation job
		// will attach it once the store recovers.
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable,
			"correlation_unavailable", "Alert stored; correlation temporarily unavailable")
		return
	}

	api.RespondJSON(w, http.StatusCreated, ingestResultToResponse(result))
}

// handleListAlerts handles GET /api/alerts
func (h *APIHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := services.AlertFilter{
		Service:    r.URL.Query().Get("service"),
		Severity:   r.URL.Query().Get("severity"),
		IncidentID: r.URL.Query().Get("incident_id"),
		Source:     r.URL.Query().Get("source"),
	}
	params := api.ParsePagination(r)

	alerts, total, err := h.alerts.ListAlerts(filter, params.Offset(), params.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	api.RespondPage(w, params, total, alerts)
}

// handleAlertByID handles GET /api/alerts/{id}
func (h *APIHandler) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.GetAlert(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Alert not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get alert")
		return
	}

	api.RespondJSON(w, http.StatusOK, alert)
}

// ingestResultToResponse maps a correlation outcome to the API shape
func ingestResultToResponse(result *services.IngestResult) api.IngestAlertResponse {
	resp := api.IngestAlertResponse{
		AlertID: result.Alert.AlertID,
		Action:  string(result.Action),
	}
	if result.Incident != nil {
		id := result.Incident.IncidentID
		resp.IncidentID = &id
	}
	return resp
}
