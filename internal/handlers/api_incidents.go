package handlers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleCreateIncident handles POST /api/incidents. Manually created
// incidents go through the same assignment flow as correlated ones: on-call
// lookup, page, escalation timer.
func (h *APIHandler) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req api.CreateIncidentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	incident := &database.Incident{
		Title:       req.Title,
		Service:     req.Service,
		Severity:    database.AlertSeverity(req.Severity),
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
	}
	if err := h.incidents.Create(incident); err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to create incident")
		return
	}

	h.correlator.AssignAndTrack(incident)

	created, err := h.incidents.GetIncident(incident.IncidentID)
	if err != nil {
		created = incident
	}
	api.RespondJSON(w, http.StatusCreated, api.IncidentToResponse(*created))
}

// handleListIncidents handles GET /api/incidents
func (h *APIHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := services.IncidentFilter{
		Status:   r.URL.Query().Get("status"),
		Severity: r.URL.Query().Get("severity"),
		Service:  r.URL.Query().Get("service"),
	}
	params := api.ParsePagination(r)

	incidents, total, err := h.incidents.ListIncidents(filter, params.Offset(), params.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list incidents")
		return
	}

	api.RespondPage(w, params, total, api.IncidentsToResponses(incidents))
}

// handleIncidentByID handles GET /api/incidents/{id}, returning the incident
// with its linked alerts and timeline
func (h *APIHandler) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	incidentID := r.PathValue("id")

	incident, err := h.incidents.GetIncident(incidentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Incident not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get incident")
		return
	}

	alerts, err := h.incidents.GetIncidentAlerts(incidentID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to get incident alerts")
		return
	}
	timeline, err := h.incidents.GetTimeline(incidentID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to get incident timeline")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentDetailResponse{
		IncidentResponse: api.IncidentToResponse(*incident),
		Alerts:           alerts,
		Timeline:         timeline,
	})
}

// handleUpdateIncident handles PATCH /api/incidents/{id}. Status moves are
// forward-only; a note is appended, never replaced; reassignment does not
// touch status.
func (h *APIHandler) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	incidentID := r.PathValue("id")

	var req api.UpdateIncidentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IsEmpty() {
		api.RespondError(w, http.StatusBadRequest, "At least one of status, assigned_to, note is required")
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	incident, err := h.incidents.GetIncident(incidentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Incident not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get incident")
		return
	}

	if req.Status != nil {
		note := ""
		if req.Note != nil {
			note = *req.Note
		}
		incident, err = h.incidents.Transition(incidentID, database.IncidentStatus(*req.Status), note)
		if err != nil {
			if errors.Is(err, services.ErrInvalidTransition) {
				api.RespondErrorWithCode(w, http.StatusConflict, "invalid_transition", err.Error())
				return
			}
			api.RespondError(w, http.StatusInternalServerError, "Failed to update incident status")
			return
		}
	}

	if req.AssignedTo != nil {
		incident, err = h.incidents.Reassign(incidentID, *req.AssignedTo)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to reassign incident")
			return
		}
	}

	if req.Note != nil {
		incident, err = h.incidents.AddNote(incidentID, *req.Note)
		if err != nil {
			api.RespondError(w, http.StatusInternalServerError, "Failed to add note")
			return
		}
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*incident))
}

// handleIncidentAnalytics handles GET /api/incidents/analytics
func (h *APIHandler) handleIncidentAnalytics(w http.ResponseWriter, r *http.Request) {
	filter := services.IncidentFilter{
		Severity: r.URL.Query().Get("severity"),
		Service:  r.URL.Query().Get("service"),
	}

	rollup, err := h.incidents.Aggregate(filter)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to compute analytics")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.AnalyticsResponse{
		Total:             rollup.Total,
		OpenCount:         rollup.OpenCount,
		AcknowledgedCount: rollup.AcknowledgedCount,
		ResolvedCount:     rollup.ResolvedCount,
		AvgMTTASeconds:    rollup.AvgMTTASeconds,
		MinMTTASeconds:    rollup.MinMTTASeconds,
		MaxMTTASeconds:    rollup.MaxMTTASeconds,
		AvgMTTRSeconds:    rollup.AvgMTTRSeconds,
		MinMTTRSeconds:    rollup.MinMTTRSeconds,
		MaxMTTRSeconds:    rollup.MaxMTTRSeconds,
		BySeverity:        rollup.BySeverity,
		ByService:         rollup.ByService,
	})
}

// handleIncidentMetrics handles GET /api/incidents/{id}/metrics
func (h *APIHandler) handleIncidentMetrics(w http.ResponseWriter, r *http.Request) {
	incident, err := h.incidents.GetIncident(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Incident not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get incident")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.IncidentToMetrics(*incident))
}
