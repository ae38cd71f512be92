package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// APIHandler handles the JSON API consumed by the UI and by service callers
type APIHandler struct {
	db            *gorm.DB
	alerts        *services.AlertService
	incidents     *services.IncidentService
	correlator    *services.CorrelationService
	schedules     *services.ScheduleService
	escalations   *services.EscalationService
	policies      *services.PolicyService
	notifications *services.NotificationService
	webhooks      *WebhookHandler
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	db *gorm.DB,
	alerts *services.AlertService,
	incidents *services.IncidentService,
	correlator *services.CorrelationService,
	schedules *services.ScheduleService,
	escalations *services.EscalationService,
	policies *services.PolicyService,
	notifications *services.NotificationService,
	webhooks *WebhookHandler,
) *APIHandler {
	return &APIHandler{
		db:            db,
		alerts:        alerts,
		incidents:     incidents,
		correlator:    correlator,
		schedules:     schedules,
		escalations:   escalations,
		policies:      policies,
		notifications: notifications,
		webhooks:      webhooks,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Alert ingestion and lookup
	mux.HandleFunc("POST /api/alerts", h.handleIngestAlert)
	mux.HandleFunc("GET /api/alerts", h.handleListAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", h.handleAlertByID)

	// Incidents
	mux.HandleFunc("POST /api/incidents", h.handleCreateIncident)
	mux.HandleFunc("GET /api/incidents", h.handleListIncidents)
	mux.HandleFunc("GET /api/incidents/analytics", h.handleIncidentAnalytics)
	mux.HandleFunc("GET /api/incidents/{id}", h.handleIncidentByID)
	mux.HandleFunc("PATCH /api/incidents/{id}", h.handleUpdateIncident)
	mux.HandleFunc("GET /api/incidents/{id}/metrics", h.handleIncidentMetrics)

	// Schedules and on-call resolution
	mux.HandleFunc("GET /api/schedules", h.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", h.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", h.handleScheduleByID)
	mux.HandleFunc("GET /api/oncall/current", h.handleOnCallCurrent)

	// Escalations and policies
	mux.HandleFunc("POST /api/escalate", h.handleEscalate)
	mux.HandleFunc("GET /api/escalations", h.handleListEscalations)
	mux.HandleFunc("GET /api/escalation-policies", h.handleListPolicies)
	mux.HandleFunc("POST /api/escalation-policies", h.handleCreatePolicy)
	mux.HandleFunc("GET /api/escalation-policies/{team}", h.handlePolicyByTeam)
	mux.HandleFunc("PUT /api/escalation-policies/{team}", h.handleReplacePolicy)
	mux.HandleFunc("DELETE /api/escalation-policies/{team}", h.handleDeletePolicy)
	mux.HandleFunc("GET /api/metrics/oncall", h.handleOnCallMetrics)

	// Notifications
	mux.HandleFunc("POST /api/notify", h.handleNotify)
	mux.HandleFunc("GET /api/notifications", h.handleListNotifications)
	mux.HandleFunc("GET /api/notifications/{id}", h.handleNotificationByID)

	// Correlation settings
	mux.HandleFunc("GET /api/settings/correlation", h.handleGetCorrelationSettings)
	mux.HandleFunc("PUT /api/settings/correlation", h.handleUpdateCorrelationSettings)

	// Alert source instances
	mux.HandleFunc("GET /api/alert-sources", h.handleListAlertSources)
	mux.HandleFunc("POST /api/alert-sources", h.handleCreateAlertSource)
	mux.HandleFunc("GET /api/alert-sources/{uuid}", h.handleAlertSourceByUUID)
	mux.HandleFunc("PUT /api/alert-sources/{uuid}", h.handleUpdateAlertSource)
	mux.HandleFunc("DELETE /api/alert-sources/{uuid}", h.handleDeleteAlertSource)
}

// labelsToJSONB converts request labels to the stored JSONB form
func labelsToJSONB(labels map[string]string) database.JSONB {
	if len(labels) == 0 {
		return nil
	}
	out := make(database.JSONB, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
