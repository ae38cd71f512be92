package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"sort"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/alerts"
	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// WebhookHandler receives alert webhooks from external monitoring systems.
// Each configured alert source instance gets its own URL keyed by UUID;
// parsing is delegated to the adapter registered for the instance's source
// type.
type WebhookHandler struct {
	correlator *services.CorrelationService
	alerts     *services.AlertService
	adapters   map[string]alerts.SourceAdapter
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(correlator *services.CorrelationService, alertService *services.AlertService) *WebhookHandler {
	return &WebhookHandler{
		correlator: correlator,
		alerts:     alertService,
		adapters:   make(map[string]alerts.SourceAdapter),
	}
}

// RegisterAdapter registers a source adapter by its source type
func (h *WebhookHandler) RegisterAdapter(adapter alerts.SourceAdapter) {
	h.adapters[adapter.SourceType()] = adapter
	log.Printf("Registered alert source adapter: %s", adapter.SourceType())
}

// HasAdapter reports whether an adapter is registered for the source type
func (h *WebhookHandler) HasAdapter(sourceType string) bool {
	_, ok := h.adapters[sourceType]
	return ok
}

// SourceTypes returns the registered source types, sorted
func (h *WebhookHandler) SourceTypes() []string {
	types := make([]string, 0, len(h.adapters))
	for t := range h.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SetupRoutes sets up webhook routes
func (h *WebhookHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/{instance}", h.HandleWebhook)
}

// HandleWebhook ingests a webhook delivery for one alert source instance.
// Resolved notifications are parsed but skipped; every firing alert runs
// through correlation individually.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	instanceUUID := r.PathValue("instance")

	instance, err := h.alerts.GetInstanceByUUID(instanceUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Unknown webhook endpoint")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to look up webhook endpoint")
		return
	}
	if !instance.Enabled {
		api.RespondError(w, http.StatusForbidden, "Alert source is disabled")
		return
	}

	adapter, ok := h.adapters[instance.SourceType]
	if !ok {
		api.RespondError(w, http.StatusBadRequest, "Unsupported source type: "+instance.SourceType)
		return
	}

	if err := adapter.ValidateWebhookSecret(r, instance); err != nil {
		api.RespondError(w, http.StatusUnauthorized, "Webhook authentication failed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	normalized, err := adapter.ParsePayload(body, instance)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "Failed to parse payload: "+err.Error())
		return
	}

	results := make([]api.IngestAlertResponse, 0, len(normalized))
	for _, n := range normalized {
		if n.Status == alerts.StatusResolved {
			continue
		}

		alert := &database.Alert{
			Service:  n.Service,
			Severity: n.Severity,
			Message:  n.Message,
			Labels:   labelsToJSONB(n.Labels),
			Source:   instance.SourceType,
		}
		if alert.Service == "" {
			alert.Service = instance.Name
		}
		if n.ObservedAt != nil {
			alert.ObservedAt = n.ObservedAt.UTC()
		}

		result, err := h.correlator.Ingest(alert)
		if result == nil {
			log.Printf("Warning: failed to store webhook alert from %s: %v", instance.Name, err)
			continue
		}
		if err != nil {
			log.Printf("Warning: correlation deferred for webhook alert %s: %v", result.Alert.AlertID, err)
		}
		results = append(results, ingestResultToResponse(result))
	}

	h.alerts.TouchInstance(instanceUUID)
	log.Printf("Received %d alerts from %s (instance: %s)", len(normalized), instance.SourceType, instance.Name)

	api.RespondJSON(w, http.StatusOK, api.WebhookIngestResponse{
		Received: len(normalized),
		Results:  results,
	})
}
