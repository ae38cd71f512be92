package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleListAlertSources handles GET /api/alert-sources
func (h *APIHandler) handleListAlertSources(w http.ResponseWriter, r *http.Request) {
	instances, err := h.alerts.ListInstances()
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list alert sources")
		return
	}
	api.RespondJSON(w, http.StatusOK, instances)
}

// handleCreateAlertSource handles POST /api/alert-sources
func (h *APIHandler) handleCreateAlertSource(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAlertSourceRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}
	if !h.webhooks.HasAdapter(req.SourceType) {
		api.RespondValidationError(w, map[string]string{
			"source_type": fmt.Sprintf("must be one of: %s", strings.Join(h.webhooks.SourceTypes(), ", ")),
		})
		return
	}

	instance := &database.AlertSourceInstance{
		SourceType:    req.SourceType,
		Name:          req.Name,
		Description:   req.Description,
		WebhookSecret: req.WebhookSecret,
		FieldMappings: req.FieldMappings,
		Settings:      req.Settings,
	}
	if err := h.alerts.CreateInstance(instance); err != nil {
		if errors.Is(err, services.ErrInstanceNameTaken) {
			api.RespondValidationError(w, map[string]string{"name": "is already in use"})
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to create alert source")
		return
	}

	api.RespondJSON(w, http.StatusCreated, instance)
}

// handleAlertSourceByUUID handles GET /api/alert-sources/{uuid}
func (h *APIHandler) handleAlertSourceByUUID(w http.ResponseWriter, r *http.Request) {
	instance, err := h.alerts.GetInstanceByUUID(r.PathValue("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Alert source not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get alert source")
		return
	}
	api.RespondJSON(w, http.StatusOK, instance)
}

// handleUpdateAlertSource handles PUT /api/alert-sources/{uuid}. Only fields
// present in the body change; source type is fixed at creation.
func (h *APIHandler) handleUpdateAlertSource(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateAlertSourceRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.WebhookSecret != nil {
		updates["webhook_secret"] = *req.WebhookSecret
	}
	if req.FieldMappings != nil {
		updates["field_mappings"] = *req.FieldMappings
	}
	if req.Settings != nil {
		updates["settings"] = *req.Settings
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}

	instance, err := h.alerts.UpdateInstance(r.PathValue("uuid"), updates)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Alert source not found")
			return
		}
		if errors.Is(err, services.ErrInstanceNameTaken) {
			api.RespondValidationError(w, map[string]string{"name": "is already in use"})
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to update alert source")
		return
	}

	api.RespondJSON(w, http.StatusOK, instance)
}

// handleDeleteAlertSource handles DELETE /api/alert-sources/{uuid}
func (h *APIHandler) handleDeleteAlertSource(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.DeleteInstance(r.PathValue("uuid")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Alert source not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to delete alert source")
		return
	}
	api.RespondNoContent(w)
}
