package handlers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleNotify handles POST /api/notify. Delivery failures do not fail the
// request; the outcome is recorded on the returned notification.
func (h *APIHandler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req api.NotifyRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	record := h.notifications.Send(req.Engineer, database.NotificationChannel(req.Channel), req.Message, &services.SendOptions{
		IncidentID: req.IncidentID,
		WebhookURL: req.WebhookURL,
	})

	api.RespondJSON(w, http.StatusCreated, record)
}

// handleListNotifications handles GET /api/notifications
func (h *APIHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	params := api.ParsePagination(r)
	q := r.URL.Query()

	notifications, total, err := h.notifications.ListNotifications(
		q.Get("incident_id"), q.Get("channel"), q.Get("status"), params.Offset(), params.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	api.RespondPage(w, params, total, notifications)
}

// handleNotificationByID handles GET /api/notifications/{id}
func (h *APIHandler) handleNotificationByID(w http.ResponseWriter, r *http.Request) {
	notification, err := h.notifications.GetNotification(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Notification not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get notification")
		return
	}
	api.RespondJSON(w, http.StatusOK, notification)
}
