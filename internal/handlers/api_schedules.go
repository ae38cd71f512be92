package handlers

import (
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleListSchedules handles GET /api/schedules
func (h *APIHandler) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.schedules.ListSchedules()
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}
	api.RespondJSON(w, http.StatusOK, schedules)
}

// handleCreateSchedule handles POST /api/schedules
func (h *APIHandler) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.CreateScheduleRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		api.RespondValidationError(w, map[string]string{"start_date": "must be a date in 2006-01-02 format"})
		return
	}

	responders := make(database.ResponderList, len(req.Responders))
	for i, p := range req.Responders {
		responders[i] = database.Responder{Name: p.Name, Email: p.Email}
	}

	schedule := &database.Schedule{
		Team:              req.Team,
		RotationType:      database.RotationType(req.RotationType),
		StartDate:         startDate,
		Responders:        responders,
		EscalationMinutes: req.EscalationMinutes,
	}

	if err := h.schedules.CreateSchedule(schedule); err != nil {
		switch {
		case errors.Is(err, services.ErrNoResponders):
			api.RespondValidationError(w, map[string]string{"responders": "is required"})
		case errors.Is(err, services.ErrTeamExists):
			api.RespondErrorWithCode(w, http.StatusConflict, "team_exists", "Team already has a schedule")
		default:
			api.RespondError(w, http.StatusInternalServerError, "Failed to create schedule")
		}
		return
	}

	api.RespondJSON(w, http.StatusCreated, schedule)
}

// handleScheduleByID handles GET /api/schedules/{id}
func (h *APIHandler) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.schedules.GetSchedule(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get schedule")
		return
	}
	api.RespondJSON(w, http.StatusOK, schedule)
}

// handleOnCallCurrent handles GET /api/oncall/current?team=. A team without
// a schedule is not an error: the response carries the unassigned sentinel.
func (h *APIHandler) handleOnCallCurrent(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	if team == "" {
		api.RespondError(w, http.StatusBadRequest, "team query parameter is required")
		return
	}

	result, err := h.schedules.WhoIsOnCall(team, time.Now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondJSON(w, http.StatusOK, api.OnCallResponse{Team: team, Status: "unassigned"})
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to resolve on-call")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.OnCallResponse{
		Team:              team,
		Status:            "on_call",
		Primary:           api.ResponderToOnCall(result.Primary, "primary"),
		Secondary:         api.ResponderToOnCall(result.Secondary, "secondary"),
		ScheduleID:        result.Schedule.ScheduleID,
		RotationType:      string(result.Schedule.RotationType),
		EscalationMinutes: result.Schedule.EscalationMinutes,
	})
}
