package handlers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

// handleEscalate handles POST /api/escalate. Manual escalation runs the same
// level logic as a fired timer, skipping the wait.
func (h *APIHandler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req api.EscalateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	record, err := h.escalations.Escalate(req.IncidentID, req.Reason)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Incident or schedule not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to escalate incident")
		return
	}
	if record.Status == database.EscalationStatusFailed {
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity,
			"no_escalation_target", "No escalation target available for this incident")
		return
	}

	api.RespondJSON(w, http.StatusCreated, api.EscalationToResponse(*record))
}

// handleListEscalations handles GET /api/escalations
func (h *APIHandler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	params := api.ParsePagination(r)

	escalations, total, err := h.escalations.ListEscalations(r.URL.Query().Get("incident_id"), params.Offset(), params.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list escalations")
		return
	}

	api.RespondPage(w, params, total, escalations)
}

// handleOnCallMetrics handles GET /api/metrics/oncall
func (h *APIHandler) handleOnCallMetrics(w http.ResponseWriter, r *http.Request) {
	rollup, err := h.escalations.OnCallMetrics()
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to compute on-call metrics")
		return
	}

	api.RespondJSON(w, http.StatusOK, api.OnCallMetricsResponse{
		TotalEscalations:  rollup.TotalEscalations,
		FailedEscalations: rollup.FailedEscalations,
		EscalationRatePct: rollup.EscalationRatePct,
		OnCallLoad:        rollup.OnCallLoad,
		ByTeam:            rollup.ByTeam,
	})
}

// handleListPolicies handles GET /api/escalation-policies
func (h *APIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.ListPolicies()
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list policies")
		return
	}
	api.RespondJSON(w, http.StatusOK, policies)
}

// handleCreatePolicy handles POST /api/escalation-policies. An existing
// policy for the team is replaced wholesale.
func (h *APIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePolicyRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	policy, status := h.savePolicy(w, req.Team, req.Levels)
	if policy == nil {
		return
	}
	api.RespondJSON(w, status, policy)
}

// handlePolicyByTeam handles GET /api/escalation-policies/{team}
func (h *APIHandler) handlePolicyByTeam(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetPolicyByTeam(r.PathValue("team"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Policy not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get policy")
		return
	}
	api.RespondJSON(w, http.StatusOK, policy)
}

// handleReplacePolicy handles PUT /api/escalation-policies/{team}
func (h *APIHandler) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Levels []api.PolicyLevelPayload `json:"levels" validate:"required,min=1,dive"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	policy, status := h.savePolicy(w, r.PathValue("team"), req.Levels)
	if policy == nil {
		return
	}
	if status == http.StatusCreated {
		status = http.StatusOK
	}
	api.RespondJSON(w, status, policy)
}

// handleDeletePolicy handles DELETE /api/escalation-policies/{team}
func (h *APIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.DeletePolicy(r.PathValue("team")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Policy not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to delete policy")
		return
	}
	api.RespondNoContent(w)
}

// savePolicy validates and persists a level chain for a team. Responds with
// the error itself on failure and returns nil; otherwise returns the saved
// policy and the suggested success status.
func (h *APIHandler) savePolicy(w http.ResponseWriter, team string, payload []api.PolicyLevelPayload) (*database.EscalationPolicy, int) {
	levels := make(database.PolicyLevelList, len(payload))
	for i, l := range payload {
		levels[i] = database.PolicyLevel{
			Level:        l.Level,
			WaitMinutes:  l.WaitMinutes,
			NotifyTarget: l.NotifyTarget,
		}
	}
	if err := services.ValidatePolicyLevels(levels); err != nil {
		api.RespondValidationError(w, map[string]string{"levels": err.Error()})
		return nil, 0
	}

	policy := &database.EscalationPolicy{Team: team, Levels: levels}
	if err := h.policies.CreatePolicy(policy); err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to save policy")
		return nil, 0
	}
	return policy, http.StatusCreated
}
