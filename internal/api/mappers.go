package api

import "github.com/vigilhq/vigil/internal/database"

// IncidentToResponse converts a database Incident to its API representation,
// attaching the computed MTTA/MTTR values.
func IncidentToResponse(i database.Incident) IncidentResponse {
	notes := []string(i.Notes)
	if notes == nil {
		notes = []string{}
	}
	return IncidentResponse{
		IncidentID:     i.IncidentID,
		Title:          i.Title,
		Service:        i.Service,
		Severity:       i.Severity,
		Status:         i.Status,
		Description:    i.Description,
		AssignedTo:     i.AssignedTo,
		Notes:          notes,
		CreatedAt:      i.CreatedAt,
		AcknowledgedAt: i.AcknowledgedAt,
		ResolvedAt:     i.ResolvedAt,
		UpdatedAt:      i.UpdatedAt,
		MTTASeconds:    i.MTTASeconds(),
		MTTRSeconds:    i.MTTRSeconds(),
	}
}

// IncidentsToResponses converts a slice of database Incidents.
func IncidentsToResponses(incidents []database.Incident) []IncidentResponse {
	items := make([]IncidentResponse, len(incidents))
	for i, inc := range incidents {
		items[i] = IncidentToResponse(inc)
	}
	return items
}

// IncidentToMetrics converts a database Incident to its metrics view.
func IncidentToMetrics(i database.Incident) IncidentMetricsResponse {
	return IncidentMetricsResponse{
		IncidentID:     i.IncidentID,
		Status:         i.Status,
		CreatedAt:      i.CreatedAt,
		AcknowledgedAt: i.AcknowledgedAt,
		ResolvedAt:     i.ResolvedAt,
		MTTASeconds:    i.MTTASeconds(),
		MTTRSeconds:    i.MTTRSeconds(),
	}
}

// ResponderToOnCall converts a rotation member to the on-call view with its role.
func ResponderToOnCall(r *database.Responder, role string) *OnCallResponder {
	if r == nil {
		return nil
	}
	return &OnCallResponder{Name: r.Name, Email: r.Email, Role: role}
}

// EscalationToResponse converts a database Escalation to its API representation.
func EscalationToResponse(e database.Escalation) EscalateResponse {
	return EscalateResponse{
		EscalationID: e.EscalationID,
		IncidentID:   e.IncidentID,
		FromEngineer: e.FromEngineer,
		ToEngineer:   e.ToEngineer,
		Level:        e.Level,
		Reason:       e.Reason,
		EscalatedAt:  e.EscalatedAt,
	}
}
