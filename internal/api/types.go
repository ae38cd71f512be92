package api

import (
	"time"

	"github.com/vigilhq/vigil/internal/database"
)

// ========== Alert Types ==========

// IngestAlertRequest is the request body for POST /api/alerts.
type IngestAlertRequest struct {
	Service   string            `json:"service" validate:"required,min=1,max=255"`
	Severity  string            `json:"severity" validate:"required,oneof=critical high medium low"`
	Message   string            `json:"message" validate:"required,min=1"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// IngestAlertResponse is the correlation outcome for one ingested alert.
type IngestAlertResponse struct {
	AlertID    string  `json:"alert_id"`
	IncidentID *string `json:"incident_id"`
	Action     string  `json:"action"`
}

// WebhookIngestResponse summarizes a multi-alert webhook delivery.
type WebhookIngestResponse struct {
	Received int                   `json:"received"`
	Results  []IngestAlertResponse `json:"results"`
}

// ========== Incident Types ==========

// CreateIncidentRequest is the request body for POST /api/incidents.
type CreateIncidentRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=500"`
	Service     string  `json:"service" validate:"required,min=1,max=255"`
	Severity    string  `json:"severity" validate:"required,oneof=critical high medium low"`
	Description string  `json:"description" validate:"omitempty,max=5000"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
}

// UpdateIncidentRequest is the request body for PATCH /api/incidents/{id}.
// At least one field must be present; an empty body is rejected.
type UpdateIncidentRequest struct {
	Status     *string `json:"status" validate:"omitempty,oneof=open acknowledged resolved"`
	AssignedTo *string `json:"assigned_to"`
	Note       *string `json:"note" validate:"omitempty,min=1"`
}

// IsEmpty reports whether the update carries no changes.
func (r *UpdateIncidentRequest) IsEmpty() bool {
	return r.Status == nil && r.AssignedTo == nil && r.Note == nil
}

// IncidentResponse is the API representation of an incident, including the
// computed response-time metrics.
type IncidentResponse struct {
	IncidentID     string                  `json:"incident_id"`
	Title          string                  `json:"title"`
	Service        string                  `json:"service"`
	Severity       database.AlertSeverity  `json:"severity"`
	Status         database.IncidentStatus `json:"status"`
	Description    string                  `json:"description"`
	AssignedTo     *string                 `json:"assigned_to"`
	Notes          []string                `json:"notes"`
	CreatedAt      time.Time               `json:"created_at"`
	AcknowledgedAt *time.Time              `json:"acknowledged_at"`
	ResolvedAt     *time.Time              `json:"resolved_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	MTTASeconds    *float64                `json:"mtta_seconds"`
	MTTRSeconds    *float64                `json:"mttr_seconds"`
}

// IncidentDetailResponse is an incident with its linked alerts and timeline.
type IncidentDetailResponse struct {
	IncidentResponse
	Alerts   []database.Alert         `json:"alerts"`
	Timeline []database.IncidentEvent `json:"timeline"`
}

// IncidentMetricsResponse is the response body for GET /api/incidents/{id}/metrics.
type IncidentMetricsResponse struct {
	IncidentID     string                  `json:"incident_id"`
	Status         database.IncidentStatus `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	AcknowledgedAt *time.Time              `json:"acknowledged_at"`
	ResolvedAt     *time.Time              `json:"resolved_at"`
	MTTASeconds    *float64                `json:"mtta_seconds"`
	MTTRSeconds    *float64                `json:"mttr_seconds"`
}

// AnalyticsResponse is the rollup for GET /api/incidents/analytics.
// Null MTTA/MTTR values are excluded from the averages and extrema.
type AnalyticsResponse struct {
	Total             int64            `json:"total"`
	OpenCount         int64            `json:"open_count"`
	AcknowledgedCount int64            `json:"acknowledged_count"`
	ResolvedCount     int64            `json:"resolved_count"`
	AvgMTTASeconds    *float64         `json:"avg_mtta_seconds"`
	MinMTTASeconds    *float64         `json:"min_mtta_seconds"`
	MaxMTTASeconds    *float64         `json:"max_mtta_seconds"`
	AvgMTTRSeconds    *float64         `json:"avg_mttr_seconds"`
	MinMTTRSeconds    *float64         `json:"min_mttr_seconds"`
	MaxMTTRSeconds    *float64         `json:"max_mttr_seconds"`
	BySeverity        map[string]int64 `json:"by_severity"`
	ByService         map[string]int64 `json:"by_service"`
}

// ========== Schedule / On-call Types ==========

// ResponderPayload is one rotation member in a schedule request.
type ResponderPayload struct {
	Name  string `json:"name" validate:"required,min=1,max=255"`
	Email string `json:"email" validate:"required,email"`
}

// CreateScheduleRequest is the request body for POST /api/schedules.
type CreateScheduleRequest struct {
	Team              string             `json:"team" validate:"required,min=1,max=255"`
	RotationType      string             `json:"rotation_type" validate:"omitempty,oneof=daily weekly"`
	StartDate         string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	Responders        []ResponderPayload `json:"responders" validate:"required,min=1,dive"`
	EscalationMinutes int                `json:"escalation_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// OnCallResponder is a resolved rotation member with their role.
type OnCallResponder struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// OnCallResponse is the response body for GET /api/oncall/current.
// Status is "unassigned" when the team has no schedule; all other fields are
// then zero-valued.
type OnCallResponse struct {
	Team              string           `json:"team"`
	Status            string           `json:"status"`
	Primary           *OnCallResponder `json:"primary"`
	Secondary         *OnCallResponder `json:"secondary"`
	ScheduleID        string           `json:"schedule_id,omitempty"`
	RotationType      string           `json:"rotation_type,omitempty"`
	EscalationMinutes int              `json:"escalation_minutes,omitempty"`
}

// ========== Escalation Types ==========

// EscalateRequest is the request body for POST /api/escalate.
type EscalateRequest struct {
	IncidentID string `json:"incident_id" validate:"required"`
	Reason     string `json:"reason" validate:"omitempty,max=1024"`
}

// EscalateResponse is the outcome of a manual escalation.
type EscalateResponse struct {
	EscalationID string    `json:"escalation_id"`
	IncidentID   string    `json:"incident_id"`
	FromEngineer string    `json:"from_engineer"`
	ToEngineer   string    `json:"to_engineer"`
	Level        int       `json:"level"`
	Reason       string    `json:"reason"`
	EscalatedAt  time.Time `json:"escalated_at"`
}

// PolicyLevelPayload is one level of an escalation policy request.
type PolicyLevelPayload struct {
	Level        int    `json:"level" validate:"required,gte=1,lte=10"`
	WaitMinutes  int    `json:"wait_minutes" validate:"required,gte=1,lte=1440"`
	NotifyTarget string `json:"notify_target" validate:"required,min=1,max=255"`
}

// CreatePolicyRequest is the request body for POST /api/escalation-policies.
// An existing policy for the team is replaced wholesale.
type CreatePolicyRequest struct {
	Team   string               `json:"team" validate:"required,min=1,max=255"`
	Levels []PolicyLevelPayload `json:"levels" validate:"required,min=1,dive"`
}

// OnCallMetricsResponse is the rollup for GET /api/metrics/oncall.
type OnCallMetricsResponse struct {
	TotalEscalations  int64            `json:"total_escalations"`
	FailedEscalations int64            `json:"failed_escalations"`
	EscalationRatePct float64          `json:"escalation_rate_pct"`
	OnCallLoad        map[string]int64 `json:"oncall_load"`
	ByTeam            map[string]int64 `json:"by_team"`
}

// ========== Notification Types ==========

// NotifyRequest is the request body for POST /api/notify.
type NotifyRequest struct {
	IncidentID *string `json:"incident_id,omitempty"`
	Engineer   string  `json:"engineer" validate:"required,min=1,max=255"`
	Channel    string  `json:"channel" validate:"omitempty,oneof=mock email slack webhook"`
	Message    string  `json:"message" validate:"required,min=1"`
	WebhookURL string  `json:"webhook_url,omitempty" validate:"omitempty,url"`
}

// ========== Settings Types ==========

// UpdateCorrelationSettingsRequest is the request body for PUT /api/settings/correlation.
type UpdateCorrelationSettingsRequest struct {
	Enabled       *bool `json:"enabled"`
	WindowMinutes *int  `json:"window_minutes" validate:"omitempty,gte=1,lte=1440"`
}

// ========== Alert Source Types ==========

// CreateAlertSourceRequest is the request body for POST /api/alert-sources.
type CreateAlertSourceRequest struct {
	SourceType    string         `json:"source_type" validate:"required"`
	Name          string         `json:"name" validate:"required,min=1,max=128"`
	Description   string         `json:"description"`
	WebhookSecret string         `json:"webhook_secret"`
	FieldMappings database.JSONB `json:"field_mappings"`
	Settings      database.JSONB `json:"settings"`
}

// UpdateAlertSourceRequest is the request body for PUT /api/alert-sources/{uuid}.
type UpdateAlertSourceRequest struct {
	Name          *string         `json:"name"`
	Description   *string         `json:"description"`
	WebhookSecret *string         `json:"webhook_secret"`
	FieldMappings *database.JSONB `json:"field_mappings"`
	Settings      *database.JSONB `json:"settings"`
	Enabled       *bool           `json:"enabled"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}
