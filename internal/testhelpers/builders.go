package testhelpers

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/alerts"
	"github.com/vigilhq/vigil/internal/database"
)

// ========================================
// Normalized Alert Builder
// ========================================

// AlertBuilder builds alerts.NormalizedAlert values for testing
type AlertBuilder struct {
	alert alerts.NormalizedAlert
}

// NewAlertBuilder creates an alert builder with firing defaults
func NewAlertBuilder() *AlertBuilder {
	now := time.Now().UTC()
	return &AlertBuilder{
		alert: alerts.NormalizedAlert{
			Service:    "checkout",
			Severity:   database.AlertSeverityHigh,
			Status:     alerts.StatusFiring,
			Message:    "HighErrorRate",
			Labels:     map[string]string{},
			ObservedAt: &now,
		},
	}
}

// WithService sets the service
func (b *AlertBuilder) WithService(service string) *AlertBuilder {
	b.alert.Service = service
	return b
}

// WithSeverity sets the severity
func (b *AlertBuilder) WithSeverity(severity database.AlertSeverity) *AlertBuilder {
	b.alert.Severity = severity
	return b
}

// WithStatus sets the firing/resolved status
func (b *AlertBuilder) WithStatus(status alerts.AlertStatus) *AlertBuilder {
	b.alert.Status = status
	return b
}

// WithMessage sets the message
func (b *AlertBuilder) WithMessage(message string) *AlertBuilder {
	b.alert.Message = message
	return b
}

// WithLabel adds a label
func (b *AlertBuilder) WithLabel(key, value string) *AlertBuilder {
	if b.alert.Labels == nil {
		b.alert.Labels = map[string]string{}
	}
	b.alert.Labels[key] = value
	return b
}

// WithObservedAt sets the source-reported event time
func (b *AlertBuilder) WithObservedAt(at time.Time) *AlertBuilder {
	b.alert.ObservedAt = &at
	return b
}

// Build returns the constructed alert
func (b *AlertBuilder) Build() alerts.NormalizedAlert {
	return b.alert
}

// ========================================
// Incident Builder
// ========================================

// IncidentBuilder builds database.Incident rows for testing
type IncidentBuilder struct {
	incident database.Incident
}

// NewIncidentBuilder creates an incident builder with open defaults
func NewIncidentBuilder() *IncidentBuilder {
	return &IncidentBuilder{
		incident: database.Incident{
			Title:    "HighErrorRate",
			Service:  "checkout",
			Severity: database.AlertSeverityHigh,
			Status:   database.IncidentStatusOpen,
		},
	}
}

// WithTitle sets the title
func (b *IncidentBuilder) WithTitle(title string) *IncidentBuilder {
	b.incident.Title = title
	return b
}

// WithService sets the service
func (b *IncidentBuilder) WithService(service string) *IncidentBuilder {
	b.incident.Service = service
	return b
}

// WithSeverity sets the severity
func (b *IncidentBuilder) WithSeverity(severity database.AlertSeverity) *IncidentBuilder {
	b.incident.Severity = severity
	return b
}

// WithStatus sets the lifecycle status
func (b *IncidentBuilder) WithStatus(status database.IncidentStatus) *IncidentBuilder {
	b.incident.Status = status
	return b
}

// WithAssignee sets the assigned engineer
func (b *IncidentBuilder) WithAssignee(engineer string) *IncidentBuilder {
	b.incident.AssignedTo = &engineer
	return b
}

// Build returns the constructed incident
func (b *IncidentBuilder) Build() database.Incident {
	return b.incident
}

// Create persists the incident and returns it with IDs assigned
func (b *IncidentBuilder) Create(t *testing.T, db *gorm.DB) *database.Incident {
	t.Helper()
	incident := b.Build()
	if err := db.Create(&incident).Error; err != nil {
		t.Fatalf("failed to create incident fixture: %v", err)
	}
	return &incident
}

// ========================================
// Schedule Builder
// ========================================

// ScheduleBuilder builds database.Schedule rows for testing
type ScheduleBuilder struct {
	schedule database.Schedule
}

// NewScheduleBuilder creates a schedule builder. The default is a weekly
// rotation of alice and bob that started two weeks ago, so alice is on call.
func NewScheduleBuilder() *ScheduleBuilder {
	return &ScheduleBuilder{
		schedule: database.Schedule{
			Team:         "platform",
			RotationType: database.RotationWeekly,
			StartDate:    time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -14),
			Responders: database.ResponderList{
				{Name: "alice", Email: "alice@example.com"},
				{Name: "bob", Email: "bob@example.com"},
			},
			EscalationMinutes: 5,
		},
	}
}

// WithTeam sets the team name
func (b *ScheduleBuilder) WithTeam(team string) *ScheduleBuilder {
	b.schedule.Team = team
	return b
}

// WithRotation sets the rotation type
func (b *ScheduleBuilder) WithRotation(rotation database.RotationType) *ScheduleBuilder {
	b.schedule.RotationType = rotation
	return b
}

// StartedDaysAgo moves the rotation start that many days into the past
func (b *ScheduleBuilder) StartedDaysAgo(days int) *ScheduleBuilder {
	b.schedule.StartDate = time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -days)
	return b
}

// WithResponders replaces the rotation order
func (b *ScheduleBuilder) WithResponders(responders ...database.Responder) *ScheduleBuilder {
	b.schedule.Responders = responders
	return b
}

// WithEscalationMinutes sets the acknowledgement deadline
func (b *ScheduleBuilder) WithEscalationMinutes(minutes int) *ScheduleBuilder {
	b.schedule.EscalationMinutes = minutes
	return b
}

// Build returns the constructed schedule
func (b *ScheduleBuilder) Build() database.Schedule {
	return b.schedule
}

// Create persists the schedule and returns it with IDs assigned
func (b *ScheduleBuilder) Create(t *testing.T, db *gorm.DB) *database.Schedule {
	t.Helper()
	schedule := b.Build()
	if err := db.Create(&schedule).Error; err != nil {
		t.Fatalf("failed to create schedule fixture: %v", err)
	}
	return &schedule
}

// ========================================
// Alert Source Instance Builder
// ========================================

// SourceInstanceBuilder builds database.AlertSourceInstance rows for testing
type SourceInstanceBuilder struct {
	instance database.AlertSourceInstance
}

// NewSourceInstanceBuilder creates an enabled instance for the source type
func NewSourceInstanceBuilder(sourceType string) *SourceInstanceBuilder {
	return &SourceInstanceBuilder{
		instance: database.AlertSourceInstance{
			SourceType:    sourceType,
			Name:          sourceType + "-test",
			FieldMappings: database.JSONB{},
			Settings:      database.JSONB{},
			Enabled:       true,
		},
	}
}

// WithName sets the instance name
func (b *SourceInstanceBuilder) WithName(name string) *SourceInstanceBuilder {
	b.instance.Name = name
	return b
}

// WithSecret sets the webhook secret
func (b *SourceInstanceBuilder) WithSecret(secret string) *SourceInstanceBuilder {
	b.instance.WebhookSecret = secret
	return b
}

// WithFieldMappings sets instance-specific field mappings
func (b *SourceInstanceBuilder) WithFieldMappings(mappings database.JSONB) *SourceInstanceBuilder {
	b.instance.FieldMappings = mappings
	return b
}

// Disabled marks the instance disabled
func (b *SourceInstanceBuilder) Disabled() *SourceInstanceBuilder {
	b.instance.Enabled = false
	return b
}

// Build returns the constructed instance
func (b *SourceInstanceBuilder) Build() database.AlertSourceInstance {
	return b.instance
}

// Create persists the instance and returns it with the webhook UUID assigned
func (b *SourceInstanceBuilder) Create(t *testing.T, db *gorm.DB) *database.AlertSourceInstance {
	t.Helper()
	instance := b.Build()
	if err := db.Create(&instance).Error; err != nil {
		t.Fatalf("failed to create alert source fixture: %v", err)
	}
	return &instance
}

// ========================================
// Escalation Policy Builder
// ========================================

// PolicyBuilder builds database.EscalationPolicy rows for testing
type PolicyBuilder struct {
	policy database.EscalationPolicy
}

// NewPolicyBuilder creates a policy builder with no levels
func NewPolicyBuilder(team string) *PolicyBuilder {
	return &PolicyBuilder{
		policy: database.EscalationPolicy{
			Team:   team,
			Levels: database.PolicyLevelList{},
		},
	}
}

// WithLevel appends a level to the chain
func (b *PolicyBuilder) WithLevel(level, waitMinutes int, notifyTarget string) *PolicyBuilder {
	b.policy.Levels = append(b.policy.Levels, database.PolicyLevel{
		Level:        level,
		WaitMinutes:  waitMinutes,
		NotifyTarget: notifyTarget,
	})
	return b
}

// Build returns the constructed policy
func (b *PolicyBuilder) Build() database.EscalationPolicy {
	return b.policy
}

// Create persists the policy and returns it with IDs assigned
func (b *PolicyBuilder) Create(t *testing.T, db *gorm.DB) *database.EscalationPolicy {
	t.Helper()
	policy := b.Build()
	if err := db.Create(&policy).Error; err != nil {
		t.Fatalf("failed to create policy fixture: %v", err)
	}
	return &policy
}
