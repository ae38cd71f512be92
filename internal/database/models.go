package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringList is a JSONB-backed ordered list of strings (append-only notes)
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

// Responder is a single member of an on-call rotation
type Responder struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ResponderList is the JSONB-backed ordered responder rotation of a schedule
type ResponderList []Responder

// Scan implements the sql.Scanner interface
func (r *ResponderList) Scan(value interface{}) error {
	if value == nil {
		*r = ResponderList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, r)
}

// Value implements the driver.Valuer interface
func (r ResponderList) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]Responder{})
	}
	return json.Marshal(r)
}

// PolicyLevel is one step of an escalation policy
type PolicyLevel struct {
	Level        int    `json:"level"`
	WaitMinutes  int    `json:"wait_minutes"`
	NotifyTarget string `json:"notify_target"` // "secondary", "manager", or an email address
}

// PolicyLevelList is the JSONB-backed ordered level chain of a policy
type PolicyLevelList []PolicyLevel

// Scan implements the sql.Scanner interface
func (p *PolicyLevelList) Scan(value interface{}) error {
	if value == nil {
		*p = PolicyLevelList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, p)
}

// Value implements the driver.Valuer interface
func (p PolicyLevelList) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal([]PolicyLevel{})
	}
	return json.Marshal(p)
}

// NewShortID returns a prefixed public identifier, e.g. "inc-3fa85f64a1b2"
func NewShortID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + hex[:12]
}

// AlertSeverity represents normalized severity levels, ordered critical > high > medium > low
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
)

// ValidSeverities returns all accepted severity values
func ValidSeverities() []AlertSeverity {
	return []AlertSeverity{AlertSeverityCritical, AlertSeverityHigh, AlertSeverityMedium, AlertSeverityLow}
}

// IsValidSeverity reports whether s is a known severity value
func IsValidSeverity(s AlertSeverity) bool {
	switch s {
	case AlertSeverityCritical, AlertSeverityHigh, AlertSeverityMedium, AlertSeverityLow:
		return true
	}
	return false
}

// GetSeverityEmoji returns the Slack emoji for a severity
func GetSeverityEmoji(severity AlertSeverity) string {
	switch severity {
	case AlertSeverityCritical:
		return ":rotating_light:"
	case AlertSeverityHigh:
		return ":fire:"
	case AlertSeverityMedium:
		return ":warning:"
	case AlertSeverityLow:
		return ":information_source:"
	default:
		return ":bell:"
	}
}

// AlertAction records the correlation outcome for an ingested alert
type AlertAction string

const (
	AlertActionNewIncident      AlertAction = "new_incident"
	AlertActionExistingIncident AlertAction = "existing_incident"
	// AlertActionDeferred marks an alert stored without a correlation decision
	// (correlation disabled or incident creation failed); the recorrelation
	// job retries these.
	AlertActionDeferred AlertAction = "deferred"
)

// Alert is an ingested alert. Immutable once stored except for the incident
// link, which is set exactly once and never cleared.
type Alert struct {
	ID         uint          `gorm:"primaryKey" json:"-"`
	AlertID    string        `gorm:"uniqueIndex;size:36;not null" json:"alert_id"`
	Service    string        `gorm:"size:255;not null;index" json:"service"`
	Severity   AlertSeverity `gorm:"type:varchar(20);not null;index" json:"severity"`
	Message    string        `gorm:"type:text;not null" json:"message"`
	Labels     JSONB         `gorm:"type:jsonb" json:"labels"`
	Source     string        `gorm:"size:64;default:'api'" json:"source"`
	ObservedAt time.Time     `gorm:"not null;index" json:"timestamp"`
	IncidentID *string       `gorm:"size:36;index" json:"incident_id"`
	Action     AlertAction   `gorm:"type:varchar(30)" json:"action"`
	CreatedAt  time.Time     `json:"created_at"`
}

// BeforeCreate assigns the public id and defaults the observation time
func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.AlertID == "" {
		a.AlertID = NewShortID("alert")
	}
	if a.ObservedAt.IsZero() {
		a.ObservedAt = time.Now().UTC()
	}
	return nil
}

func (Alert) TableName() string {
	return "alerts"
}

// IncidentStatus represents the lifecycle status of an incident.
// Transitions are strictly forward: open < acknowledged < resolved.
type IncidentStatus string

const (
	IncidentStatusOpen         IncidentStatus = "open"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// StatusRank returns the ordering position of a status, or -1 if unknown
func StatusRank(s IncidentStatus) int {
	switch s {
	case IncidentStatusOpen:
		return 0
	case IncidentStatusAcknowledged:
		return 1
	case IncidentStatusResolved:
		return 2
	}
	return -1
}

// Incident is the mutable aggregate tracking one correlated problem
type Incident struct {
	ID             uint           `gorm:"primaryKey" json:"-"`
	IncidentID     string         `gorm:"uniqueIndex;size:36;not null" json:"incident_id"`
	Title          string         `gorm:"type:varchar(500);not null" json:"title"`
	Service        string         `gorm:"size:255;not null;index" json:"service"`
	Severity       AlertSeverity  `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status         IncidentStatus `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	Description    string         `gorm:"type:text" json:"description"`
	AssignedTo     *string        `gorm:"size:255" json:"assigned_to"`
	Notes          StringList     `gorm:"type:jsonb" json:"notes"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// BeforeCreate assigns the public id and defaults the status
func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.IncidentID == "" {
		i.IncidentID = NewShortID("inc")
	}
	if i.Status == "" {
		i.Status = IncidentStatusOpen
	}
	return nil
}

func (Incident) TableName() string {
	return "incidents"
}

// MTTASeconds returns acknowledged_at - created_at in seconds, nil until acknowledged
func (i *Incident) MTTASeconds() *float64 {
	if i.AcknowledgedAt == nil {
		return nil
	}
	s := i.AcknowledgedAt.Sub(i.CreatedAt).Seconds()
	return &s
}

// MTTRSeconds returns resolved_at - created_at in seconds, nil until resolved
func (i *Incident) MTTRSeconds() *float64 {
	if i.ResolvedAt == nil {
		return nil
	}
	s := i.ResolvedAt.Sub(i.CreatedAt).Seconds()
	return &s
}

// IncidentEventType classifies timeline entries
type IncidentEventType string

const (
	IncidentEventCreated       IncidentEventType = "created"
	IncidentEventAcknowledged  IncidentEventType = "acknowledged"
	IncidentEventResolved      IncidentEventType = "resolved"
	IncidentEventReassigned    IncidentEventType = "reassigned"
	IncidentEventNoteAdded     IncidentEventType = "note_added"
	IncidentEventEscalated     IncidentEventType = "escalated"
	IncidentEventAlertAttached IncidentEventType = "alert_attached"
)

// IncidentEvent is one append-only timeline entry for an incident
type IncidentEvent struct {
	ID         uint              `gorm:"primaryKey" json:"-"`
	IncidentID string            `gorm:"size:36;not null;index" json:"incident_id"`
	EventType  IncidentEventType `gorm:"type:varchar(30);not null" json:"event_type"`
	Detail     JSONB             `gorm:"type:jsonb" json:"detail"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (IncidentEvent) TableName() string {
	return "incident_events"
}

// RotationType is the cadence of an on-call rotation
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
)

// IsValidRotationType reports whether r is a known rotation cadence
func IsValidRotationType(r RotationType) bool {
	return r == RotationDaily || r == RotationWeekly
}

// Schedule defines one team's on-call rotation. Responders is ordered and
// must be non-empty; a schedule with zero responders is rejected at creation.
type Schedule struct {
	ID                uint          `gorm:"primaryKey" json:"-"`
	ScheduleID        string        `gorm:"uniqueIndex;size:36;not null" json:"schedule_id"`
	Team              string        `gorm:"uniqueIndex;size:255;not null" json:"team"`
	RotationType      RotationType  `gorm:"type:varchar(20);not null;default:'weekly'" json:"rotation_type"`
	StartDate         time.Time     `gorm:"not null" json:"start_date"`
	Responders        ResponderList `gorm:"type:jsonb;not null" json:"responders"`
	EscalationMinutes int           `gorm:"not null;default:5" json:"escalation_minutes"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// BeforeCreate assigns the public id
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ScheduleID == "" {
		s.ScheduleID = NewShortID("sched")
	}
	return nil
}

func (Schedule) TableName() string {
	return "schedules"
}

// Escalation target kinds understood by policy levels
const (
	NotifyTargetSecondary = "secondary"
	NotifyTargetManager   = "manager"
)

// EscalationPolicy is one team's multi-level escalation chain. Replaced
// wholesale on update.
type EscalationPolicy struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	PolicyID  string          `gorm:"uniqueIndex;size:36;not null" json:"policy_id"`
	Team      string          `gorm:"uniqueIndex;size:255;not null" json:"team"`
	Levels    PolicyLevelList `gorm:"type:jsonb;not null" json:"levels"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BeforeCreate assigns the public id
func (p *EscalationPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.PolicyID == "" {
		p.PolicyID = NewShortID("pol")
	}
	return nil
}

func (EscalationPolicy) TableName() string {
	return "escalation_policies"
}

// LevelFor returns the policy step for a level number, or nil when the chain
// has no such level
func (p *EscalationPolicy) LevelFor(level int) *PolicyLevel {
	for i := range p.Levels {
		if p.Levels[i].Level == level {
			return &p.Levels[i]
		}
	}
	return nil
}

// EscalationTimer is a persisted deadline: the escalation monitor sweeps
// rows where is_active and escalate_after has passed. Persisting the wake
// time (instead of sleeping in-process) lets timers survive restarts.
type EscalationTimer struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	IncidentID    string    `gorm:"size:36;not null;index" json:"incident_id"`
	Team          string    `gorm:"size:255;not null" json:"team"`
	CurrentLevel  int       `gorm:"not null;default:1" json:"current_level"`
	AssignedTo    string    `gorm:"size:255" json:"assigned_to"`
	EscalateAfter time.Time `gorm:"not null;index" json:"escalate_after"`
	IsActive      bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

func (EscalationTimer) TableName() string {
	return "escalation_timers"
}

// EscalationStatus marks whether an escalation attempt found a target
type EscalationStatus string

const (
	EscalationStatusEscalated EscalationStatus = "escalated"
	EscalationStatusFailed    EscalationStatus = "failed"
)

// Escalation is one append-only audit row per escalation event. ToEngineer
// is empty when the attempt failed for lack of a target.
type Escalation struct {
	ID           uint             `gorm:"primaryKey" json:"-"`
	EscalationID string           `gorm:"uniqueIndex;size:36;not null" json:"escalation_id"`
	IncidentID   string           `gorm:"size:36;not null;index" json:"incident_id"`
	FromEngineer string           `gorm:"size:255" json:"from_engineer"`
	ToEngineer   string           `gorm:"size:255" json:"to_engineer"`
	Level        int              `gorm:"not null;default:1" json:"level"`
	Reason       string           `gorm:"type:text" json:"reason"`
	Status       EscalationStatus `gorm:"type:varchar(20);not null;default:'escalated'" json:"status"`
	EscalatedAt  time.Time        `json:"escalated_at"`
}

// BeforeCreate assigns the public id and defaults the timestamp
func (e *Escalation) BeforeCreate(tx *gorm.DB) error {
	if e.EscalationID == "" {
		e.EscalationID = NewShortID("esc")
	}
	if e.EscalatedAt.IsZero() {
		e.EscalatedAt = time.Now().UTC()
	}
	return nil
}

func (Escalation) TableName() string {
	return "escalations"
}

// NotificationChannel identifies a delivery transport
type NotificationChannel string

const (
	ChannelMock    NotificationChannel = "mock"
	ChannelEmail   NotificationChannel = "email"
	ChannelSlack   NotificationChannel = "slack"
	ChannelWebhook NotificationChannel = "webhook"
)

// IsValidChannel reports whether c is a known channel
func IsValidChannel(c NotificationChannel) bool {
	switch c {
	case ChannelMock, ChannelEmail, ChannelSlack, ChannelWebhook:
		return true
	}
	return false
}

// NotificationStatus is the recorded delivery outcome
type NotificationStatus string

const (
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification is one append-only delivery record; every attempt is
// persisted regardless of outcome.
type Notification struct {
	ID             uint                `gorm:"primaryKey" json:"-"`
	NotificationID string              `gorm:"uniqueIndex;size:36;not null" json:"notification_id"`
	IncidentID     *string             `gorm:"size:36;index" json:"incident_id"`
	Engineer       string              `gorm:"size:255;not null" json:"engineer"`
	Channel        NotificationChannel `gorm:"type:varchar(20);not null;index" json:"channel"`
	Status         NotificationStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Message        string              `gorm:"type:text" json:"message"`
	Detail         JSONB               `gorm:"type:jsonb" json:"detail"`
	LatencyMS      int64               `json:"latency_ms"`
	CreatedAt      time.Time           `json:"timestamp"`
}

// BeforeCreate assigns the public id
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.NotificationID == "" {
		n.NotificationID = NewShortID("notif")
	}
	return nil
}

func (Notification) TableName() string {
	return "notifications"
}

// AlertSourceInstance is a configured webhook intake for one monitoring
// system. The UUID forms the webhook URL; the secret and field mappings are
// instance-specific.
type AlertSourceInstance struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UUID          string     `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	SourceType    string     `gorm:"size:64;not null;index" json:"source_type"`
	Name          string     `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description   string     `gorm:"type:text" json:"description"`
	WebhookSecret string     `gorm:"type:text" json:"webhook_secret"`
	FieldMappings JSONB      `gorm:"type:jsonb" json:"field_mappings"`
	Settings      JSONB      `gorm:"type:jsonb" json:"settings"`
	Enabled       bool       `gorm:"default:true" json:"enabled"`
	LastAlertAt   *time.Time `json:"last_alert_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BeforeCreate assigns the webhook UUID
func (a *AlertSourceInstance) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return nil
}

func (AlertSourceInstance) TableName() string {
	return "alert_source_instances"
}

// GetWebhookURL returns the ingest URL for this instance
func (a *AlertSourceInstance) GetWebhookURL(baseURL string) string {
	return baseURL + "/webhook/" + a.UUID
}
