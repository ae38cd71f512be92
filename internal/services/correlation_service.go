package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vigilhq/vigil/internal/database"

	"gorm.io/gorm"
)

// IngestResult is the correlation outcome for one ingested alert. Incident is
// nil when the alert was deferred.
type IngestResult struct {
	Alert    *database.Alert
	Incident *database.Incident
	Action   database.AlertAction
}

// CorrelationService turns ingested alerts into incidents. The alert row is
// persisted before any correlation decision, so a correlation failure never
// loses the alert: it is stored with action deferred and replayed later by
// the recorrelation job.
type CorrelationService struct {
	db            *gorm.DB
	incidents     *IncidentService
	schedules     *ScheduleService
	escalations   *EscalationService
	notifications *NotificationService

	// Striped locks keyed by service|severity make candidate lookup and
	// incident creation one atomic unit per correlation key.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCorrelationService creates a new correlation service
func NewCorrelationService(db *gorm.DB, incidents *IncidentService, schedules *ScheduleService, escalations *EscalationService, notifications *NotificationService) *CorrelationService {
	return &CorrelationService{
		db:            db,
		incidents:     incidents,
		schedules:     schedules,
		escalations:   escalations,
		notifications: notifications,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (s *CorrelationService) lockFor(service string, severity database.AlertSeverity) *sync.Mutex {
	key := service + "|" + string(severity)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Ingest persists the alert and correlates it. The alert is always stored;
// only the initial insert can fail hard. A non-nil error alongside a result
// means the alert was accepted but the correlation decision is pending
// (action deferred), which the recorrelation job heals.
func (s *CorrelationService) Ingest(alert *database.Alert) (*IngestResult, error) {
	if alert.ObservedAt.IsZero() {
		alert.ObservedAt = time.Now().UTC()
	}
	if err := s.db.Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}

	result, err := s.Correlate(alert)
	if err != nil {
		return result, err
	}

	log.Printf("Alert %s ingested: %s (%s/%s)", alert.AlertID, result.Action, alert.Service, alert.Severity)
	return result, nil
}

// Correlate decides where an already-persisted alert belongs. Settings are
// re-read on every call so window changes apply immediately. Disabled
// correlation defers without error; a lookup or creation failure defers and
// reports the error so callers can flag the degradation.
func (s *CorrelationService) Correlate(alert *database.Alert) (*IngestResult, error) {
	settings, err := s.getSettings()
	if err != nil {
		s.recordDeferred(alert)
		return s.deferredResult(alert), fmt.Errorf("failed to read correlation settings: %w", err)
	}
	if !settings.Enabled {
		s.recordDeferred(alert)
		return s.deferredResult(alert), nil
	}
	window := time.Duration(settings.WindowMinutes) * time.Minute

	lock := s.lockFor(alert.Service, alert.Severity)
	lock.Lock()
	defer lock.Unlock()

	candidate, err := s.incidents.FindCorrelationCandidate(alert.Service, alert.Severity, window, alert.ObservedAt)
	if err == nil {
		return s.attach(alert, candidate, database.AlertActionExistingIncident)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.recordDeferred(alert)
		return s.deferredResult(alert), fmt.Errorf("candidate lookup failed: %w", err)
	}

	incident := &database.Incident{
		Title:       alert.Message,
		Service:     alert.Service,
		Severity:    alert.Severity,
		Description: alert.Message,
	}
	if err := s.incidents.Create(incident); err != nil {
		// Lost a race with a concurrent creator, or the store hiccupped.
		// One more candidate read catches the winner's incident.
		candidate, retryErr := s.incidents.FindCorrelationCandidate(alert.Service, alert.Severity, window, alert.ObservedAt)
		if retryErr == nil {
			return s.attach(alert, candidate, database.AlertActionExistingIncident)
		}
		s.recordDeferred(alert)
		return s.deferredResult(alert), fmt.Errorf("incident creation failed: %w", err)
	}

	result, err := s.attach(alert, incident, database.AlertActionNewIncident)
	if err != nil {
		return result, err
	}

	s.AssignAndTrack(incident)
	return result, nil
}

// attach links the alert and reports the outcome. A failed link leaves the
// alert deferred rather than dangling.
func (s *CorrelationService) attach(alert *database.Alert, incident *database.Incident, action database.AlertAction) (*IngestResult, error) {
	if err := s.incidents.AttachAlert(alert, incident, action); err != nil {
		s.recordDeferred(alert)
		return s.deferredResult(alert), err
	}
	return &IngestResult{Alert: alert, Incident: incident, Action: action}, nil
}

// AssignAndTrack pages the on-call primary for a fresh incident and arms its
// first escalation deadline. A team without a schedule is a configuration
// gap, not an error: the incident stays unassigned and the gap is logged.
func (s *CorrelationService) AssignAndTrack(incident *database.Incident) {
	team := incident.Service

	assignee := ""
	if incident.AssignedTo != nil {
		assignee = *incident.AssignedTo
	}

	if assignee == "" {
		oncall, err := s.schedules.WhoIsOnCall(team, time.Now().UTC())
		if err != nil {
			log.Printf("Warning: no on-call schedule for team %s, incident %s stays unassigned: %v", team, incident.IncidentID, err)
			return
		}
		assignee = oncall.Primary.Email
		updated, err := s.incidents.Reassign(incident.IncidentID, assignee)
		if err != nil {
			log.Printf("Warning: failed to assign incident %s to %s: %v", incident.IncidentID, assignee, err)
			return
		}
		*incident = *updated

		s.notifications.Send(assignee, database.ChannelMock, "New incident: "+incident.Title, &SendOptions{
			IncidentID: &incident.IncidentID,
			Severity:   incident.Severity,
		})
	}

	if _, err := s.escalations.StartTimer(incident.IncidentID, team, assignee); err != nil {
		log.Printf("Warning: failed to start escalation timer for incident %s: %v", incident.IncidentID, err)
	}
}

func (s *CorrelationService) deferredResult(alert *database.Alert) *IngestResult {
	return &IngestResult{Alert: alert, Action: database.AlertActionDeferred}
}

// recordDeferred marks the stored alert as awaiting a correlation decision.
// The incident link stays null; the recorrelation job picks these up.
func (s *CorrelationService) recordDeferred(alert *database.Alert) {
	err := s.db.Model(&database.Alert{}).Where("alert_id = ?", alert.AlertID).
		Update("action", database.AlertActionDeferred).Error
	if err != nil {
		log.Printf("Warning: failed to mark alert %s deferred: %v", alert.AlertID, err)
	}
	alert.Action = database.AlertActionDeferred
}

// getSettings returns the correlation settings singleton
func (s *CorrelationService) getSettings() (*database.CorrelationSettings, error) {
	return database.GetOrCreateCorrelationSettings(s.db)
}
