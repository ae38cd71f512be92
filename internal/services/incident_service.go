package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/utils"

	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a status change would move an
// incident backward in the open < acknowledged < resolved ordering.
var ErrInvalidTransition = errors.New("invalid status transition")

// Stream event names mirrored on the websocket hub
const (
	EventIncidentCreated      = "incident_created"
	EventIncidentAcknowledged = "incident_acknowledged"
	EventIncidentResolved     = "incident_resolved"
	EventIncidentUpdated      = "incident_updated"
)

// EventPublisher pushes incident lifecycle events to stream consumers.
// Implementations must not block the caller.
type EventPublisher interface {
	Publish(event string, incident *database.Incident)
}

// IncidentFilter narrows incident list queries
type IncidentFilter struct {
	Status   string
	Severity string
	Service  string
}

// IncidentService owns incident records, their status transitions, and the
// timeline events derived from them. Status transitions and note appends are
// serialized per incident so timestamps are set exactly once under
// concurrent requests.
type IncidentService struct {
	db        *gorm.DB
	publisher EventPublisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIncidentService creates a new incident service
func NewIncidentService(db *gorm.DB) *IncidentService {
	return &IncidentService{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetEventPublisher wires the stream hub. A nil publisher disables events.
func (s *IncidentService) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

func (s *IncidentService) publish(event string, incident *database.Incident) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event, incident)
}

// lockFor returns the mutation lock for one incident, creating it on first
// use. Entries are dropped once the incident resolves (terminal status).
func (s *IncidentService) lockFor(incidentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[incidentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[incidentID] = lock
	}
	return lock
}

func (s *IncidentService) releaseLock(incidentID string) {
	s.mu.Lock()
	delete(s.locks, incidentID)
	s.mu.Unlock()
}

// Create persists a new incident with a "created" timeline event. Status
// defaults to open; the title is flattened and truncated to the column limit.
func (s *IncidentService) Create(incident *database.Incident) error {
	if incident.Title == "" {
		incident.Title = incident.Service + " incident"
	}
	incident.Title = utils.TruncateText(incident.Title, 500)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(incident).Error; err != nil {
			return err
		}
		detail := database.JSONB{
			"service":  incident.Service,
			"severity": string(incident.Severity),
		}
		if incident.AssignedTo != nil {
			detail["assigned_to"] = *incident.AssignedTo
		}
		return tx.Create(&database.IncidentEvent{
			IncidentID: incident.IncidentID,
			EventType:  database.IncidentEventCreated,
			Detail:     detail,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	log.Printf("Created incident %s (%s/%s)", incident.IncidentID, incident.Service, incident.Severity)
	s.publish(EventIncidentCreated, incident)
	return nil
}

// GetIncident returns an incident by its public id
func (s *IncidentService) GetIncident(incidentID string) (*database.Incident, error) {
	var incident database.Incident
	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		return nil, err
	}
	return &incident, nil
}

// ListIncidents returns incidents matching the filter, newest first, plus
// the total match count for pagination.
func (s *IncidentService) ListIncidents(filter IncidentFilter, offset, limit int) ([]database.Incident, int64, error) {
	query := s.db.Model(&database.Incident{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var incidents []database.Incident
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&incidents).Error
	return incidents, total, err
}

// GetTimeline returns the incident's timeline events, oldest first
func (s *IncidentService) GetTimeline(incidentID string) ([]database.IncidentEvent, error) {
	var events []database.IncidentEvent
	err := s.db.Where("incident_id = ?", incidentID).Order("created_at ASC, id ASC").Find(&events).Error
	return events, err
}

// GetIncidentAlerts returns all alerts linked to an incident, oldest first
func (s *IncidentService) GetIncidentAlerts(incidentID string) ([]database.Alert, error) {
	var alerts []database.Alert
	err := s.db.Where("incident_id = ?", incidentID).Order("created_at ASC, id ASC").Find(&alerts).Error
	return alerts, err
}

// FindCorrelationCandidate returns the incident a new alert for (service,
// severity) should attach to: the most recently created incident with status
// open or acknowledged, created within the window before asOf. Returns
// gorm.ErrRecordNotFound when no candidate exists.
func (s *IncidentService) FindCorrelationCandidate(service string, severity database.AlertSeverity, window time.Duration, asOf time.Time) (*database.Incident, error) {
	var incident database.Incident
	cutoff := asOf.Add(-window)
	err := s.db.Where(
		"service = ? AND severity = ? AND status IN ? AND created_at >= ?",
		service, severity,
		[]database.IncidentStatus{database.IncidentStatusOpen, database.IncidentStatusAcknowledged},
		cutoff,
	).Order("created_at DESC").First(&incident).Error
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// AttachAlert links an alert to an incident and records the attachment on
// the incident timeline. The link is set exactly once and never cleared; the
// incident's updated_at is touched so activity ordering stays honest. An
// attachment to an existing incident publishes an update; a brand-new
// incident already published its created event.
func (s *IncidentService) AttachAlert(alert *database.Alert, incident *database.Incident, action database.AlertAction) error {
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Alert{}).Where("alert_id = ?", alert.AlertID).Updates(map[string]interface{}{
			"incident_id": incident.IncidentID,
			"action":      action,
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&database.IncidentEvent{
			IncidentID: incident.IncidentID,
			EventType:  database.IncidentEventAlertAttached,
			Detail:     database.JSONB{"alert_id": alert.AlertID, "action": string(action)},
		}).Error; err != nil {
			return err
		}
		return tx.Model(&database.Incident{}).
			Where("incident_id = ?", incident.IncidentID).
			Update("updated_at", now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to attach alert %s to incident %s: %w", alert.AlertID, incident.IncidentID, err)
	}

	alert.IncidentID = &incident.IncidentID
	alert.Action = action
	if action == database.AlertActionExistingIncident {
		s.publish(EventIncidentUpdated, incident)
	}
	return nil
}

// Transition applies a status change. The ordering open < acknowledged <
// resolved is strictly forward: re-applying the current status is a no-op
// success, a backward move returns ErrInvalidTransition. Timestamps are set
// exactly once; resolving an incident that was never acknowledged sets
// acknowledged_at to the same instant so MTTA and MTTR are both defined.
// Acknowledge and resolve both stand down the incident's active escalation
// timers.
func (s *IncidentService) Transition(incidentID string, target database.IncidentStatus, note string) (*database.Incident, error) {
	targetRank := database.StatusRank(target)
	if targetRank < 0 {
		return nil, fmt.Errorf("unknown incident status %q", target)
	}

	lock := s.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	var incident database.Incident
	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.releaseLock(incidentID)
		}
		return nil, err
	}

	from := incident.Status
	if target == from {
		return &incident, nil
	}
	if targetRank < database.StatusRank(from) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": target}
	if incident.AcknowledgedAt == nil {
		// Resolving an unacknowledged incident defines both timestamps at once.
		updates["acknowledged_at"] = now
	}
	eventType := database.IncidentEventAcknowledged
	if target == database.IncidentStatusResolved {
		updates["resolved_at"] = now
		eventType = database.IncidentEventResolved
	}

	detail := database.JSONB{"from": string(from), "to": string(target)}
	if note != "" {
		detail["note"] = note
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Incident{}).Where("incident_id = ?", incidentID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Create(&database.IncidentEvent{
			IncidentID: incidentID,
			EventType:  eventType,
			Detail:     detail,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&database.EscalationTimer{}).
			Where("incident_id = ? AND is_active = ?", incidentID, true).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transition incident %s: %w", incidentID, err)
	}

	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		return nil, err
	}

	log.Printf("Incident %s: %s -> %s", incidentID, from, target)
	if target == database.IncidentStatusResolved {
		s.releaseLock(incidentID)
		s.publish(EventIncidentResolved, &incident)
	} else {
		s.publish(EventIncidentAcknowledged, &incident)
	}
	return &incident, nil
}

// Reassign changes the incident's assignee without touching its status
func (s *IncidentService) Reassign(incidentID, assignee string) (*database.Incident, error) {
	var incident database.Incident
	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		return nil, err
	}

	from := ""
	if incident.AssignedTo != nil {
		from = *incident.AssignedTo
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Incident{}).Where("incident_id = ?", incidentID).Update("assigned_to", assignee).Error; err != nil {
			return err
		}
		return tx.Create(&database.IncidentEvent{
			IncidentID: incidentID,
			EventType:  database.IncidentEventReassigned,
			Detail:     database.JSONB{"from": from, "to": assignee},
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reassign incident %s: %w", incidentID, err)
	}

	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		return nil, err
	}

	s.publish(EventIncidentUpdated, &incident)
	return &incident, nil
}

// IncidentRollup is the aggregate view of the incident store. The MTTA and
// MTTR aggregates cover only incidents where the metric is defined.
type IncidentRollup struct {
	Total             int64
	OpenCount         int64
	AcknowledgedCount int64
	ResolvedCount     int64
	AvgMTTASeconds    *float64
	MinMTTASeconds    *float64
	MaxMTTASeconds    *float64
	AvgMTTRSeconds    *float64
	MinMTTRSeconds    *float64
	MaxMTTRSeconds    *float64
	BySeverity        map[string]int64
	ByService         map[string]int64
}

// Aggregate computes the rollup in one pass over the matching incidents.
// Durations are derived in Go so the arithmetic is identical on sqlite and
// postgres.
func (s *IncidentService) Aggregate(filter IncidentFilter) (*IncidentRollup, error) {
	query := s.db.Model(&database.Incident{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}

	var incidents []database.Incident
	if err := query.Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to load incidents for aggregation: %w", err)
	}

	rollup := &IncidentRollup{
		BySeverity: make(map[string]int64),
		ByService:  make(map[string]int64),
	}
	var mtta, mttr []float64
	for i := range incidents {
		incident := &incidents[i]
		rollup.Total++
		switch incident.Status {
		case database.IncidentStatusOpen:
			rollup.OpenCount++
		case database.IncidentStatusAcknowledged:
			rollup.AcknowledgedCount++
		case database.IncidentStatusResolved:
			rollup.ResolvedCount++
		}
		rollup.BySeverity[string(incident.Severity)]++
		rollup.ByService[incident.Service]++
		if v := incident.MTTASeconds(); v != nil {
			mtta = append(mtta, *v)
		}
		if v := incident.MTTRSeconds(); v != nil {
			mttr = append(mttr, *v)
		}
	}
	rollup.AvgMTTASeconds, rollup.MinMTTASeconds, rollup.MaxMTTASeconds = summarizeSeconds(mtta)
	rollup.AvgMTTRSeconds, rollup.MinMTTRSeconds, rollup.MaxMTTRSeconds = summarizeSeconds(mttr)
	return rollup, nil
}

// summarizeSeconds returns the average, minimum, and maximum of a sample,
// all nil when the sample is empty.
func summarizeSeconds(values []float64) (avg, min, max *float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mean := sum / float64(len(values))
	return &mean, &lo, &hi
}

// AddNote appends a timestamped note to the incident. Notes are append-only;
// existing entries are never replaced or removed.
func (s *IncidentService) AddNote(incidentID, text string) (*database.Incident, error) {
	lock := s.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	var incident database.Incident
	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.releaseLock(incidentID)
		}
		return nil, err
	}

	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), text)
	notes := append(incident.Notes, entry)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Incident{}).Where("incident_id = ?", incidentID).Update("notes", notes).Error; err != nil {
			return err
		}
		return tx.Create(&database.IncidentEvent{
			IncidentID: incidentID,
			EventType:  database.IncidentEventNoteAdded,
			Detail:     database.JSONB{"note": text},
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add note to incident %s: %w", incidentID, err)
	}

	if err := s.db.Where("incident_id = ?", incidentID).First(&incident).Error; err != nil {
		return nil, err
	}

	s.publish(EventIncidentUpdated, &incident)
	return &incident, nil
}
