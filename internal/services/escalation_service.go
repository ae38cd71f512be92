package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/database"

	"gorm.io/gorm"
)

// escalationStep is one resolved level of a team's escalation chain
type escalationStep struct {
	level  int
	wait   time.Duration
	target string
}

// EscalationService promotes unacknowledged incidents to the next responder.
// Deadlines are persisted as timer rows and swept by the escalation monitor,
// so pending escalations survive process restarts.
type EscalationService struct {
	db            *gorm.DB
	cfg           *config.Config
	incidents     *IncidentService
	schedules     *ScheduleService
	policies      *PolicyService
	notifications *NotificationService
}

// NewEscalationService creates a new escalation service
func NewEscalationService(db *gorm.DB, cfg *config.Config, incidents *IncidentService, schedules *ScheduleService, policies *PolicyService, notifications *NotificationService) *EscalationService {
	return &EscalationService{
		db:            db,
		cfg:           cfg,
		incidents:     incidents,
		schedules:     schedules,
		policies:      policies,
		notifications: notifications,
	}
}

// StartTimer schedules the first escalation deadline for an incident.
// Returns gorm.ErrRecordNotFound when the team has no schedule: without a
// rotation there is nobody to escalate to and no configured delay.
func (s *EscalationService) StartTimer(incidentID, team, assignee string) (*database.EscalationTimer, error) {
	schedule, err := s.schedules.GetScheduleByTeam(team)
	if err != nil {
		return nil, err
	}

	step := s.stepFor(team, schedule, 1)
	if step == nil {
		// A policy exists but defines no levels; nothing to schedule.
		return nil, nil
	}

	timer := &database.EscalationTimer{
		IncidentID:    incidentID,
		Team:          team,
		CurrentLevel:  1,
		AssignedTo:    assignee,
		EscalateAfter: time.Now().UTC().Add(step.wait),
		IsActive:      true,
	}
	if err := s.db.Create(timer).Error; err != nil {
		return nil, fmt.Errorf("failed to start escalation timer: %w", err)
	}
	log.Printf("Escalation timer started for incident %s (level 1, fires in %s)", incidentID, step.wait)
	return timer, nil
}

// CheckEscalations fires every active timer whose deadline has passed.
// Timers are independent: one incident's failure never blocks another's.
func (s *EscalationService) CheckEscalations() {
	var timers []database.EscalationTimer
	err := s.db.Where("is_active = ? AND escalate_after <= ?", true, time.Now().UTC()).Find(&timers).Error
	if err != nil {
		log.Printf("Escalation monitor: failed to query timers: %v", err)
		return
	}

	for i := range timers {
		s.fireTimer(&timers[i])
	}
}

// fireTimer runs one due deadline. The incident status is re-read at fire
// time, not schedule time, so a late acknowledgement always wins.
func (s *EscalationService) fireTimer(timer *database.EscalationTimer) {
	incident, err := s.incidents.GetIncident(timer.IncidentID)
	if err != nil {
		log.Printf("Escalation monitor: incident %s not found for timer %d: %v", timer.IncidentID, timer.ID, err)
		s.deactivateTimer(timer.ID)
		return
	}

	if incident.Status != database.IncidentStatusOpen {
		// Acknowledged or resolved before the deadline; stand down quietly.
		s.deactivateTimer(timer.ID)
		return
	}

	if _, err := s.escalate(incident, timer.Team, timer.CurrentLevel, "escalation timeout", timer); err != nil {
		log.Printf("Escalation monitor: incident %s level %d: %v", timer.IncidentID, timer.CurrentLevel, err)
	}
}

// Escalate promotes an incident immediately, bypassing any pending deadline.
// The level picks up where the incident's escalation history left off. The
// returned record has status failed (and an empty to_engineer) when no
// target could be resolved; that outcome is recorded, not raised.
func (s *EscalationService) Escalate(incidentID, reason string) (*database.Escalation, error) {
	incident, err := s.incidents.GetIncident(incidentID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "manual escalation"
	}

	team := incident.Service

	// A pending timer is superseded by the manual action.
	level := 1
	var timer *database.EscalationTimer
	var pending database.EscalationTimer
	err = s.db.Where("incident_id = ? AND is_active = ?", incidentID, true).
		Order("current_level DESC").First(&pending).Error
	if err == nil {
		timer = &pending
		level = pending.CurrentLevel
	} else {
		var count int64
		s.db.Model(&database.Escalation{}).Where("incident_id = ?", incidentID).Count(&count)
		level = int(count) + 1
	}

	return s.escalate(incident, team, level, reason, timer)
}

// escalate resolves the level's target as of now, records the escalation,
// reassigns and notifies, then chains the next level while one exists. The
// fired timer (nil for manual escalations without one) is always deactivated.
func (s *EscalationService) escalate(incident *database.Incident, team string, level int, reason string, timer *database.EscalationTimer) (*database.Escalation, error) {
	schedule, err := s.schedules.GetScheduleByTeam(team)
	if err != nil {
		if timer != nil {
			s.deactivateTimer(timer.ID)
		}
		return nil, err
	}

	from := ""
	if incident.AssignedTo != nil {
		from = *incident.AssignedTo
	}

	target := ""
	step := s.stepFor(team, schedule, level)
	if step != nil {
		target = s.resolveTarget(step.target, schedule)
	}

	if timer != nil {
		s.deactivateTimer(timer.ID)
	}

	if target == "" {
		// No secondary in a single-responder rotation and no manager to fall
		// back to. Record the failed attempt and stop; the assignee is kept.
		record := &database.Escalation{
			IncidentID:   incident.IncidentID,
			FromEngineer: from,
			Level:        level,
			Reason:       reason,
			Status:       database.EscalationStatusFailed,
		}
		if err := s.db.Create(record).Error; err != nil {
			return nil, fmt.Errorf("failed to record escalation: %w", err)
		}
		log.Printf("Warning: no escalation target for incident %s (level %d)", incident.IncidentID, level)
		return record, nil
	}

	record := &database.Escalation{
		IncidentID:   incident.IncidentID,
		FromEngineer: from,
		ToEngineer:   target,
		Level:        level,
		Reason:       reason,
		Status:       database.EscalationStatusEscalated,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return tx.Create(&database.IncidentEvent{
			IncidentID: incident.IncidentID,
			EventType:  database.IncidentEventEscalated,
			Detail:     database.JSONB{"from": from, "to": target, "level": level, "reason": reason},
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record escalation: %w", err)
	}

	if _, err := s.incidents.Reassign(incident.IncidentID, target); err != nil {
		log.Printf("Warning: failed to reassign incident %s to %s: %v", incident.IncidentID, target, err)
	}

	// Notify strictly after the store reflects the new assignee.
	message := fmt.Sprintf("[ESCALATED L%d] %s", level, incident.Title)
	s.notifications.Send(target, database.ChannelSlack, message, &SendOptions{
		IncidentID: &incident.IncidentID,
		Severity:   incident.Severity,
	})

	if next := s.stepFor(team, schedule, level+1); next != nil {
		nextTimer := &database.EscalationTimer{
			IncidentID:    incident.IncidentID,
			Team:          team,
			CurrentLevel:  level + 1,
			AssignedTo:    target,
			EscalateAfter: time.Now().UTC().Add(next.wait),
			IsActive:      true,
		}
		if err := s.db.Create(nextTimer).Error; err != nil {
			log.Printf("Warning: failed to schedule level %d timer for incident %s: %v", level+1, incident.IncidentID, err)
		}
	}

	log.Printf("Incident %s escalated: %s -> %s (level %d)", incident.IncidentID, from, target, level)
	return record, nil
}

// ListEscalations returns the audit log, newest first, plus the total match
// count for pagination.
func (s *EscalationService) ListEscalations(incidentID string, offset, limit int) ([]database.Escalation, int64, error) {
	query := s.db.Model(&database.Escalation{})
	if incidentID != "" {
		query = query.Where("incident_id = ?", incidentID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var escalations []database.Escalation
	err := query.Order("escalated_at DESC").Offset(offset).Limit(limit).Find(&escalations).Error
	return escalations, total, err
}

// OnCallRollup aggregates escalation and paging activity
type OnCallRollup struct {
	TotalEscalations  int64
	FailedEscalations int64
	EscalationRatePct float64
	OnCallLoad        map[string]int64
	ByTeam            map[string]int64
}

// OnCallMetrics computes the on-call health rollup: escalation volume and
// failures, the share of incidents that escalated at least once, paging load
// per engineer over the last 7 days, and escalation counts per team.
func (s *EscalationService) OnCallMetrics() (*OnCallRollup, error) {
	rollup := &OnCallRollup{
		OnCallLoad: make(map[string]int64),
		ByTeam:     make(map[string]int64),
	}

	if err := s.db.Model(&database.Escalation{}).Count(&rollup.TotalEscalations).Error; err != nil {
		return nil, err
	}
	err := s.db.Model(&database.Escalation{}).
		Where("status = ?", database.EscalationStatusFailed).
		Count(&rollup.FailedEscalations).Error
	if err != nil {
		return nil, err
	}

	var totalIncidents int64
	if err := s.db.Model(&database.Incident{}).Count(&totalIncidents).Error; err != nil {
		return nil, err
	}
	if totalIncidents > 0 {
		var escalated int64
		err := s.db.Model(&database.Escalation{}).Distinct("incident_id").Count(&escalated).Error
		if err != nil {
			return nil, err
		}
		rollup.EscalationRatePct = float64(escalated) / float64(totalIncidents) * 100
	}

	type countRow struct {
		Key   string
		Count int64
	}

	var loads []countRow
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	err = s.db.Model(&database.Notification{}).
		Select("engineer AS key, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("engineer").
		Scan(&loads).Error
	if err != nil {
		return nil, err
	}
	for _, row := range loads {
		rollup.OnCallLoad[row.Key] = row.Count
	}

	var teams []countRow
	err = s.db.Model(&database.Escalation{}).
		Select("incidents.service AS key, COUNT(*) AS count").
		Joins("JOIN incidents ON incidents.incident_id = escalations.incident_id").
		Group("incidents.service").
		Scan(&teams).Error
	if err != nil {
		return nil, err
	}
	for _, row := range teams {
		rollup.ByTeam[row.Key] = row.Count
	}

	return rollup, nil
}

// stepFor resolves what a level means for a team: the team's stored policy
// when one exists, otherwise the implicit chain (level 1 pages the rotation
// secondary after the schedule delay, later levels page the manager, bounded
// by the configured loop count). Returns nil when the chain is exhausted.
func (s *EscalationService) stepFor(team string, schedule *database.Schedule, level int) *escalationStep {
	policy, err := s.policies.GetPolicyByTeam(team)
	if err == nil {
		pl := policy.LevelFor(level)
		if pl == nil {
			return nil
		}
		return &escalationStep{
			level:  level,
			wait:   time.Duration(pl.WaitMinutes) * time.Minute,
			target: pl.NotifyTarget,
		}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Warning: policy lookup for team %s failed: %v", team, err)
	}

	if level > s.cfg.EscalationLoopCount+1 {
		return nil
	}
	target := database.NotifyTargetSecondary
	if level > 1 {
		target = database.NotifyTargetManager
	}
	return &escalationStep{
		level:  level,
		wait:   time.Duration(schedule.EscalationMinutes) * time.Minute,
		target: target,
	}
}

// resolveTarget maps a policy notify_target to a concrete address as of now.
// Returns "" when the target cannot be resolved.
func (s *EscalationService) resolveTarget(kind string, schedule *database.Schedule) string {
	switch kind {
	case database.NotifyTargetSecondary:
		_, secondary := OnCallFor(schedule, time.Now().UTC())
		if secondary == nil {
			return ""
		}
		return secondary.Email
	case database.NotifyTargetManager:
		return s.cfg.ManagerEmail
	default:
		return kind
	}
}

func (s *EscalationService) deactivateTimer(id uint) {
	err := s.db.Model(&database.EscalationTimer{}).Where("id = ?", id).Update("is_active", false).Error
	if err != nil {
		log.Printf("Warning: failed to deactivate escalation timer %d: %v", id, err)
	}
}
