package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/vigilhq/vigil/internal/database"

	"gorm.io/gorm"
)

// ErrNoResponders rejects a schedule without rotation members. Catching this
// at creation time keeps the resolver total: it never sees an empty rotation.
var ErrNoResponders = errors.New("schedule requires at least one responder")

// ErrTeamExists rejects a second schedule for the same team
var ErrTeamExists = errors.New("team already has a schedule")

// OnCallResult is the live rotation state for one team
type OnCallResult struct {
	Schedule  *database.Schedule
	Primary   *database.Responder
	Secondary *database.Responder
}

// ScheduleService owns on-call schedules and resolves who is on call
type ScheduleService struct {
	db                       *gorm.DB
	defaultEscalationMinutes int
}

// NewScheduleService creates a new schedule service
func NewScheduleService(db *gorm.DB, defaultEscalationMinutes int) *ScheduleService {
	if defaultEscalationMinutes <= 0 {
		defaultEscalationMinutes = 5
	}
	return &ScheduleService{db: db, defaultEscalationMinutes: defaultEscalationMinutes}
}

// CreateSchedule validates and persists a rotation. A schedule with zero
// responders is a configuration error, rejected here rather than surfacing
// later as a runtime fault.
func (s *ScheduleService) CreateSchedule(schedule *database.Schedule) error {
	if len(schedule.Responders) == 0 {
		return ErrNoResponders
	}
	if schedule.RotationType == "" {
		schedule.RotationType = database.RotationWeekly
	}
	if !database.IsValidRotationType(schedule.RotationType) {
		return fmt.Errorf("unknown rotation type %q", schedule.RotationType)
	}
	if schedule.EscalationMinutes <= 0 {
		schedule.EscalationMinutes = s.defaultEscalationMinutes
	}
	// The anchor is date-only: rotation math counts whole days from midnight UTC.
	schedule.StartDate = schedule.StartDate.UTC().Truncate(24 * time.Hour)

	var count int64
	if err := s.db.Model(&database.Schedule{}).Where("team = ?", schedule.Team).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check existing schedule: %w", err)
	}
	if count > 0 {
		return ErrTeamExists
	}

	if err := s.db.Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// ListSchedules returns all schedules ordered by team
func (s *ScheduleService) ListSchedules() ([]database.Schedule, error) {
	var schedules []database.Schedule
	err := s.db.Order("team ASC").Find(&schedules).Error
	return schedules, err
}

// GetSchedule returns a schedule by its public id
func (s *ScheduleService) GetSchedule(scheduleID string) (*database.Schedule, error) {
	var schedule database.Schedule
	if err := s.db.Where("schedule_id = ?", scheduleID).First(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// GetScheduleByTeam returns a team's schedule
func (s *ScheduleService) GetScheduleByTeam(team string) (*database.Schedule, error) {
	var schedule database.Schedule
	if err := s.db.Where("team = ?", team).First(&schedule).Error; err != nil {
		return nil, err
	}
	return &schedule, nil
}

// WhoIsOnCall resolves the current on-call pair for a team as of the given
// time. Returns gorm.ErrRecordNotFound when the team has no schedule; the
// caller decides whether that is a 404 or a degraded assignment path.
func (s *ScheduleService) WhoIsOnCall(team string, asOf time.Time) (*OnCallResult, error) {
	schedule, err := s.GetScheduleByTeam(team)
	if err != nil {
		return nil, err
	}
	primary, secondary := OnCallFor(schedule, asOf)
	return &OnCallResult{Schedule: schedule, Primary: primary, Secondary: secondary}, nil
}
