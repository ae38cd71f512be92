package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vigilhq/vigil/internal/database"

	"gorm.io/gorm"
)

// ErrInstanceNameTaken is returned when an alert source instance name is
// already in use.
var ErrInstanceNameTaken = errors.New("alert source name already in use")

// AlertFilter narrows alert list queries
type AlertFilter struct {
	Service    string
	Severity   string
	IncidentID string
	Source     string
}

// AlertService owns stored alerts and the webhook intake instances they
// arrive through. Alerts are immutable here; only the correlator sets their
// incident link.
type AlertService struct {
	db *gorm.DB
}

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{db: db}
}

// ========== Alert Operations ==========

// ListAlerts returns alerts matching the filter, newest first, plus the total
// match count for pagination.
func (s *AlertService) ListAlerts(filter AlertFilter, offset, limit int) ([]database.Alert, int64, error) {
	query := s.db.Model(&database.Alert{})
	if filter.Service != "" {
		query = query.Where("service = ?", filter.Service)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.IncidentID != "" {
		query = query.Where("incident_id = ?", filter.IncidentID)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var alerts []database.Alert
	err := query.Order("observed_at DESC, id DESC").Offset(offset).Limit(limit).Find(&alerts).Error
	return alerts, total, err
}

// GetAlert returns an alert by its public id
func (s *AlertService) GetAlert(alertID string) (*database.Alert, error) {
	var alert database.Alert
	if err := s.db.Where("alert_id = ?", alertID).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ========== Alert Source Instance Operations ==========

// ListInstances returns all alert source instances ordered by name
func (s *AlertService) ListInstances() ([]database.AlertSourceInstance, error) {
	var instances []database.AlertSourceInstance
	if err := s.db.Order("name ASC").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// GetInstanceByUUID returns an alert source instance by its webhook UUID
func (s *AlertService) GetInstanceByUUID(instanceUUID string) (*database.AlertSourceInstance, error) {
	var instance database.AlertSourceInstance
	if err := s.db.Where("uuid = ?", instanceUUID).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// CreateInstance persists a new webhook intake. Instances start enabled;
// disabling is an update. Names are unique across instances.
func (s *AlertService) CreateInstance(instance *database.AlertSourceInstance) error {
	var count int64
	if err := s.db.Model(&database.AlertSourceInstance{}).Where("name = ?", instance.Name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrInstanceNameTaken, instance.Name)
	}

	instance.Enabled = true
	if err := s.db.Create(instance).Error; err != nil {
		return fmt.Errorf("failed to create alert source instance: %w", err)
	}
	log.Printf("Created alert source instance %s (%s)", instance.Name, instance.SourceType)
	return nil
}

// UpdateInstance applies field updates to an instance and returns the
// refreshed record
func (s *AlertService) UpdateInstance(instanceUUID string, updates map[string]interface{}) (*database.AlertSourceInstance, error) {
	if _, err := s.GetInstanceByUUID(instanceUUID); err != nil {
		return nil, err
	}
	if name, ok := updates["name"].(string); ok {
		var count int64
		err := s.db.Model(&database.AlertSourceInstance{}).
			Where("name = ? AND uuid <> ?", name, instanceUUID).Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNameTaken, name)
		}
	}
	if len(updates) > 0 {
		err := s.db.Model(&database.AlertSourceInstance{}).Where("uuid = ?", instanceUUID).Updates(updates).Error
		if err != nil {
			return nil, fmt.Errorf("failed to update alert source instance: %w", err)
		}
	}
	return s.GetInstanceByUUID(instanceUUID)
}

// DeleteInstance removes an instance by UUID. Stored alerts keep their
// source tag; only the intake disappears.
func (s *AlertService) DeleteInstance(instanceUUID string) error {
	result := s.db.Where("uuid = ?", instanceUUID).Delete(&database.AlertSourceInstance{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchInstance stamps the intake's last successful delivery. Failures are
// logged only; a missing timestamp never blocks ingestion.
func (s *AlertService) TouchInstance(instanceUUID string) {
	err := s.db.Model(&database.AlertSourceInstance{}).Where("uuid = ?", instanceUUID).
		Update("last_alert_at", time.Now().UTC()).Error
	if err != nil {
		log.Printf("Warning: failed to touch alert source instance %s: %v", instanceUUID, err)
	}
}
