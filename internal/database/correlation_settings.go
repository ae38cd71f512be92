package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// CorrelationSettings controls the alert correlation window. Singleton row,
// read by the correlator on every decision so changes apply immediately.
type CorrelationSettings struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Enabled       bool      `gorm:"default:true" json:"enabled"`
	WindowMinutes int       `gorm:"default:5" json:"window_minutes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (CorrelationSettings) TableName() string {
	return "correlation_settings"
}

// NewDefaultCorrelationSettings returns settings with default values
func NewDefaultCorrelationSettings(windowMinutes int) *CorrelationSettings {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	return &CorrelationSettings{
		Enabled:       true,
		WindowMinutes: windowMinutes,
	}
}

// GetOrCreateCorrelationSettings returns the settings singleton, creating it
// with defaults when missing
func GetOrCreateCorrelationSettings(db *gorm.DB) (*CorrelationSettings, error) {
	var settings CorrelationSettings
	result := db.First(&settings)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		settings = *NewDefaultCorrelationSettings(0)
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdateCorrelationSettings persists changed settings.
// Accepts a db parameter for transaction support and testing.
func UpdateCorrelationSettings(db *gorm.DB, settings *CorrelationSettings) error {
	return db.Save(settings).Error
}
