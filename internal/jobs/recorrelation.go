package jobs

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
	"github.com/vigilhq/vigil/internal/utils"
)

// recorrelationBatchSize caps how many deferred alerts one sweep replays
const recorrelationBatchSize = 200

// RecorrelationJob replays deferred alerts through the correlator. Alerts
// end up deferred when correlation was disabled or incident creation failed
// at ingest time; the sweep retries them oldest first until each gains an
// incident link.
type RecorrelationJob struct {
	db         *gorm.DB
	correlator *services.CorrelationService
}

// NewRecorrelationJob creates a new recorrelation job
func NewRecorrelationJob(db *gorm.DB, correlator *services.CorrelationService) *RecorrelationJob {
	return &RecorrelationJob{db: db, correlator: correlator}
}

// Run executes one sweep iteration. Settings are re-read here so enabling
// correlation at runtime starts healing the backlog on the next tick.
// Returns the number of alerts that gained an incident link.
func (j *RecorrelationJob) Run() (int, error) {
	settings, err := database.GetOrCreateCorrelationSettings(j.db)
	if err != nil {
		return 0, err
	}
	if !settings.Enabled {
		return 0, nil
	}

	var alerts []database.Alert
	err = j.db.Where("incident_id IS NULL AND action = ?", database.AlertActionDeferred).
		Order("observed_at ASC, id ASC").
		Limit(recorrelationBatchSize).
		Find(&alerts).Error
	if err != nil {
		return 0, err
	}

	attached := 0
	for i := range alerts {
		result, err := j.correlator.Correlate(&alerts[i])
		if err != nil {
			log.Printf("Recorrelation: alert %s stays deferred: %v", alerts[i].AlertID, err)
			continue
		}
		if result.Action != database.AlertActionDeferred {
			attached++
		}
	}
	return attached, nil
}

// Start begins the periodic recorrelation sweeps
func (j *RecorrelationJob) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			started := time.Now()
			attached, err := j.Run()
			if err != nil {
				log.Printf("Recorrelation job error: %v", err)
			} else if attached > 0 {
				log.Printf("Recorrelation job: attached %d deferred alerts in %s",
					attached, utils.FormatDuration(time.Since(started)))
			}
		case <-stop:
			log.Println("Recorrelation job stopped")
			return
		}
	}
}
