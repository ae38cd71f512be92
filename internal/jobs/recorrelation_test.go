package jobs

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/services"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&database.Alert{},
		&database.Incident{},
		&database.IncidentEvent{},
		&database.Schedule{},
		&database.EscalationPolicy{},
		&database.EscalationTimer{},
		&database.Escalation{},
		&database.Notification{},
		&database.CorrelationSettings{},
		&database.AlertSourceInstance{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func newTestServices(t *testing.T, db *gorm.DB) (*services.CorrelationService, *services.EscalationService, *services.IncidentService) {
	cfg := &config.Config{
		HTTPTimeoutSeconds:       2,
		ManagerEmail:             "manager@example.com",
		EscalationLoopCount:      1,
		DefaultEscalationMinutes: 5,
	}
	incidents := services.NewIncidentService(db)
	schedules := services.NewScheduleService(db, cfg.DefaultEscalationMinutes)
	policies := services.NewPolicyService(db)
	notifications := services.NewNotificationService(db, cfg)
	escalations := services.NewEscalationService(db, cfg, incidents, schedules, policies, notifications)
	correlator := services.NewCorrelationService(db, incidents, schedules, escalations, notifications)
	return correlator, escalations, incidents
}

func seedDeferredAlert(t *testing.T, db *gorm.DB, service, message string, observedAt time.Time) *database.Alert {
	alert := &database.Alert{
		Service:    service,
		Severity:   database.AlertSeverityCritical,
		Message:    message,
		Action:     database.AlertActionDeferred,
		ObservedAt: observedAt,
	}
	if err := db.Create(alert).Error; err != nil {
		t.Fatalf("unexpected error seeding alert: %v", err)
	}
	return alert
}

func disableCorrelation(t *testing.T, db *gorm.DB) *database.CorrelationSettings {
	settings, err := database.GetOrCreateCorrelationSettings(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.Model(settings).Update("enabled", false).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settings.Enabled = false
	return settings
}

func TestRecorrelationJob_AttachesDeferredAlerts(t *testing.T) {
	db := setupTestDB(t)
	correlator, _, _ := newTestServices(t, db)

	now := time.Now().UTC()
	seedDeferredAlert(t, db, "payment-api", "error rate above 5%", now.Add(-time.Minute))
	seedDeferredAlert(t, db, "payment-api", "error rate above 7%", now)

	job := NewRecorrelationJob(db, correlator)
	attached, err := job.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attached != 2 {
		t.Errorf("expected 2 alerts attached, got %d", attached)
	}

	var incidents int64
	db.Model(&database.Incident{}).Count(&incidents)
	if incidents != 1 {
		t.Errorf("expected a single incident for the correlated pair, got %d", incidents)
	}

	var orphans int64
	db.Model(&database.Alert{}).Where("incident_id IS NULL").Count(&orphans)
	if orphans != 0 {
		t.Errorf("expected no orphan alerts after the sweep, got %d", orphans)
	}
}

func TestRecorrelationJob_OldestAlertShapesTheIncident(t *testing.T) {
	db := setupTestDB(t)
	correlator, _, _ := newTestServices(t, db)

	now := time.Now().UTC()
	seedDeferredAlert(t, db, "payment-api", "the first failure", now.Add(-2*time.Minute))
	seedDeferredAlert(t, db, "payment-api", "a later symptom", now)

	job := NewRecorrelationJob(db, correlator)
	if _, err := job.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var incident database.Incident
	if err := db.First(&incident).Error; err != nil {
		t.Fatalf("expected an incident: %v", err)
	}
	if incident.Title != "the first failure" {
		t.Errorf("expected the oldest alert replayed first, got title %q", incident.Title)
	}
}

func TestRecorrelationJob_DisabledSkips(t *testing.T) {
	db := setupTestDB(t)
	correlator, _, _ := newTestServices(t, db)
	disableCorrelation(t, db)

	seedDeferredAlert(t, db, "payment-api", "error rate above 5%", time.Now().UTC())

	job := NewRecorrelationJob(db, correlator)
	attached, err := job.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attached != 0 {
		t.Errorf("expected no work while disabled, got %d", attached)
	}

	var alert database.Alert
	db.First(&alert)
	if alert.Action != database.AlertActionDeferred || alert.IncidentID != nil {
		t.Error("expected the alert left deferred")
	}
}

func TestRecorrelationJob_EmptyBacklog(t *testing.T) {
	db := setupTestDB(t)
	correlator, _, _ := newTestServices(t, db)

	job := NewRecorrelationJob(db, correlator)
	attached, err := job.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attached != 0 {
		t.Errorf("expected nothing attached, got %d", attached)
	}
}

func TestRecorrelationJob_StartStops(t *testing.T) {
	db := setupTestDB(t)
	correlator, _, _ := newTestServices(t, db)

	job := NewRecorrelationJob(db, correlator)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		job.Start(10*time.Millisecond, stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Start to return after the stop signal")
	}
}
