package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/alerts/adapters"
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

// testEnv wires a full service graph over an in-memory store
type testEnv struct {
	db            *gorm.DB
	alerts        *services.AlertService
	incidents     *services.IncidentService
	correlator    *services.CorrelationService
	schedules     *services.ScheduleService
	escalations   *services.EscalationService
	policies      *services.PolicyService
	notifications *services.NotificationService
	webhooks      *WebhookHandler
	api           *APIHandler
}

func newTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)
	cfg := &config.Config{
		HTTPTimeoutSeconds:       2,
		ManagerEmail:             "manager@example.com",
		EscalationLoopCount:      1,
		DefaultEscalationMinutes: 5,
	}

	alertService := services.NewAlertService(db)
	incidents := services.NewIncidentService(db)
	schedules := services.NewScheduleService(db, cfg.DefaultEscalationMinutes)
	policies := services.NewPolicyService(db)
	notifications := services.NewNotificationService(db, cfg)
	escalations := services.NewEscalationService(db, cfg, incidents, schedules, policies, notifications)
	correlator := services.NewCorrelationService(db, incidents, schedules, escalations, notifications)

	webhooks := NewWebhookHandler(correlator, alertService)
	webhooks.RegisterAdapter(adapters.NewAlertmanagerAdapter())
	webhooks.RegisterAdapter(adapters.NewGrafanaAdapter())

	return &testEnv{
		db:            db,
		alerts:        alertService,
		incidents:     incidents,
		correlator:    correlator,
		schedules:     schedules,
		escalations:   escalations,
		policies:      policies,
		notifications: notifications,
		webhooks:      webhooks,
		api: NewAPIHandler(db, alertService, incidents, correlator, schedules,
			escalations, policies, notifications, webhooks),
	}
}

func newTestMux(t *testing.T) (*http.ServeMux, *testEnv) {
	env := newTestEnv(t)
	mux := http.NewServeMux()
	env.api.SetupRoutes(mux)
	env.webhooks.SetupRoutes(mux)
	return mux, env
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func doRaw(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// seedSchedule creates a weekly rotation whose start is far enough back that
// the first responder is on call during the test run.
func seedSchedule(t *testing.T, env *testEnv, team string) *database.Schedule {
	t.Helper()

	schedule := &database.Schedule{
		Team:         team,
		RotationType: database.RotationWeekly,
		StartDate:    time.Now().UTC().AddDate(0, 0, -14).Truncate(24 * time.Hour),
		Responders: database.ResponderList{
			{Name: "Alice", Email: "alice@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		},
		EscalationMinutes: 5,
	}
	if err := env.schedules.CreateSchedule(schedule); err != nil {
		t.Fatalf("failed to seed schedule: %v", err)
	}
	return schedule
}

func seedIncident(t *testing.T, env *testEnv, service string) *database.Incident {
	t.Helper()

	incident := &database.Incident{
		Title:    service + " is failing",
		Service:  service,
		Severity: database.AlertSeverityCritical,
	}
	if err := env.incidents.Create(incident); err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}
	return incident
}
