package handlers

import (
	"net/http"
	"testing"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
)

func TestGetCorrelationSettings_CreatesDefaults(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/settings/correlation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var settings database.CorrelationSettings
	decodeBody(t, rec, &settings)
	if !settings.Enabled {
		t.Error("expected correlation enabled by default")
	}
	if settings.WindowMinutes != 5 {
		t.Errorf("window_minutes = %d, want 5", settings.WindowMinutes)
	}
}

func TestUpdateCorrelationSettings(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPut, "/api/settings/correlation", map[string]interface{}{
		"window_minutes": 30,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var settings database.CorrelationSettings
	decodeBody(t, rec, &settings)
	if settings.WindowMinutes != 30 {
		t.Errorf("window_minutes = %d, want 30", settings.WindowMinutes)
	}
	if !settings.Enabled {
		t.Error("enabled should be untouched by a window-only update")
	}

	got := doJSON(t, mux, http.MethodGet, "/api/settings/correlation", nil)
	var reread database.CorrelationSettings
	decodeBody(t, got, &reread)
	if reread.WindowMinutes != 30 {
		t.Errorf("persisted window_minutes = %d, want 30", reread.WindowMinutes)
	}
}

func TestUpdateCorrelationSettings_EmptyBody(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPut, "/api/settings/correlation", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for an empty update, got %d", rec.Code)
	}
}

func TestUpdateCorrelationSettings_WindowOutOfRange(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPut, "/api/settings/correlation", map[string]interface{}{
		"window_minutes": 0,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for a zero window, got %d", rec.Code)
	}
}

func TestDisablingCorrelation_DefersNewAlerts(t *testing.T) {
	mux, env := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPut, "/api/settings/correlation", map[string]interface{}{
		"enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	ingest := doJSON(t, mux, http.MethodPost, "/api/alerts", map[string]interface{}{
		"service":  "payment-api",
		"severity": "critical",
		"message":  "error rate above 5%",
	})
	if ingest.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", ingest.Code, ingest.Body.String())
	}

	var resp api.IngestAlertResponse
	decodeBody(t, ingest, &resp)
	if resp.Action != string(database.AlertActionDeferred) {
		t.Errorf("action = %s, want deferred", resp.Action)
	}
	if resp.IncidentID != nil {
		t.Errorf("expected no incident link, got %s", *resp.IncidentID)
	}

	var count int64
	env.db.Model(&database.Incident{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no incidents while correlation is disabled, got %d", count)
	}
}
