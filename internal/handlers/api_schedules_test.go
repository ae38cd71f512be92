package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
)

func TestCreateSchedule(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/schedules", map[string]interface{}{
		"team":       "payment-api",
		"start_date": "2026-01-05",
		"responders": []map[string]string{
			{"name": "Alice", "email": "alice@example.com"},
			{"name": "Bob", "email": "bob@example.com"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var schedule database.Schedule
	decodeBody(t, rec, &schedule)
	if schedule.ScheduleID == "" {
		t.Error("expected a schedule id")
	}
	if schedule.RotationType != database.RotationWeekly {
		t.Errorf("expected weekly rotation by default, got %s", schedule.RotationType)
	}
	if schedule.EscalationMinutes != 5 {
		t.Errorf("expected the default escalation window, got %d", schedule.EscalationMinutes)
	}
	if len(schedule.Responders) != 2 {
		t.Errorf("expected 2 responders, got %d", len(schedule.Responders))
	}
}

func TestCreateSchedule_Validation(t *testing.T) {
	mux, _ := newTestMux(t)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{
			name: "no responders",
			body: map[string]interface{}{
				"team":       "payment-api",
				"start_date": "2026-01-05",
				"responders": []map[string]string{},
			},
			field: "responders",
		},
		{
			name: "bad date",
			body: map[string]interface{}{
				"team":       "payment-api",
				"start_date": "January 5th",
				"responders": []map[string]string{{"name": "Alice", "email": "alice@example.com"}},
			},
			field: "start_date",
		},
		{
			name: "bad rotation",
			body: map[string]interface{}{
				"team":          "payment-api",
				"rotation_type": "hourly",
				"start_date":    "2026-01-05",
				"responders":    []map[string]string{{"name": "Alice", "email": "alice@example.com"}},
			},
			field: "rotation_type",
		},
		{
			name: "bad email",
			body: map[string]interface{}{
				"team":       "payment-api",
				"start_date": "2026-01-05",
				"responders": []map[string]string{{"name": "Alice", "email": "not-an-email"}},
			},
			field: "email",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/schedules", tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
			}

			var resp struct {
				Details map[string]string `json:"details"`
			}
			decodeBody(t, rec, &resp)
			found := false
			for field := range resp.Details {
				if strings.Contains(field, tc.field) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected a validation error mentioning %s, got %v", tc.field, resp.Details)
			}
		})
	}
}

func TestCreateSchedule_DuplicateTeam(t *testing.T) {
	mux, env := newTestMux(t)
	seedSchedule(t, env, "payment-api")

	rec := doJSON(t, mux, http.MethodPost, "/api/schedules", map[string]interface{}{
		"team":       "payment-api",
		"start_date": "2026-01-05",
		"responders": []map[string]string{{"name": "Carol", "email": "carol@example.com"}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	var resp struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &resp)
	if resp.Code != "team_exists" {
		t.Errorf("expected code team_exists, got %q", resp.Code)
	}
}

func TestScheduleByID(t *testing.T) {
	mux, env := newTestMux(t)
	schedule := seedSchedule(t, env, "payment-api")

	rec := doJSON(t, mux, http.MethodGet, "/api/schedules/"+schedule.ScheduleID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	missing := doJSON(t, mux, http.MethodGet, "/api/schedules/sch_missing", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", missing.Code)
	}
}

func TestListSchedules(t *testing.T) {
	mux, env := newTestMux(t)
	seedSchedule(t, env, "payment-api")
	seedSchedule(t, env, "search")

	rec := doJSON(t, mux, http.MethodGet, "/api/schedules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var schedules []database.Schedule
	decodeBody(t, rec, &schedules)
	if len(schedules) != 2 {
		t.Errorf("expected 2 schedules, got %d", len(schedules))
	}
}

func TestOnCallCurrent(t *testing.T) {
	mux, env := newTestMux(t)
	seedSchedule(t, env, "payment-api")

	rec := doJSON(t, mux, http.MethodGet, "/api/oncall/current?team=payment-api", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp api.OnCallResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "on_call" {
		t.Errorf("expected status on_call, got %q", resp.Status)
	}
	if resp.Primary == nil || resp.Primary.Email != "alice@example.com" {
		t.Errorf("expected alice as primary, got %+v", resp.Primary)
	}
	if resp.Secondary == nil || resp.Secondary.Email != "bob@example.com" {
		t.Errorf("expected bob as secondary, got %+v", resp.Secondary)
	}
	if resp.RotationType != "weekly" {
		t.Errorf("expected rotation echoed, got %q", resp.RotationType)
	}
}

func TestOnCallCurrent_UnknownTeam(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/oncall/current?team=ghosts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp api.OnCallResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "unassigned" {
		t.Errorf("expected status unassigned, got %q", resp.Status)
	}
	if resp.Primary != nil {
		t.Error("expected no primary without a schedule")
	}
}

func TestOnCallCurrent_MissingTeamParam(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/oncall/current", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}
