package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vigilhq/vigil/internal/api"
	"github.com/vigilhq/vigil/internal/database"
)

func TestNotify_MockChannel(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer": "alice@example.com",
		"message":  "please take a look at checkout",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record database.Notification
	decodeBody(t, rec, &record)
	if !strings.HasPrefix(record.NotificationID, "notif-") {
		t.Errorf("notification_id = %q, want notif- prefix", record.NotificationID)
	}
	if record.Channel != database.ChannelMock {
		t.Errorf("channel = %q, want mock", record.Channel)
	}
	if record.Status != database.NotificationDelivered {
		t.Errorf("status = %q, want delivered", record.Status)
	}
}

func TestNotify_EmailFallsBackWhenUnconfigured(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer": "alice@example.com",
		"channel":  "email",
		"message":  "disk almost full on db-3",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record database.Notification
	decodeBody(t, rec, &record)
	if record.Status != database.NotificationDelivered {
		t.Errorf("status = %q, want delivered via fallback", record.Status)
	}
	if record.Detail["fallback"] != "smtp_unconfigured" {
		t.Errorf("detail = %v, want smtp_unconfigured fallback", record.Detail)
	}
	if record.Detail["delivered_via"] != "mock" {
		t.Errorf("detail = %v, want delivered_via mock", record.Detail)
	}
}

func TestNotify_WebhookWithoutDestinationsFails(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer": "alice@example.com",
		"channel":  "webhook",
		"message":  "paging via webhook",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record database.Notification
	decodeBody(t, rec, &record)
	if record.Status != database.NotificationFailed {
		t.Errorf("status = %q, want failed with no destinations", record.Status)
	}
}

func TestNotify_WebhookDelivers(t *testing.T) {
	mux, _ := newTestMux(t)

	payloads := make(chan map[string]interface{}, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		payloads <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	rec := doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer":    "alice@example.com",
		"channel":     "webhook",
		"message":     "paging via webhook",
		"webhook_url": target.URL,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var record database.Notification
	decodeBody(t, rec, &record)
	if record.Status != database.NotificationDelivered {
		t.Errorf("status = %q, want delivered", record.Status)
	}

	select {
	case payload := <-payloads:
		if payload["engineer"] != "alice@example.com" {
			t.Errorf("webhook payload = %v, want engineer set", payload)
		}
	default:
		t.Fatal("webhook destination was never called")
	}
}

func TestNotify_Validation(t *testing.T) {
	mux, _ := newTestMux(t)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{
			name:  "missing engineer",
			body:  map[string]interface{}{"message": "m"},
			field: "engineer",
		},
		{
			name:  "unknown channel",
			body:  map[string]interface{}{"engineer": "alice", "channel": "pager", "message": "m"},
			field: "channel",
		},
		{
			name:  "missing message",
			body:  map[string]interface{}{"engineer": "alice"},
			field: "message",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/notify", tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d", rec.Code)
			}

			var resp struct {
				Details map[string]string `json:"details"`
			}
			decodeBody(t, rec, &resp)
			if _, ok := resp.Details[tc.field]; !ok {
				t.Errorf("expected a validation error for %s, got %v", tc.field, resp.Details)
			}
		})
	}
}

func TestListNotifications_FiltersByChannel(t *testing.T) {
	mux, _ := newTestMux(t)

	for i := 0; i < 2; i++ {
		doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
			"engineer": "alice@example.com",
			"message":  "mock page",
		})
	}
	doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer": "bob@example.com",
		"channel":  "webhook",
		"message":  "webhook page",
	})

	rec := doJSON(t, mux, http.MethodGet, "/api/notifications?channel=mock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp struct {
		Data       []database.Notification `json:"data"`
		Pagination api.PaginationMeta      `json:"pagination"`
	}
	decodeBody(t, rec, &resp)
	if resp.Pagination.Total != 2 {
		t.Errorf("expected 2 mock notifications, got %d", resp.Pagination.Total)
	}
	for _, n := range resp.Data {
		if n.Channel != database.ChannelMock {
			t.Errorf("expected only mock channel records, got %s", n.Channel)
		}
	}
}

func TestNotificationByID(t *testing.T) {
	mux, _ := newTestMux(t)

	created := doJSON(t, mux, http.MethodPost, "/api/notify", map[string]interface{}{
		"engineer": "alice@example.com",
		"message":  "mock page",
	})
	var record database.Notification
	decodeBody(t, created, &record)

	rec := doJSON(t, mux, http.MethodGet, "/api/notifications/"+record.NotificationID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	missing := doJSON(t, mux, http.MethodGet, "/api/notifications/notif-000000000000", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", missing.Code)
	}
}
