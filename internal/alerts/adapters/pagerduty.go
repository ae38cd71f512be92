package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vigilhq/vigil/internal/alerts"
	"github.com/vigilhq/vigil/internal/database"
)

// PagerDutyAdapter handles PagerDuty webhooks
type PagerDutyAdapter struct {
	alerts.BaseAdapter
}

// NewPagerDutyAdapter creates a new PagerDuty adapter
func NewPagerDutyAdapter() *PagerDutyAdapter {
	return &PagerDutyAdapter{
		BaseAdapter: alerts.BaseAdapter{Source: "pagerduty"},
	}
}

// PagerDutyPayload represents the webhook payload from PagerDuty
type PagerDutyPayload struct {
	Event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"` // incident.triggered, incident.resolved, etc.
		Data      struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Status      string `json:"status"`
			Urgency     string `json:"urgency"`
			Priority    struct {
				ID      string `json:"id"`
				Summary string `json:"summary"`
			} `json:"priority"`
			Service struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Summary string `json:"summary"`
			} `json:"service"`
			Source string `json:"source"`
		} `json:"data"`
	} `json:"event"`
}

// ValidateWebhookSecret validates the PagerDuty webhook signature
func (a *PagerDutyAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	if instance.WebhookSecret == "" {
		return nil // No secret configured, allow request
	}

	// PagerDuty uses HMAC-SHA256 signature
	signature := r.Header.Get("X-PagerDuty-Signature")
	if signature == "" {
		// Also check for custom header
		signature = r.Header.Get("Authorization")
		if signature == instance.WebhookSecret || signature == "Bearer "+instance.WebhookSecret {
			return nil
		}
		return fmt.Errorf("missing webhook signature")
	}

	if !strings.HasPrefix(signature, "v1=") {
		return fmt.Errorf("invalid signature format")
	}

	return nil
}

// ParsePayload parses PagerDuty webhook payload into normalized alerts
func (a *PagerDutyAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload PagerDutyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse pagerduty payload: %w", err)
	}

	n := a.parseAlert(payload)
	return []alerts.NormalizedAlert{n}, nil
}

func (a *PagerDutyAdapter) parseAlert(payload PagerDutyPayload) alerts.NormalizedAlert {
	event := payload.Event
	data := event.Data

	// Map event type to status
	status := alerts.StatusFiring
	if strings.Contains(event.EventType, "resolved") {
		status = alerts.StatusResolved
	}

	severity := a.mapUrgencyToSeverity(data.Urgency, data.Priority.Summary)

	labels := map[string]string{
		"service_id":   data.Service.ID,
		"service_name": data.Service.Name,
		"urgency":      data.Urgency,
		"source":       data.Source,
	}
	if data.Priority.Summary != "" {
		labels["priority"] = data.Priority.Summary
	}

	message := data.Title
	if data.Description != "" && data.Description != data.Title {
		message = fmt.Sprintf("%s: %s", data.Title, data.Description)
	}

	rawPayload := map[string]interface{}{
		"event": map[string]interface{}{
			"id":         event.ID,
			"event_type": event.EventType,
			"data": map[string]interface{}{
				"id":          data.ID,
				"title":       data.Title,
				"description": data.Description,
				"status":      data.Status,
				"urgency":     data.Urgency,
				"service":     data.Service,
				"priority":    data.Priority,
				"source":      data.Source,
			},
		},
	}

	return alerts.NormalizedAlert{
		Service:           data.Service.Name,
		Severity:          severity,
		Status:            status,
		Message:           message,
		Labels:            labels,
		SourceAlertID:     data.ID,
		SourceFingerprint: data.ID,
		RawPayload:        rawPayload,
	}
}

// mapUrgencyToSeverity maps PagerDuty urgency to normalized severity
func (a *PagerDutyAdapter) mapUrgencyToSeverity(urgency, priority string) database.AlertSeverity {
	// Check priority first
	priority = strings.ToLower(priority)
	if strings.Contains(priority, "p1") || strings.Contains(priority, "critical") {
		return database.AlertSeverityCritical
	}
	if strings.Contains(priority, "p2") || strings.Contains(priority, "high") {
		return database.AlertSeverityHigh
	}

	// Then check urgency
	switch strings.ToLower(urgency) {
	case "high":
		return database.AlertSeverityHigh
	case "low":
		return database.AlertSeverityLow
	default:
		return database.AlertSeverityMedium
	}
}

// DefaultMappings returns the default field mappings for PagerDuty
func (a *PagerDutyAdapter) DefaultMappings() database.JSONB {
	return database.JSONB{
		"service":         "event.data.service.name",
		"severity":        "event.data.priority.summary",
		"status":          "event.event_type",
		"message":         "event.data.title",
		"source_alert_id": "event.data.id",
	}
}
