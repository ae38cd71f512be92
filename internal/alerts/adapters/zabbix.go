package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vigilhq/vigil/internal/alerts"
	"github.com/vigilhq/vigil/internal/database"
)

// ZabbixAdapter handles Zabbix webhooks
type ZabbixAdapter struct {
	alerts.BaseAdapter
}

// NewZabbixAdapter creates a new Zabbix adapter
func NewZabbixAdapter() *ZabbixAdapter {
	return &ZabbixAdapter{
		BaseAdapter: alerts.BaseAdapter{Source: "zabbix"},
	}
}

// ZabbixPayload represents the webhook payload from Zabbix
type ZabbixPayload struct {
	EventTime         string `json:"event_time"`
	AlertName         string `json:"alert_name"`
	Severity          string `json:"severity"`
	Priority          string `json:"priority"`
	Service           string `json:"service"`
	MetricName        string `json:"metric_name"`
	MetricValue       string `json:"metric_value"`
	TriggerExpression string `json:"trigger_expression"`
	EventID           string `json:"event_id"`
	Hardware          string `json:"hardware"`
	EventStatus       string `json:"event_status"`
}

// ValidateWebhookSecret validates the Zabbix webhook secret header
func (a *ZabbixAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	if instance.WebhookSecret == "" {
		return nil // No secret configured, allow request
	}

	secret := r.Header.Get("X-Zabbix-Secret")
	if secret != instance.WebhookSecret {
		return fmt.Errorf("invalid webhook secret")
	}

	return nil
}

// ParsePayload parses Zabbix webhook payload into normalized alerts
func (a *ZabbixAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload ZabbixPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse zabbix payload: %w", err)
	}

	n := a.parseAlert(payload)
	return []alerts.NormalizedAlert{n}, nil
}

func (a *ZabbixAdapter) parseAlert(payload ZabbixPayload) alerts.NormalizedAlert {
	rawPayload := map[string]interface{}{
		"event_time":         payload.EventTime,
		"alert_name":         payload.AlertName,
		"severity":           payload.Severity,
		"priority":           payload.Priority,
		"service":            payload.Service,
		"metric_name":        payload.MetricName,
		"metric_value":       payload.MetricValue,
		"trigger_expression": payload.TriggerExpression,
		"event_id":           payload.EventID,
		"hardware":           payload.Hardware,
		"event_status":       payload.EventStatus,
	}

	// Map Zabbix priority (1-5) to severity, falling back to the severity word
	severity := a.mapPriorityToSeverity(payload.Priority)
	if payload.Priority == "" && payload.Severity != "" {
		severity = alerts.NormalizeSeverity(payload.Severity, alerts.DefaultSeverityMapping)
	}

	// Determine status
	status := alerts.StatusFiring
	if payload.EventStatus == "RESOLVED" || payload.EventStatus == "OK" {
		status = alerts.StatusResolved
	}

	// Parse event time
	var observedAt *time.Time
	if payload.EventTime != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", payload.EventTime); err == nil {
			observedAt = &t
		} else if t, err := time.Parse(time.RFC3339, payload.EventTime); err == nil {
			observedAt = &t
		}
	}

	// Zabbix alerts are host-centric; correlate per host when no service is set
	service := payload.Service
	if service == "" {
		service = payload.Hardware
	}

	message := payload.AlertName
	if payload.MetricName != "" {
		message = fmt.Sprintf("%s (%s = %s)", payload.AlertName, payload.MetricName, payload.MetricValue)
	}
	if message == "" {
		message = payload.TriggerExpression
	}

	labels := map[string]string{
		"hardware": payload.Hardware,
	}
	if payload.TriggerExpression != "" {
		labels["trigger_expression"] = payload.TriggerExpression
	}
	if payload.MetricName != "" {
		labels["metric_name"] = payload.MetricName
		labels["metric_value"] = payload.MetricValue
	}

	return alerts.NormalizedAlert{
		Service:           service,
		Severity:          severity,
		Status:            status,
		Message:           message,
		Labels:            labels,
		ObservedAt:        observedAt,
		SourceAlertID:     payload.EventID,
		SourceFingerprint: payload.EventID,
		RawPayload:        rawPayload,
	}
}

// mapPriorityToSeverity maps Zabbix priority (1-5) to normalized severity
func (a *ZabbixAdapter) mapPriorityToSeverity(priority string) database.AlertSeverity {
	switch priority {
	case "5": // Disaster
		return database.AlertSeverityCritical
	case "4": // High
		return database.AlertSeverityHigh
	case "3": // Average
		return database.AlertSeverityMedium
	case "2", "1": // Warning, Information
		return database.AlertSeverityLow
	default:
		return database.AlertSeverityMedium
	}
}

// DefaultMappings returns the default field mappings for Zabbix
func (a *ZabbixAdapter) DefaultMappings() database.JSONB {
	return database.JSONB{
		"service":         "service",
		"severity":        "priority",
		"status":          "event_status",
		"message":         "alert_name",
		"source_alert_id": "event_id",
		"observed_at":     "event_time",
	}
}
