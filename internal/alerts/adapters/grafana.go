package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vigilhq/vigil/internal/alerts"
	"github.com/vigilhq/vigil/internal/database"
)

// GrafanaAdapter handles Grafana alerting webhooks
type GrafanaAdapter struct {
	alerts.BaseAdapter
}

// NewGrafanaAdapter creates a new Grafana adapter
func NewGrafanaAdapter() *GrafanaAdapter {
	return &GrafanaAdapter{
		BaseAdapter: alerts.BaseAdapter{Source: "grafana"},
	}
}

// GrafanaPayload represents the webhook payload from Grafana.
// Supports both legacy alerting and Grafana Alerting (unified alerting).
type GrafanaPayload struct {
	// Unified Alerting format
	Receiver string         `json:"receiver"`
	Status   string         `json:"status"`
	Alerts   []GrafanaAlert `json:"alerts"`

	// Legacy alerting format
	RuleName    string `json:"ruleName"`
	State       string `json:"state"`
	Message     string `json:"message"`
	RuleURL     string `json:"ruleUrl"`
	RuleID      int    `json:"ruleId"`
	Title       string `json:"title"`
	OrgID       int    `json:"orgId"`
	DashboardID int    `json:"dashboardId"`
	PanelID     int    `json:"panelId"`
	EvalMatches []struct {
		Value  float64           `json:"value"`
		Metric string            `json:"metric"`
		Tags   map[string]string `json:"tags"`
	} `json:"evalMatches"`
}

// GrafanaAlert represents a single alert in unified alerting
type GrafanaAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	Fingerprint  string            `json:"fingerprint"`
	GeneratorURL string            `json:"generatorURL"`
}

// ValidateWebhookSecret validates the Grafana webhook secret header
func (a *GrafanaAdapter) ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error {
	if instance.WebhookSecret == "" {
		return nil // No secret configured, allow request
	}

	// Check custom header
	secret := r.Header.Get("X-Grafana-Secret")
	if secret == "" {
		secret = r.Header.Get("Authorization")
	}

	if secret != instance.WebhookSecret && secret != "Bearer "+instance.WebhookSecret {
		return fmt.Errorf("invalid webhook secret")
	}

	return nil
}

// ParsePayload parses Grafana webhook payload into normalized alerts
func (a *GrafanaAdapter) ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]alerts.NormalizedAlert, error) {
	var payload GrafanaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse grafana payload: %w", err)
	}

	var normalized []alerts.NormalizedAlert

	// Check if this is unified alerting (has alerts array) or legacy
	if len(payload.Alerts) > 0 {
		// Unified Alerting format
		for _, alert := range payload.Alerts {
			n := a.parseUnifiedAlert(alert)
			normalized = append(normalized, n)
		}
	} else {
		// Legacy alerting format
		n := a.parseLegacyAlert(payload)
		normalized = append(normalized, n)
	}

	return normalized, nil
}

func (a *GrafanaAdapter) parseUnifiedAlert(alert GrafanaAlert) alerts.NormalizedAlert {
	service := alert.Labels["service"]
	if service == "" {
		service = alert.Labels["job"]
	}

	message := alert.Annotations["summary"]
	if message == "" {
		message = alert.Annotations["description"]
	}
	if message == "" {
		message = alert.Labels["alertname"]
	}

	var observedAt *time.Time
	if alert.StartsAt != "" {
		if t, err := time.Parse(time.RFC3339, alert.StartsAt); err == nil && !t.IsZero() {
			observedAt = &t
		}
	}

	rawPayload := map[string]interface{}{
		"status":       alert.Status,
		"labels":       alert.Labels,
		"annotations":  alert.Annotations,
		"startsAt":     alert.StartsAt,
		"endsAt":       alert.EndsAt,
		"fingerprint":  alert.Fingerprint,
		"generatorURL": alert.GeneratorURL,
	}

	return alerts.NormalizedAlert{
		Service:           service,
		Severity:          alerts.NormalizeSeverity(alert.Labels["severity"], alerts.DefaultSeverityMapping),
		Status:            alerts.NormalizeStatus(alert.Status),
		Message:           message,
		Labels:            alert.Labels,
		ObservedAt:        observedAt,
		SourceAlertID:     alert.Fingerprint,
		SourceFingerprint: alert.Fingerprint,
		RawPayload:        rawPayload,
	}
}

func (a *GrafanaAdapter) parseLegacyAlert(payload GrafanaPayload) alerts.NormalizedAlert {
	// Legacy states: alerting, ok, no_data, paused, pending
	status := alerts.StatusFiring
	state := strings.ToLower(payload.State)
	if state == "ok" || state == "no_data" || state == "paused" {
		status = alerts.StatusResolved
	}

	severity := a.mapStateToSeverity(payload.State)

	// Extract labels from the first eval match
	labels := make(map[string]string)
	var service string
	if len(payload.EvalMatches) > 0 {
		match := payload.EvalMatches[0]
		for k, v := range match.Tags {
			labels[k] = v
		}
		service = match.Tags["service"]
		if service == "" {
			service = match.Tags["job"]
		}
	}

	message := payload.Message
	if message == "" {
		message = payload.Title
	}

	alertName := payload.RuleName
	if alertName == "" {
		alertName = payload.Title
	}
	if message == "" {
		message = alertName
	}

	rawPayload := map[string]interface{}{
		"ruleName":    payload.RuleName,
		"state":       payload.State,
		"message":     payload.Message,
		"ruleUrl":     payload.RuleURL,
		"ruleId":      payload.RuleID,
		"title":       payload.Title,
		"orgId":       payload.OrgID,
		"dashboardId": payload.DashboardID,
		"panelId":     payload.PanelID,
		"evalMatches": payload.EvalMatches,
	}

	return alerts.NormalizedAlert{
		Service:           service,
		Severity:          severity,
		Status:            status,
		Message:           message,
		Labels:            labels,
		SourceAlertID:     fmt.Sprintf("%d", payload.RuleID),
		SourceFingerprint: fmt.Sprintf("%d-%d-%d", payload.OrgID, payload.DashboardID, payload.RuleID),
		RawPayload:        rawPayload,
	}
}

// mapStateToSeverity maps Grafana legacy state to normalized severity
func (a *GrafanaAdapter) mapStateToSeverity(state string) database.AlertSeverity {
	switch strings.ToLower(state) {
	case "alerting":
		return database.AlertSeverityCritical
	case "pending":
		return database.AlertSeverityMedium
	case "no_data":
		return database.AlertSeverityLow
	case "ok", "paused":
		return database.AlertSeverityLow
	default:
		return database.AlertSeverityMedium
	}
}

// DefaultMappings returns the default field mappings for Grafana
func (a *GrafanaAdapter) DefaultMappings() database.JSONB {
	return database.JSONB{
		"service":         "labels.service",
		"severity":        "labels.severity",
		"status":          "status",
		"message":         "annotations.summary",
		"source_alert_id": "fingerprint",
	}
}
