package alerts

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilhq/vigil/internal/database"
)

// AlertStatus is the lifecycle state reported by the source. Resolved
// notifications are parsed but never ingested; only firing alerts reach the
// correlator.
type AlertStatus string

const (
	StatusFiring   AlertStatus = "firing"
	StatusResolved AlertStatus = "resolved"
)

// NormalizedAlert is the common format all source adapters produce. Service
// and Severity form the correlation key; Message becomes the alert body.
type NormalizedAlert struct {
	Service  string
	Severity database.AlertSeverity
	Status   AlertStatus
	Message  string

	Labels map[string]string

	// ObservedAt is the source-reported event time, nil when the payload
	// carries none.
	ObservedAt *time.Time

	SourceAlertID     string
	SourceFingerprint string
	RawPayload        map[string]interface{}
}

// SourceAdapter defines the interface for source-specific alert parsing
type SourceAdapter interface {
	// SourceType returns the source type name (e.g., "alertmanager")
	SourceType() string

	// ValidateWebhookSecret validates the incoming webhook using the instance's secret
	ValidateWebhookSecret(r *http.Request, instance *database.AlertSourceInstance) error

	// ParsePayload parses the raw request body into normalized alerts.
	// A single webhook can carry multiple alerts (e.g., Alertmanager groups).
	ParsePayload(body []byte, instance *database.AlertSourceInstance) ([]NormalizedAlert, error)

	// DefaultMappings returns the default field mappings for this source type
	DefaultMappings() database.JSONB
}

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	Source string
}

// SourceType returns the source type name
func (b *BaseAdapter) SourceType() string {
	return b.Source
}

// ExtractNestedValue extracts a value using dot notation (e.g.,
// "labels.alertname" or "event_links.0.url" for array elements)
func ExtractNestedValue(data map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	current := interface{}(data)

	for _, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case map[string]string:
			current = v[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}

	return current
}

// ExtractString extracts a string value using dot notation
func ExtractString(data map[string]interface{}, path string) string {
	val := ExtractNestedValue(data, path)
	if val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// MergeMappings merges instance-specific mappings over defaults
func MergeMappings(defaults, overrides database.JSONB) database.JSONB {
	result := make(database.JSONB)
	for k, v := range defaults {
		result[k] = v
	}
	if overrides != nil {
		for k, v := range overrides {
			result[k] = v
		}
	}
	return result
}

// NormalizeSeverity normalizes source severity strings to the four standard
// levels, falling back to medium when the value is unknown
func NormalizeSeverity(severity string, severityMapping map[string][]string) database.AlertSeverity {
	severity = strings.ToLower(strings.TrimSpace(severity))

	// Check direct match first
	switch severity {
	case "critical":
		return database.AlertSeverityCritical
	case "high":
		return database.AlertSeverityHigh
	case "medium":
		return database.AlertSeverityMedium
	case "low":
		return database.AlertSeverityLow
	}

	// Check severity mapping
	if severityMapping != nil {
		for normalized, aliases := range severityMapping {
			for _, alias := range aliases {
				if strings.ToLower(alias) == severity {
					switch normalized {
					case "critical":
						return database.AlertSeverityCritical
					case "high":
						return database.AlertSeverityHigh
					case "medium":
						return database.AlertSeverityMedium
					case "low":
						return database.AlertSeverityLow
					}
				}
			}
		}
	}

	// Default to medium if unknown
	return database.AlertSeverityMedium
}

// NormalizeStatus normalizes status strings to standard values
func NormalizeStatus(status string) AlertStatus {
	status = strings.ToLower(status)
	switch status {
	case "firing", "alerting", "triggered", "active", "problem":
		return StatusFiring
	case "resolved", "ok", "recovery", "recovered", "inactive":
		return StatusResolved
	default:
		return StatusFiring
	}
}

// DefaultSeverityMapping provides default mapping for common severity values
var DefaultSeverityMapping = map[string][]string{
	"critical": {"critical", "disaster", "p1", "sev1", "5", "emergency", "fatal"},
	"high":     {"high", "major", "p2", "sev2", "4", "error", "severe"},
	"medium":   {"medium", "warning", "warn", "minor", "p3", "sev3", "3", "average"},
	"low":      {"low", "info", "informational", "p4", "p5", "1", "2", "notice", "debug", "success"},
}
