// Package output renders outbound notification payloads for the delivery
// channels. Formatting lives here so the notification service only decides
// where a message goes, not what it looks like.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/vigilhq/vigil/internal/database"
)

// Notification carries the fields rendered into channel payloads.
type Notification struct {
	Engineer   string
	Message    string
	Severity   database.AlertSeverity
	IncidentID string
}

// FormatEmail renders the full SMTP message, headers included.
func FormatEmail(from, to string, n Notification) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", emailSubject(n))
	sb.WriteString("\r\n")
	sb.WriteString(n.Message)
	if n.IncidentID != "" {
		fmt.Fprintf(&sb, "\r\n\r\nIncident: %s", n.IncidentID)
	}
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// emailSubject builds the subject line from whatever context the send has
func emailSubject(n Notification) string {
	switch {
	case n.IncidentID != "" && n.Severity != "":
		return fmt.Sprintf("[%s] Vigil incident %s", strings.ToUpper(string(n.Severity)), n.IncidentID)
	case n.IncidentID != "":
		return "Vigil incident " + n.IncidentID
	default:
		return "Vigil notification"
	}
}

// WebhookPayload builds the body POSTed to generic webhook receivers.
// Optional fields are omitted rather than sent empty.
func WebhookPayload(n Notification, sentAt time.Time) map[string]interface{} {
	payload := map[string]interface{}{
		"engineer": n.Engineer,
		"message":  n.Message,
		"sent_at":  sentAt.UTC().Format(time.RFC3339),
	}
	if n.IncidentID != "" {
		payload["incident_id"] = n.IncidentID
	}
	if n.Severity != "" {
		payload["severity"] = string(n.Severity)
	}
	return payload
}
