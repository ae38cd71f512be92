package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/smtp"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/vigilhq/vigil/internal/config"
	"github.com/vigilhq/vigil/internal/database"
	"github.com/vigilhq/vigil/internal/output"
	"github.com/vigilhq/vigil/internal/utils"

	"gorm.io/gorm"
)

// SendOptions carries optional delivery parameters
type SendOptions struct {
	IncidentID *string
	Severity   database.AlertSeverity
	// WebhookURL is an extra destination for this send only, in addition to
	// the configured fan-out list.
	WebhookURL string
}

// NotificationService delivers messages to responders over the configured
// channels and records every attempt. Delivery failure is local to one
// responder/channel pair: callers never see an error from Send, so incident
// creation and escalation proceed regardless of channel health.
type NotificationService struct {
	db  *gorm.DB
	cfg *config.Config

	httpClient *http.Client
	// sendMail is swappable so tests never talk to a real SMTP server
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewNotificationService creates a new notification service
func NewNotificationService(db *gorm.DB, cfg *config.Config) *NotificationService {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationService{
		db:         db,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		sendMail:   smtp.SendMail,
		lastSent:   make(map[string]time.Time),
	}
}

// Send delivers a message to one engineer over the requested channel (mock
// when empty). Unconfigured email/slack fall back to the mock channel and
// are recorded as delivered; a webhook send with zero destinations is
// recorded as failed. The returned record is already persisted.
func (s *NotificationService) Send(engineer string, channel database.NotificationChannel, message string, opts *SendOptions) *database.Notification {
	if channel == "" {
		channel = database.ChannelMock
	}

	start := time.Now()
	detail := database.JSONB{}
	status := database.NotificationDelivered
	deliveredVia := channel

	if channel != database.ChannelMock && s.recentlyNotified(engineer) {
		// Cooldown: repeat pages to the same engineer inside the window
		// degrade to the logged channel instead of paging again.
		detail["rate_limited"] = true
		deliveredVia = database.ChannelMock
		s.logDelivery(engineer, message)
	} else {
		switch channel {
		case database.ChannelMock:
			s.logDelivery(engineer, message)

		case database.ChannelEmail:
			if s.cfg.SMTPPassword == "" {
				detail["fallback"] = "smtp_unconfigured"
				deliveredVia = database.ChannelMock
				s.logDelivery(engineer, message)
			} else if err := s.sendEmail(engineer, message, opts); err != nil {
				log.Printf("Notification: email to %s failed: %v", engineer, err)
				detail["error"] = err.Error()
				status = database.NotificationFailed
			}

		case database.ChannelSlack:
			if s.cfg.SlackWebhookURL == "" {
				detail["fallback"] = "slack_unconfigured"
				deliveredVia = database.ChannelMock
				s.logDelivery(engineer, message)
			} else if err := s.sendSlack(engineer, message, opts); err != nil {
				log.Printf("Notification: slack delivery for %s failed: %v", engineer, err)
				detail["error"] = err.Error()
				status = database.NotificationFailed
			}

		case database.ChannelWebhook:
			urls := s.webhookURLs(opts)
			if len(urls) == 0 {
				detail["error"] = "no webhook destinations configured"
				status = database.NotificationFailed
			} else {
				delivered, failed := s.postWebhooks(urls, engineer, message, opts)
				detail["delivered"] = delivered
				detail["failed"] = failed
				if delivered == 0 {
					status = database.NotificationFailed
				}
			}

		default:
			detail["error"] = fmt.Sprintf("unknown channel %q", channel)
			status = database.NotificationFailed
		}
	}

	if deliveredVia != channel {
		detail["delivered_via"] = string(deliveredVia)
	}
	if status == database.NotificationDelivered {
		s.markNotified(engineer)
	}

	notification := &database.Notification{
		Engineer:  engineer,
		Channel:   channel,
		Status:    status,
		Message:   message,
		Detail:    detail,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if opts != nil {
		notification.IncidentID = opts.IncidentID
	}
	if err := s.db.Create(notification).Error; err != nil {
		log.Printf("Notification: failed to record delivery to %s: %v", engineer, err)
	}
	return notification
}

// ListNotifications returns delivery records matching the filter, newest
// first, plus the total match count for pagination.
func (s *NotificationService) ListNotifications(incidentID, channel, status string, offset, limit int) ([]database.Notification, int64, error) {
	query := s.db.Model(&database.Notification{})
	if incidentID != "" {
		query = query.Where("incident_id = ?", incidentID)
	}
	if channel != "" {
		query = query.Where("channel = ?", channel)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var notifications []database.Notification
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&notifications).Error
	return notifications, total, err
}

// GetNotification returns a delivery record by its public id
func (s *NotificationService) GetNotification(notificationID string) (*database.Notification, error) {
	var notification database.Notification
	if err := s.db.Where("notification_id = ?", notificationID).First(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

func (s *NotificationService) logDelivery(engineer, message string) {
	log.Printf("Notification: [mock] to %s: %s", engineer, utils.TruncateText(message, 200))
}

// payloadFor collects the delivery context into the form the formatters take
func payloadFor(engineer, message string, opts *SendOptions) output.Notification {
	n := output.Notification{Engineer: engineer, Message: message}
	if opts != nil {
		n.Severity = opts.Severity
		if opts.IncidentID != nil {
			n.IncidentID = *opts.IncidentID
		}
	}
	return n
}

func (s *NotificationService) sendEmail(engineer, message string, opts *SendOptions) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	body := output.FormatEmail(s.cfg.EmailFrom, engineer, payloadFor(engineer, message, opts))
	return s.sendMail(addr, auth, s.cfg.EmailFrom, []string{engineer}, body)
}

func (s *NotificationService) sendSlack(engineer, message string, opts *SendOptions) error {
	msg := output.FormatSlack(payloadFor(engineer, message, opts))
	return slack.PostWebhookCustomHTTP(s.cfg.SlackWebhookURL, s.httpClient, msg)
}

func (s *NotificationService) webhookURLs(opts *SendOptions) []string {
	urls := append([]string{}, s.cfg.WebhookURLs...)
	if opts != nil && opts.WebhookURL != "" {
		urls = append(urls, opts.WebhookURL)
	}
	return urls
}

// postWebhooks fans the payload out to every destination. Any response below
// 400 counts as delivered for that destination.
func (s *NotificationService) postWebhooks(urls []string, engineer, message string, opts *SendOptions) (delivered, failed int) {
	payload := output.WebhookPayload(payloadFor(engineer, message, opts), time.Now())
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Notification: failed to encode webhook payload: %v", err)
		return 0, len(urls)
	}

	for _, url := range urls {
		resp, err := s.httpClient.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("Notification: webhook %s failed: %v", url, err)
			failed++
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("Notification: webhook %s returned %d", url, resp.StatusCode)
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (s *NotificationService) recentlyNotified(engineer string) bool {
	if s.cfg.NotificationCooldownSeconds <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSent[engineer]
	if !ok {
		return false
	}
	return time.Since(last) < time.Duration(s.cfg.NotificationCooldownSeconds)*time.Second
}

func (s *NotificationService) markNotified(engineer string) {
	s.mu.Lock()
	s.lastSent[engineer] = time.Now()
	s.mu.Unlock()
}
