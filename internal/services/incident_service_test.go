package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// A second pool connection would see a fresh empty in-memory database,
	// so all access goes through one connection.
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

type capturedEvent struct {
	name     string
	incident database.Incident
}

type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *fakePublisher) Publish(event string, incident *database.Incident) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{name: event, incident: *incident})
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.name
	}
	return out
}

func createTestIncident(t *testing.T, svc *IncidentService, service string, severity database.AlertSeverity) *database.Incident {
	incident := &database.Incident{
		Title:    service + " is failing",
		Service:  service,
		Severity: severity,
	}
	if err := svc.Create(incident); err != nil {
		t.Fatalf("unexpected error creating incident: %v", err)
	}
	return incident
}

func TestIncidentService_Create(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	if !strings.HasPrefix(incident.IncidentID, "inc-") {
		t.Errorf("expected incident id with inc- prefix, got %q", incident.IncidentID)
	}
	if incident.Status != database.IncidentStatusOpen {
		t.Errorf("expected status open, got %s", incident.Status)
	}
	if incident.AcknowledgedAt != nil || incident.ResolvedAt != nil {
		t.Error("expected nil timestamps on a new incident")
	}

	events, err := svc.GetTimeline(incident.IncidentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(events))
	}
	if events[0].EventType != database.IncidentEventCreated {
		t.Errorf("expected created event, got %s", events[0].EventType)
	}
}

func TestIncidentService_Create_TruncatesLongTitle(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	incident := &database.Incident{
		Title:    strings.Repeat("x", 600),
		Service:  "storage",
		Severity: database.AlertSeverityHigh,
	}
	if err := svc.Create(incident); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incident.Title) > 500 {
		t.Errorf("expected title capped at 500 chars, got %d", len(incident.Title))
	}
	if !strings.HasSuffix(incident.Title, "...") {
		t.Errorf("expected truncated title to end with ellipsis, got %q", incident.Title[len(incident.Title)-10:])
	}
}

func TestIncidentService_Transition_Acknowledge(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	updated, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.Status != database.IncidentStatusAcknowledged {
		t.Errorf("expected status acknowledged, got %s", updated.Status)
	}
	if updated.AcknowledgedAt == nil {
		t.Fatal("expected acknowledged_at to be set")
	}
	if updated.ResolvedAt != nil {
		t.Error("expected resolved_at to stay nil")
	}
	mtta := updated.MTTASeconds()
	if mtta == nil {
		t.Fatal("expected mtta to be defined after acknowledge")
	}
	if *mtta < 0 {
		t.Errorf("expected non-negative mtta, got %f", *mtta)
	}
	if updated.MTTRSeconds() != nil {
		t.Error("expected mttr to stay undefined until resolve")
	}
}

func TestIncidentService_Transition_Resolve(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, ""); err != nil {
		t.Fatalf("unexpected error acknowledging: %v", err)
	}
	updated, err := svc.Transition(incident.IncidentID, database.IncidentStatusResolved, "")
	if err != nil {
		t.Fatalf("unexpected error resolving: %v", err)
	}

	if updated.Status != database.IncidentStatusResolved {
		t.Errorf("expected status resolved, got %s", updated.Status)
	}
	if updated.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}
	mtta, mttr := updated.MTTASeconds(), updated.MTTRSeconds()
	if mtta == nil || mttr == nil {
		t.Fatal("expected both mtta and mttr after resolve")
	}
	if *mttr < *mtta {
		t.Errorf("expected mttr >= mtta, got mttr=%f mtta=%f", *mttr, *mtta)
	}

	events, _ := svc.GetTimeline(incident.IncidentID)
	if len(events) != 3 {
		t.Fatalf("expected 3 timeline events (created, acknowledged, resolved), got %d", len(events))
	}
}

func TestIncidentService_Transition_ResolveWithoutAcknowledge(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	updated, err := svc.Transition(incident.IncidentID, database.IncidentStatusResolved, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updated.AcknowledgedAt == nil || updated.ResolvedAt == nil {
		t.Fatal("expected both timestamps set when resolving an unacknowledged incident")
	}
	if !updated.AcknowledgedAt.Equal(*updated.ResolvedAt) {
		t.Errorf("expected acknowledged_at == resolved_at, got %v and %v", updated.AcknowledgedAt, updated.ResolvedAt)
	}
}

func TestIncidentService_Transition_SameStatusIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	first, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, "")
	if err != nil {
		t.Fatalf("expected no-op for same status, got error: %v", err)
	}

	if !first.AcknowledgedAt.Equal(*second.AcknowledgedAt) {
		t.Error("expected acknowledged_at to be set exactly once")
	}

	events, _ := svc.GetTimeline(incident.IncidentID)
	if len(events) != 2 {
		t.Errorf("expected no extra timeline event for the no-op, got %d events", len(events))
	}
}

func TestIncidentService_Transition_BackwardRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusResolved, ""); err != nil {
		t.Fatalf("unexpected error resolving: %v", err)
	}

	_, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for resolved -> acknowledged, got %v", err)
	}

	_, err = svc.Transition(incident.IncidentID, database.IncidentStatusOpen, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for resolved -> open, got %v", err)
	}
}

func TestIncidentService_Transition_UnknownIncident(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	_, err := svc.Transition("inc-doesnotexist", database.IncidentStatusAcknowledged, "")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected gorm.ErrRecordNotFound, got %v", err)
	}
}

func TestIncidentService_Transition_DeactivatesTimers(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	db.Create(&database.EscalationTimer{
		IncidentID:    incident.IncidentID,
		Team:          "payment-api",
		CurrentLevel:  1,
		AssignedTo:    "alice@example.com",
		EscalateAfter: time.Now().Add(5 * time.Minute),
		IsActive:      true,
	})

	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var active int64
	db.Model(&database.EscalationTimer{}).Where("incident_id = ? AND is_active = ?", incident.IncidentID, true).Count(&active)
	if active != 0 {
		t.Errorf("expected active timers deactivated on acknowledge, found %d", active)
	}
}

func TestIncidentService_Transition_ConcurrentAcknowledge(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, "")
		}()
	}
	wg.Wait()

	var events []database.IncidentEvent
	db.Where("incident_id = ? AND event_type = ?", incident.IncidentID, database.IncidentEventAcknowledged).Find(&events)
	if len(events) != 1 {
		t.Errorf("expected exactly one acknowledged event under concurrent transitions, got %d", len(events))
	}
}

func TestIncidentService_Reassign(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	updated, err := svc.Reassign(incident.IncidentID, "bob@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AssignedTo == nil || *updated.AssignedTo != "bob@example.com" {
		t.Errorf("expected assignee bob@example.com, got %v", updated.AssignedTo)
	}
	if updated.Status != database.IncidentStatusOpen {
		t.Errorf("expected reassign to leave status untouched, got %s", updated.Status)
	}

	events, _ := svc.GetTimeline(incident.IncidentID)
	if len(events) != 2 || events[1].EventType != database.IncidentEventReassigned {
		t.Errorf("expected a reassigned timeline event")
	}
}

func TestIncidentService_AddNote(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	updated, err := svc.AddNote(incident.IncidentID, "restarted the pods")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(updated.Notes))
	}
	if !strings.HasSuffix(updated.Notes[0], "restarted the pods") {
		t.Errorf("expected note text preserved, got %q", updated.Notes[0])
	}
	if !strings.HasPrefix(updated.Notes[0], "[") {
		t.Errorf("expected note prefixed with a timestamp, got %q", updated.Notes[0])
	}

	updated, err = svc.AddNote(incident.IncidentID, "root cause: bad deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updated.Notes) != 2 {
		t.Fatalf("expected notes to append, got %d entries", len(updated.Notes))
	}
	if !strings.HasSuffix(updated.Notes[0], "restarted the pods") {
		t.Error("expected earlier note to survive the append")
	}
}

func TestIncidentService_FindCorrelationCandidate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	now := time.Now().UTC()

	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)

	found, err := svc.FindCorrelationCandidate("payment-api", database.AlertSeverityCritical, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.IncidentID != incident.IncidentID {
		t.Errorf("expected candidate %s, got %s", incident.IncidentID, found.IncidentID)
	}

	// Different severity does not correlate.
	if _, err := svc.FindCorrelationCandidate("payment-api", database.AlertSeverityLow, 5*time.Minute, now); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected no candidate for different severity, got %v", err)
	}

	// Different service does not correlate.
	if _, err := svc.FindCorrelationCandidate("checkout", database.AlertSeverityCritical, 5*time.Minute, now); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected no candidate for different service, got %v", err)
	}
}

func TestIncidentService_FindCorrelationCandidate_WindowExpired(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	now := time.Now().UTC()

	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	db.Model(&database.Incident{}).Where("incident_id = ?", incident.IncidentID).
		Update("created_at", now.Add(-10*time.Minute))

	_, err := svc.FindCorrelationCandidate("payment-api", database.AlertSeverityCritical, 5*time.Minute, now)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected no candidate outside the window, got %v", err)
	}
}

func TestIncidentService_FindCorrelationCandidate_ResolvedExcluded(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	now := time.Now().UTC()

	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusResolved, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.FindCorrelationCandidate("payment-api", database.AlertSeverityCritical, 5*time.Minute, now)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected resolved incidents excluded from correlation, got %v", err)
	}
}

func TestIncidentService_FindCorrelationCandidate_MostRecentWins(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	now := time.Now().UTC()

	older := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	db.Model(&database.Incident{}).Where("incident_id = ?", older.IncidentID).
		Update("created_at", now.Add(-3*time.Minute))
	newer := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	db.Model(&database.Incident{}).Where("incident_id = ?", newer.IncidentID).
		Update("created_at", now.Add(-1*time.Minute))

	found, err := svc.FindCorrelationCandidate("payment-api", database.AlertSeverityCritical, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.IncidentID != newer.IncidentID {
		t.Errorf("expected the most recent candidate %s, got %s", newer.IncidentID, found.IncidentID)
	}
}

func TestIncidentService_ListIncidents_Filters(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	createTestIncident(t, svc, "payment-api", database.AlertSeverityLow)
	checkout := createTestIncident(t, svc, "checkout", database.AlertSeverityCritical)
	if _, err := svc.Transition(checkout.IncidentID, database.IncidentStatusResolved, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	incidents, total, err := svc.ListIncidents(IncidentFilter{Service: "payment-api"}, 0, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(incidents) != 2 {
		t.Errorf("expected 2 payment-api incidents, got %d (total %d)", len(incidents), total)
	}

	incidents, total, err = svc.ListIncidents(IncidentFilter{Status: "resolved"}, 0, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(incidents) != 1 {
		t.Errorf("expected 1 resolved incident, got %d (total %d)", len(incidents), total)
	}

	incidents, total, err = svc.ListIncidents(IncidentFilter{Severity: "critical"}, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2 critical incidents, got %d", total)
	}
	if len(incidents) != 1 {
		t.Errorf("expected page limited to 1 incident, got %d", len(incidents))
	}
}

func TestIncidentService_Aggregate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	acked := createTestIncident(t, svc, "payment-api", database.AlertSeverityHigh)
	resolved := createTestIncident(t, svc, "search", database.AlertSeverityLow)

	// Age the two handled incidents so their response times are nonzero.
	past := time.Now().UTC().Add(-2 * time.Minute)
	db.Model(&database.Incident{}).Where("incident_id = ?", acked.IncidentID).Update("created_at", past)
	db.Model(&database.Incident{}).Where("incident_id = ?", resolved.IncidentID).Update("created_at", past)

	if _, err := svc.Transition(acked.IncidentID, database.IncidentStatusAcknowledged, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Transition(resolved.IncidentID, database.IncidentStatusResolved, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rollup, err := svc.Aggregate(IncidentFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rollup.Total != 3 {
		t.Errorf("expected total 3, got %d", rollup.Total)
	}
	if rollup.OpenCount != 1 || rollup.AcknowledgedCount != 1 || rollup.ResolvedCount != 1 {
		t.Errorf("unexpected status counts: open=%d acked=%d resolved=%d",
			rollup.OpenCount, rollup.AcknowledgedCount, rollup.ResolvedCount)
	}
	if rollup.AvgMTTASeconds == nil || *rollup.AvgMTTASeconds < 100 {
		t.Errorf("expected MTTA around 120s across 2 samples, got %v", rollup.AvgMTTASeconds)
	}
	if rollup.AvgMTTRSeconds == nil || *rollup.AvgMTTRSeconds < 100 {
		t.Errorf("expected MTTR around 120s for the resolved incident, got %v", rollup.AvgMTTRSeconds)
	}
	if *rollup.MinMTTASeconds > *rollup.AvgMTTASeconds || *rollup.AvgMTTASeconds > *rollup.MaxMTTASeconds {
		t.Error("expected min <= avg <= max for MTTA")
	}
	if rollup.BySeverity["critical"] != 1 || rollup.BySeverity["high"] != 1 || rollup.BySeverity["low"] != 1 {
		t.Errorf("unexpected severity breakdown: %v", rollup.BySeverity)
	}
	if rollup.ByService["payment-api"] != 2 || rollup.ByService["search"] != 1 {
		t.Errorf("unexpected service breakdown: %v", rollup.ByService)
	}

	scoped, err := svc.Aggregate(IncidentFilter{Service: "payment-api"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scoped.Total != 2 || scoped.ResolvedCount != 0 {
		t.Errorf("expected the filter applied, got total=%d resolved=%d", scoped.Total, scoped.ResolvedCount)
	}
}

func TestIncidentService_AggregateEmpty(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)

	rollup, err := svc.Aggregate(IncidentFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rollup.Total != 0 {
		t.Errorf("expected an empty rollup, got total %d", rollup.Total)
	}
	if rollup.AvgMTTASeconds != nil || rollup.AvgMTTRSeconds != nil {
		t.Error("expected nil aggregates with no samples")
	}
	if len(rollup.BySeverity) != 0 || len(rollup.ByService) != 0 {
		t.Error("expected empty breakdowns")
	}
}

func TestIncidentService_PublishesLifecycleEvents(t *testing.T) {
	db := setupTestDB(t)
	svc := NewIncidentService(db)
	pub := &fakePublisher{}
	svc.SetEventPublisher(pub)

	incident := createTestIncident(t, svc, "payment-api", database.AlertSeverityCritical)
	if _, err := svc.Reassign(incident.IncidentID, "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusAcknowledged, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Transition(incident.IncidentID, database.IncidentStatusResolved, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{EventIncidentCreated, EventIncidentUpdated, EventIncidentAcknowledged, EventIncidentResolved}
	got := pub.names()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected events %v, got %v", want, got)
	}
}
