package services

import (
	"testing"
	"time"

	"github.com/vigilhq/vigil/internal/database"
)

func testSchedule(rotationType database.RotationType, start time.Time, responders ...database.Responder) *database.Schedule {
	return &database.Schedule{
		Team:              "platform",
		RotationType:      rotationType,
		StartDate:         start,
		Responders:        responders,
		EscalationMinutes: 5,
	}
}

func TestResolveRotation_DailyAdvancesEachDay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		daysLater     int
		wantPrimary   int
		wantSecondary int
	}{
		{0, 0, 1},
		{1, 1, 2},
		{2, 2, 0},
		{3, 0, 1},
		{7, 1, 2},
	}

	for _, tc := range cases {
		asOf := start.AddDate(0, 0, tc.daysLater)
		primary, secondary := ResolveRotation(database.RotationDaily, start, 3, asOf)
		if primary != tc.wantPrimary {
			t.Errorf("day +%d: expected primary index %d, got %d", tc.daysLater, tc.wantPrimary, primary)
		}
		if secondary != tc.wantSecondary {
			t.Errorf("day +%d: expected secondary index %d, got %d", tc.daysLater, tc.wantSecondary, secondary)
		}
	}
}

func TestResolveRotation_WeeklyAdvancesEachWeek(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		daysLater   int
		wantPrimary int
	}{
		{0, 0},
		{6, 0},
		{7, 1},
		{13, 1},
		{14, 2},
		{21, 0},
	}

	for _, tc := range cases {
		asOf := start.AddDate(0, 0, tc.daysLater)
		primary, _ := ResolveRotation(database.RotationWeekly, start, 3, asOf)
		if primary != tc.wantPrimary {
			t.Errorf("day +%d: expected primary index %d, got %d", tc.daysLater, tc.wantPrimary, primary)
		}
	}
}

func TestResolveRotation_BeforeStartClampsToFirst(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, -10)

	primary, secondary := ResolveRotation(database.RotationDaily, start, 3, asOf)
	if primary != 0 {
		t.Errorf("Expected primary index 0 before start date, got %d", primary)
	}
	if secondary != 1 {
		t.Errorf("Expected secondary index 1 before start date, got %d", secondary)
	}
}

func TestResolveRotation_SingleResponderHasNoSecondary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	primary, secondary := ResolveRotation(database.RotationDaily, start, 1, start.AddDate(0, 0, 5))
	if primary != 0 {
		t.Errorf("Expected primary index 0, got %d", primary)
	}
	if secondary != -1 {
		t.Errorf("Expected secondary index -1 for single responder, got %d", secondary)
	}
}

func TestResolveRotation_Deterministic(t *testing.T) {
	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 42)

	p1, s1 := ResolveRotation(database.RotationWeekly, start, 4, asOf)
	p2, s2 := ResolveRotation(database.RotationWeekly, start, 4, asOf)

	if p1 != p2 || s1 != s2 {
		t.Errorf("Expected identical results for identical inputs, got (%d,%d) and (%d,%d)", p1, s1, p2, s2)
	}
}

func TestOnCallFor_WeeklyRotation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := testSchedule(database.RotationWeekly, start,
		database.Responder{Name: "Alice", Email: "alice@example.com"},
		database.Responder{Name: "Bob", Email: "bob@example.com"},
		database.Responder{Name: "Carol", Email: "carol@example.com"},
	)

	// One week after the anchor the rotation advances by one.
	asOf := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	primary, secondary := OnCallFor(schedule, asOf)

	if primary == nil || primary.Name != "Bob" {
		t.Fatalf("Expected primary Bob on 2026-01-08, got %+v", primary)
	}
	if secondary == nil || secondary.Name != "Carol" {
		t.Fatalf("Expected secondary Carol on 2026-01-08, got %+v", secondary)
	}
}

func TestOnCallFor_DailyRotation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := testSchedule(database.RotationDaily, start,
		database.Responder{Name: "Alice", Email: "alice@example.com"},
		database.Responder{Name: "Bob", Email: "bob@example.com"},
		database.Responder{Name: "Carol", Email: "carol@example.com"},
	)

	primary, _ := OnCallFor(schedule, start.AddDate(0, 0, 1))
	if primary == nil || primary.Name != "Bob" {
		t.Fatalf("Expected primary Bob one day after start, got %+v", primary)
	}
}

func TestOnCallFor_SingleResponder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := testSchedule(database.RotationWeekly, start,
		database.Responder{Name: "Alice", Email: "alice@example.com"},
	)

	primary, secondary := OnCallFor(schedule, start.AddDate(0, 0, 30))
	if primary == nil || primary.Name != "Alice" {
		t.Fatalf("Expected primary Alice, got %+v", primary)
	}
	if secondary != nil {
		t.Errorf("Expected nil secondary for single responder, got %+v", secondary)
	}
}

func TestOnCallFor_NoResponders(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := testSchedule(database.RotationWeekly, start)

	primary, secondary := OnCallFor(schedule, start)
	if primary != nil || secondary != nil {
		t.Errorf("Expected nil responders for empty rotation, got %+v / %+v", primary, secondary)
	}
}

func TestOnCallFor_MidDayDoesNotAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	schedule := testSchedule(database.RotationDaily, start,
		database.Responder{Name: "Alice", Email: "alice@example.com"},
		database.Responder{Name: "Bob", Email: "bob@example.com"},
	)

	// 23 hours into the first day is still day zero.
	primary, _ := OnCallFor(schedule, start.Add(23*time.Hour))
	if primary == nil || primary.Name != "Alice" {
		t.Fatalf("Expected primary Alice 23h after start, got %+v", primary)
	}
}
