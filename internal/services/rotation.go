package services

import (
	"time"

	"github.com/vigilhq/vigil/internal/database"
)

// ResolveRotation maps a rotation definition and a point in time to responder
// indices. Returns the primary index and the secondary index; the secondary
// is -1 when the rotation has a single responder, so escalation has no
// target. Pure function over its inputs: no stored "current index", safe to
// call concurrently.
func ResolveRotation(rotationType database.RotationType, startDate time.Time, responderCount int, asOf time.Time) (int, int) {
	if responderCount < 1 {
		return -1, -1
	}

	days := daysSince(startDate, asOf)

	var index int
	switch rotationType {
	case database.RotationDaily:
		index = days % responderCount
	default:
		// Weekly is the schedule default; unknown values resolve the same way.
		index = (days / 7) % responderCount
	}

	if responderCount == 1 {
		return index, -1
	}
	return index, (index + 1) % responderCount
}

// OnCallFor resolves who is on call for a schedule at asOf. The secondary is
// nil when the rotation has a single responder.
func OnCallFor(schedule *database.Schedule, asOf time.Time) (*database.Responder, *database.Responder) {
	n := len(schedule.Responders)
	if n == 0 {
		return nil, nil
	}

	primaryIdx, secondaryIdx := ResolveRotation(schedule.RotationType, schedule.StartDate, n, asOf)

	primary := schedule.Responders[primaryIdx]
	if secondaryIdx < 0 {
		return &primary, nil
	}
	secondary := schedule.Responders[secondaryIdx]
	return &primary, &secondary
}

// daysSince returns whole days elapsed from startDate to asOf, clamped to
// zero when asOf is before the rotation anchor.
func daysSince(startDate, asOf time.Time) int {
	elapsed := asOf.Sub(startDate)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}
