package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps reports whether the two ranges share any instant. Back-to-back
// ranges (one ends exactly where the other starts) do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

func (i Interval) Minutes() int {
	return int(i.End.Sub(i.Start) / time.Minute)
}

// HasConflict reports whether candidate overlaps any active booking in
// existing, ignoring the booking identified by excludeID (uuid.Nil excludes
// nothing). Callers are expected to pass bookings of a single provider.
func HasConflict(existing []Booking, candidate Interval, excludeID uuid.UUID) bool {
	for _, b := range existing {
		if !b.Status.IsActive() {
			continue
		}
		if excludeID != uuid.Nil && b.ID == excludeID {
			continue
		}
		if b.Interval.Overlaps(candidate) {
			return true
		}
	}
	return false
}

// ConflictChecker matches HasConflict; the service accepts any implementation
// so the call can be observed.
type ConflictChecker func(existing []Booking, candidate Interval, excludeID uuid.UUID) bool
