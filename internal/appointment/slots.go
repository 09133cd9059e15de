package appointment

import (
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	WorkdayStartHour = 9
	WorkdayEndHour   = 17
)

// WorkingWindow returns 09:00-17:00 on the calendar day of day, in day's own
// location.
func WorkingWindow(day time.Time) Interval {
	y, m, d := day.Date()
	loc := day.Location()
	return Interval{
		Start: time.Date(y, m, d, WorkdayStartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, WorkdayEndHour, 0, 0, 0, loc),
	}
}

// Slots yields the free slots of slotMinutes length within the working window
// of day, in ascending order. booked must belong to a single provider.
func Slots(day time.Time, slotMinutes int, booked []Booking) iter.Seq[Interval] {
	return slotsWith(HasConflict, day, slotMinutes, booked)
}

// GenerateSlots collects Slots into a slice. It never returns nil.
func GenerateSlots(day time.Time, slotMinutes int, booked []Booking) []Interval {
	out := slices.Collect(Slots(day, slotMinutes, booked))
	if out == nil {
		out = []Interval{}
	}
	return out
}

func slotsWith(check ConflictChecker, day time.Time, slotMinutes int, booked []Booking) iter.Seq[Interval] {
	window := WorkingWindow(day)
	step := time.Duration(slotMinutes) * time.Minute

	return func(yield func(Interval) bool) {
		if step <= 0 {
			return
		}
		for start := window.Start; !start.Add(step).After(window.End); start = start.Add(step) {
			slot := Interval{Start: start, End: start.Add(step)}
			if check(booked, slot, uuid.Nil) {
				continue
			}
			if !yield(slot) {
				return
			}
		}
	}
}
