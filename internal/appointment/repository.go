package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// ConflictGuard is handed to the write primitives. The repository re-reads the
// provider's active bookings inside the committing transaction and rejects the
// write with ErrSchedulingConflict when Check reports an overlap.
type ConflictGuard struct {
	ProviderID uuid.UUID
	Candidate  Interval
	ExcludeID  uuid.UUID
	Check      ConflictChecker
}

// Conflicts runs the guard's checker (HasConflict when unset) over existing.
func (g *ConflictGuard) Conflicts(existing []Booking) bool {
	check := g.Check
	if check == nil {
		check = HasConflict
	}
	return check(existing, g.Candidate, g.ExcludeID)
}

// For retargets the guard at next, the row as it is about to be written.
// Update guards are built before the row is locked, so the provider and
// interval must be taken from the locked row.
func (g *ConflictGuard) For(next *Appointment) *ConflictGuard {
	if g == nil {
		return nil
	}
	out := *g
	out.ProviderID = next.ProviderID
	out.Candidate = next.Interval()
	out.ExcludeID = next.ID
	return &out
}

// LookupWindow widens the candidate so that any booking able to overlap it
// (up to MaxDuration long) starts inside the window.
func (g *ConflictGuard) LookupWindow() Interval {
	return Interval{
		Start: g.Candidate.Start.Add(-MaxDuration * time.Minute),
		End:   g.Candidate.End,
	}
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Reference checks
	EntityExists(ctx context.Context, kind EntityKind, id uuid.UUID) (bool, error)

	// For conflict checks: active bookings of provider whose start falls in
	// window. Bookings that start before window.Start are not returned, so
	// callers pass ConflictGuard.LookupWindow (or widen by MaxDuration
	// themselves) to see long bookings that began earlier.
	FindActiveAppointments(ctx context.Context, providerID uuid.UUID, window Interval) ([]Booking, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error)

	// Writes are all-or-nothing. A non-nil guard is evaluated in the same
	// transaction. Update and delete fail with ErrIllegalTransition when the
	// stored status no longer equals expected.
	CreateAppointment(ctx context.Context, a *Appointment, guard *ConflictGuard) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, expected AppointmentStatus, u Update, guard *ConflictGuard) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, expected AppointmentStatus) error

	// No-show worker
	FindStaleActive(ctx context.Context, endedBefore time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
