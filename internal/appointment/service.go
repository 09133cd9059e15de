package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/care-scheduling/internal/config"
	"github.com/hackgods/care-scheduling/internal/metrics"
	redisclient "github.com/hackgods/care-scheduling/internal/redis"
)

const (
	EventAppointmentCreated = "APPOINTMENT_CREATED"
	EventAppointmentUpdated = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted = "APPOINTMENT_DELETED"
	EventAppointmentNoShow  = "APPOINTMENT_NO_SHOW"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var tracer = otel.Tracer("care-scheduling/appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.SchedulingMetrics
	checker ConflictChecker
	now     func() time.Time
}

type Option func(*Service)

// WithConflictChecker replaces HasConflict, e.g. to observe calls.
func WithConflictChecker(c ConflictChecker) Option {
	return func(s *Service) { s.checker = c }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the service. A nil locker skips the Redis fast path; the
// repository guard still serialises writes per provider, so this suits
// callers that never book, such as the no-show sweep.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if locker == nil {
		locker = unlocked{}
	}
	s := &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		log:     log,
		checker: HasConflict,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateBooking decides whether c could be booked right now. It returns nil,
// ErrInvalidDuration, ErrInvalidType, a *ReferenceError or
// ErrSchedulingConflict; anything else is an infrastructure failure.
func (s *Service) ValidateBooking(ctx context.Context, c Candidate) error {
	c = c.withDefaults()
	if err := s.validateCandidate(ctx, c); err != nil {
		return err
	}
	return s.checkConflict(ctx, s.guardFor(c.ProviderID, c.Interval(), uuid.Nil))
}

// BookAppointment validates c and persists it in status scheduled. The
// conflict check and the insert run under the provider lock, and the
// repository re-checks inside its transaction.
func (s *Service) BookAppointment(ctx context.Context, c Candidate) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book", trace.WithAttributes(
		attribute.String("provider_id", c.ProviderID.String()),
		attribute.String("patient_id", c.PatientID.String()),
	))
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveOperation("create", resultLabel(err))
	}()

	c = c.withDefaults()
	if err := s.validateCandidate(ctx, c); err != nil {
		return nil, err
	}

	guard := s.guardFor(c.ProviderID, c.Interval(), uuid.Nil)

	var created *Appointment
	err = s.withProviderLock(ctx, c.ProviderID, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, guard); err != nil {
			return err
		}

		record := &Appointment{
			PatientID:     c.PatientID,
			ProviderID:    c.ProviderID,
			FacilityID:    c.FacilityID,
			ScheduledDate: c.ScheduledDate,
			Duration:      c.Duration,
			Type:          c.Type,
			Status:        StatusScheduled,
			Notes:         c.Notes,
			Symptoms:      c.Symptoms,
		}
		appt, err := s.repo.CreateAppointment(lockCtx, record, guard)
		if err != nil {
			if errors.Is(err, ErrSchedulingConflict) || errors.Is(err, ErrInvalidReference) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"provider_id":    created.ProviderID.String(),
		"patient_id":     created.PatientID.String(),
		"scheduled_date": created.ScheduledDate,
		"duration":       created.Duration,
	})

	return created, nil
}

// UpdateAppointment applies u to the appointment id. Changes to the time,
// duration or provider of a non-cancelled appointment are re-validated against
// the provider's other active bookings; other changes are written directly.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, u Update) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.update", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveOperation("update", resultLabel(err))
	}()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrapLoad(err)
	}

	if err := s.validateUpdate(ctx, current, u); err != nil {
		return nil, err
	}

	var updated *Appointment
	if !NeedsRevalidation(current.Status, u) {
		updated, err = s.repo.UpdateAppointment(ctx, id, current.Status, u, nil)
		if err != nil {
			return nil, wrapWrite("update appointment", err)
		}
	} else {
		updated, err = s.reschedule(ctx, current, u)
		if err != nil {
			return nil, err
		}
	}

	s.logEvent(ctx, id, EventAppointmentUpdated, map[string]any{
		"previous_status": current.Status,
		"status":          updated.Status,
		"revalidated":     NeedsRevalidation(current.Status, u),
	})

	return updated, nil
}

// maxRescheduleAttempts bounds how often reschedule follows an appointment
// that another writer moved to a different provider.
const maxRescheduleAttempts = 3

// reschedule writes u under the lock of the provider the appointment ends up
// with. The row is re-read inside the lock so the conflict check runs against
// the interval that is actually committed, not the one read before locking.
func (s *Service) reschedule(ctx context.Context, current *Appointment, u Update) (*Appointment, error) {
	provider := u.Apply(*current).ProviderID

	for attempt := 0; attempt < maxRescheduleAttempts; attempt++ {
		var updated *Appointment
		moved := false

		err := s.withProviderLock(ctx, provider, func(lockCtx context.Context) error {
			fresh, err := s.repo.GetAppointmentByID(lockCtx, current.ID)
			if err != nil {
				return wrapLoad(err)
			}
			if fresh.Status != current.Status {
				return fmt.Errorf("%w: status changed to %s", ErrIllegalTransition, fresh.Status)
			}

			next := u.Apply(*fresh)
			if next.ProviderID != provider {
				provider = next.ProviderID
				moved = true
				return nil
			}

			guard := s.guardFor(next.ProviderID, next.Interval(), next.ID)
			if err := s.checkConflict(lockCtx, guard); err != nil {
				return err
			}
			appt, err := s.repo.UpdateAppointment(lockCtx, current.ID, current.Status, u, guard)
			if err != nil {
				return wrapWrite("update appointment", err)
			}
			updated = appt
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !moved {
			return updated, nil
		}
	}
	return nil, ErrProviderBusy
}

// DeleteAppointment removes a scheduled appointment. Any other status yields
// ErrIllegalTransition.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "appointment.delete", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveOperation("delete", resultLabel(err))
	}()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return wrapLoad(err)
	}
	if !CanDelete(current.Status) {
		return fmt.Errorf("%w: cannot delete %s appointment", ErrIllegalTransition, current.Status)
	}

	if err := s.repo.DeleteAppointment(ctx, id, StatusScheduled); err != nil {
		return wrapWrite("delete appointment", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"provider_id": current.ProviderID.String(),
	})
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, wrapLoad(err)
	}
	return appt, nil
}

// ListAppointments returns one page of appointments matching f and the total
// number of matches.
func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appointments, total, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, total, nil
}

// CheckAvailability lists the free slotMinutes-long slots of providerID within
// the working window of day.
func (s *Service) CheckAvailability(ctx context.Context, providerID uuid.UUID, day time.Time, slotMinutes int) (slots []Interval, err error) {
	ctx, span := tracer.Start(ctx, "appointment.availability", trace.WithAttributes(
		attribute.String("provider_id", providerID.String()),
		attribute.Int("slot_minutes", slotMinutes),
	))
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveAvailability(resultLabel(err), len(slots))
	}()

	if err := validateDuration(slotMinutes); err != nil {
		return nil, err
	}
	if err := s.requireEntity(ctx, EntityProvider, providerID); err != nil {
		return nil, err
	}

	window := WorkingWindow(day)
	lookup := Interval{Start: window.Start.Add(-MaxDuration * time.Minute), End: window.End}
	booked, err := s.repo.FindActiveAppointments(ctx, providerID, lookup)
	if err != nil {
		return nil, fmt.Errorf("load provider bookings: %w", err)
	}

	slots = []Interval{}
	for slot := range slotsWith(s.checker, day, slotMinutes, booked) {
		slots = append(slots, slot)
	}
	return slots, nil
}

// MarkNoShows moves active appointments that ended more than the configured
// grace period ago to no-show and reports how many were moved.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)
	stale, err := s.repo.FindStaleActive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale appointments: %w", err)
	}

	noShow := StatusNoShow
	marked := 0
	for _, appt := range stale {
		if !CanTransition(appt.Status, noShow) {
			continue
		}
		_, err := s.repo.UpdateAppointment(ctx, appt.ID, appt.Status, Update{Status: &noShow}, nil)
		if err != nil {
			if errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrAppointmentNotFound) {
				// changed or removed since it was read
				continue
			}
			s.log.Error("failed to mark appointment as no-show",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{
			"previous_status": appt.Status,
			"ended_at":        appt.EndsAt(),
		})
	}

	s.metrics.ObserveNoShows(marked)
	return marked, nil
}

// Helpers

type unlocked struct{}

func (unlocked) WithProviderLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (c Candidate) withDefaults() Candidate {
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Type == "" {
		c.Type = TypeConsultation
	}
	return c
}

func (s *Service) validateCandidate(ctx context.Context, c Candidate) error {
	if err := validateDuration(c.Duration); err != nil {
		return err
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}

	// All three references are looked up concurrently; the first missing one wins.
	g, gctx := errgroup.WithContext(ctx)
	for kind, id := range map[EntityKind]uuid.UUID{
		EntityPatient:  c.PatientID,
		EntityProvider: c.ProviderID,
		EntityFacility: c.FacilityID,
	} {
		g.Go(func() error {
			return s.requireEntity(gctx, kind, id)
		})
	}
	return g.Wait()
}

func (s *Service) validateUpdate(ctx context.Context, current *Appointment, u Update) error {
	if u.Duration != nil {
		if err := validateDuration(*u.Duration); err != nil {
			return err
		}
	}
	if u.Type != nil && !u.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, *u.Type)
	}
	if u.Status != nil {
		if !u.Status.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
		}
		if !CanTransition(current.Status, *u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, *u.Status)
		}
	}

	refs := []struct {
		kind EntityKind
		id   *uuid.UUID
	}{
		{EntityPatient, u.PatientID},
		{EntityProvider, u.ProviderID},
		{EntityFacility, u.FacilityID},
	}
	for _, ref := range refs {
		if ref.id == nil {
			continue
		}
		if err := s.requireEntity(ctx, ref.kind, *ref.id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) requireEntity(ctx context.Context, kind EntityKind, id uuid.UUID) error {
	ok, err := s.repo.EntityExists(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", kind, err)
	}
	if !ok {
		return &ReferenceError{Kind: kind, ID: id}
	}
	return nil
}

func (s *Service) guardFor(providerID uuid.UUID, candidate Interval, excludeID uuid.UUID) *ConflictGuard {
	return &ConflictGuard{
		ProviderID: providerID,
		Candidate:  candidate,
		ExcludeID:  excludeID,
		Check:      s.checker,
	}
}

func (s *Service) checkConflict(ctx context.Context, guard *ConflictGuard) error {
	existing, err := s.repo.FindActiveAppointments(ctx, guard.ProviderID, guard.LookupWindow())
	if err != nil {
		return fmt.Errorf("load provider bookings: %w", err)
	}
	if guard.Conflicts(existing) {
		return ErrSchedulingConflict
	}
	return nil
}

func (s *Service) withProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithProviderLock(ctx, providerID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrProviderBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}

func wrapLoad(err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return err
	}
	return fmt.Errorf("load appointment: %w", err)
}

func wrapWrite(op string, err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrSchedulingConflict),
		errors.Is(err, ErrInvalidReference):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrInvalidDuration):
		return "invalid_duration"
	case errors.Is(err, ErrInvalidType), errors.Is(err, ErrInvalidStatus):
		return "invalid_input"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderBusy):
		return "busy"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
	}
	span.End()
}
