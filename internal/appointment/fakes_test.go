package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/care-scheduling/internal/redis"
)

// memoryRepository is an in-memory Repository. Writes run under one mutex,
// which plays the role of the serializable transaction.
type memoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	entities     map[EntityKind]map[uuid.UUID]bool
	events       []EventLog

	// beforeWrite runs inside the write critical section, before the guard.
	beforeWrite func(r *memoryRepository)
	findErr     error
	eventErr    error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		entities: map[EntityKind]map[uuid.UUID]bool{
			EntityPatient:  {},
			EntityProvider: {},
			EntityFacility: {},
		},
	}
}

func (r *memoryRepository) addEntity(kind EntityKind) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.entities[kind][id] = true
	return id
}

// seed stores a without any checks and returns it.
func (r *memoryRepository) seed(a Appointment) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seedLocked(a)
}

func (r *memoryRepository) seedLocked(a Appointment) Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Duration == 0 {
		a.Duration = DefaultDuration
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if a.Type == "" {
		a.Type = TypeConsultation
	}
	r.appointments[a.ID] = a
	return a
}

func (r *memoryRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memoryRepository) EntityExists(_ context.Context, kind EntityKind, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entities[kind][id], nil
}

func (r *memoryRepository) FindActiveAppointments(_ context.Context, providerID uuid.UUID, window Interval) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.findActiveLocked(providerID, window), nil
}

func (r *memoryRepository) findActiveLocked(providerID uuid.UUID, window Interval) []Booking {
	var out []Booking
	for _, a := range r.appointments {
		if a.ProviderID != providerID || !a.Status.IsActive() {
			continue
		}
		if a.ScheduledDate.Before(window.Start) || !a.ScheduledDate.Before(window.End) {
			continue
		}
		out = append(out, a.Booking())
	}
	return out
}

func (r *memoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Appointment
	for _, a := range r.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if f.Sort == SortScheduledDesc {
			return matched[i].ScheduledDate.After(matched[j].ScheduledDate)
		}
		return matched[i].ScheduledDate.Before(matched[j].ScheduledDate)
	})

	total := len(matched)
	if f.Offset >= total {
		return []Appointment{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (r *memoryRepository) guardLocked(guard *ConflictGuard) error {
	if guard == nil {
		return nil
	}
	if guard.Conflicts(r.findActiveLocked(guard.ProviderID, guard.LookupWindow())) {
		return ErrSchedulingConflict
	}
	return nil
}

func (r *memoryRepository) runBeforeWrite() {
	if r.beforeWrite != nil {
		r.beforeWrite(r)
	}
}

func (r *memoryRepository) CreateAppointment(_ context.Context, a *Appointment, guard *ConflictGuard) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runBeforeWrite()
	if err := r.guardLocked(guard); err != nil {
		return nil, err
	}

	created := *a
	created.ID = uuid.New()
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	r.appointments[created.ID] = created
	return &created, nil
}

func (r *memoryRepository) UpdateAppointment(_ context.Context, id uuid.UUID, expected AppointmentStatus, u Update, guard *ConflictGuard) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runBeforeWrite()
	current, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if current.Status != expected {
		return nil, ErrIllegalTransition
	}
	next := u.Apply(current)
	if err := r.guardLocked(guard.For(&next)); err != nil {
		return nil, err
	}

	next.UpdatedAt = time.Now()
	r.appointments[id] = next
	return &next, nil
}

func (r *memoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID, expected AppointmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if current.Status != expected {
		return ErrIllegalTransition
	}
	delete(r.appointments, id)
	return nil
}

func (r *memoryRepository) FindStaleActive(_ context.Context, endedBefore time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status.IsActive() && a.EndsAt().Before(endedBefore) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventErr != nil {
		return r.eventErr
	}
	r.events = append(r.events, ev)
	return nil
}

// mutexLocker serialises every provider through one in-process mutex.
type mutexLocker struct {
	mu    sync.Mutex
	calls int
	last  uuid.UUID
}

func (l *mutexLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = providerID
	return fn(ctx)
}

// racingLocker lets another writer commit once, after the service has read
// the appointment but before the critical section runs.
type racingLocker struct {
	mutexLocker
	once  sync.Once
	other func()
}

func (l *racingLocker) WithProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	l.once.Do(l.other)
	return l.mutexLocker.WithProviderLock(ctx, providerID, fn)
}

type busyLocker struct{}

func (busyLocker) WithProviderLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// countingChecker wraps HasConflict and records invocations.
type countingChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *countingChecker) check(existing []Booking, candidate Interval, excludeID uuid.UUID) bool {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return HasConflict(existing, candidate, excludeID)
}

func (c *countingChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
