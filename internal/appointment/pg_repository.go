package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
)

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool Pool
}

func NewPgRepository(pool Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, provider_id, facility_id, scheduled_date, duration, type, status,
		notes, symptoms, diagnosis, prescription, follow_up_date, created_at, updated_at`

var entityTables = map[EntityKind]string{
	EntityPatient:  "patients",
	EntityProvider: "providers",
	EntityFacility: "facilities",
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.FacilityID,
		&a.ScheduledDate,
		&a.Duration,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.Symptoms,
		&a.Diagnosis,
		&a.Prescription,
		&a.FollowUpDate,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func activeStatusNames() []string {
	names := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		names[i] = string(s)
	}
	return names
}

// translateWriteError maps constraint violations onto domain errors.
func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return ErrSchedulingConflict
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
		}
	}
	return err
}

func (r *PgRepository) withSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// enforceGuard serialises writers of the same provider for the rest of the
// transaction and re-runs the conflict check on what is about to be committed.
func (r *PgRepository) enforceGuard(ctx context.Context, q querier, guard *ConflictGuard) error {
	if guard == nil {
		return nil
	}

	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, guard.ProviderID.String()); err != nil {
		return fmt.Errorf("lock provider %s: %w", guard.ProviderID, err)
	}

	existing, err := findActive(ctx, q, guard.ProviderID, guard.LookupWindow())
	if err != nil {
		return err
	}
	if guard.Conflicts(existing) {
		return ErrSchedulingConflict
	}
	return nil
}

func findActive(ctx context.Context, q querier, providerID uuid.UUID, window Interval) ([]Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT id, scheduled_date, duration, status
		FROM appointments
		WHERE provider_id = $1
		  AND status = ANY($2)
		  AND scheduled_date >= $3
		  AND scheduled_date < $4
		ORDER BY scheduled_date
	`, providerID, activeStatusNames(), window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("find active appointments: %w", err)
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		var (
			b        Booking
			start    time.Time
			duration int
		)
		if err := rows.Scan(&b.ID, &start, &duration, &b.Status); err != nil {
			return nil, err
		}
		b.Interval = NewInterval(start, duration)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) EntityExists(ctx context.Context, kind EntityKind, id uuid.UUID) (bool, error) {
	table, ok := entityTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown entity kind %q", kind)
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", kind, err)
	}
	return exists, nil
}

func (r *PgRepository) FindActiveAppointments(ctx context.Context, providerID uuid.UUID, window Interval) ([]Booking, error) {
	return findActive(ctx, r.pool, providerID, window)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.ProviderID != nil {
		add("provider_id = $%d", *f.ProviderID)
	}
	if f.FacilityID != nil {
		add("facility_id = $%d", *f.FacilityID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Type != nil {
		add("type = $%d", string(*f.Type))
	}
	if f.From != nil {
		add("scheduled_date >= $%d", *f.From)
	}
	if f.To != nil {
		if f.ToExclusive {
			add("scheduled_date < $%d", *f.To)
		} else {
			add("scheduled_date <= $%d", *f.To)
		}
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	order := "ASC"
	if f.Sort == SortScheduledDesc {
		order = "DESC"
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY scheduled_date %s, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, order, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	result, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan appointments: %w", err)
	}
	return result, total, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment, guard *ConflictGuard) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var created *Appointment
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		if err := r.enforceGuard(ctx, tx, guard); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, provider_id, facility_id, scheduled_date, duration, ends_at,
				type, status, notes, symptoms, diagnosis, prescription, follow_up_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
			RETURNING `+appointmentColumns,
			a.ID, a.PatientID, a.ProviderID, a.FacilityID, a.ScheduledDate, a.Duration, a.EndsAt(),
			string(a.Type), string(a.Status), a.Notes, a.Symptoms, a.Diagnosis, a.Prescription, a.FollowUpDate)

		var err error
		created, err = scanAppointment(row)
		return err
	})
	if err != nil {
		return nil, translateWriteError(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, expected AppointmentStatus, u Update, guard *ConflictGuard) (*Appointment, error) {
	var updated *Appointment
	err := r.withSerializableTx(ctx, func(tx pgx.Tx) error {
		current, err := scanAppointment(tx.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		if current.Status != expected {
			return fmt.Errorf("%w: status changed to %s", ErrIllegalTransition, current.Status)
		}

		next := u.Apply(*current)
		if err := r.enforceGuard(ctx, tx, guard.For(&next)); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET patient_id = $2,
			    provider_id = $3,
			    facility_id = $4,
			    scheduled_date = $5,
			    duration = $6,
			    ends_at = $7,
			    type = $8,
			    status = $9,
			    notes = $10,
			    symptoms = $11,
			    diagnosis = $12,
			    prescription = $13,
			    follow_up_date = $14,
			    updated_at = now()
			WHERE id = $1
			RETURNING `+appointmentColumns,
			id, next.PatientID, next.ProviderID, next.FacilityID, next.ScheduledDate, next.Duration, next.EndsAt(),
			string(next.Type), string(next.Status), next.Notes, next.Symptoms, next.Diagnosis, next.Prescription, next.FollowUpDate)

		updated, err = scanAppointment(row)
		return err
	})
	if err != nil {
		return nil, translateWriteError(err)
	}
	return updated, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID, expected AppointmentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND status = $2
	`, id, string(expected))
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status AppointmentStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("load appointment status: %w", err)
	}
	return fmt.Errorf("%w: cannot delete %s appointment", ErrIllegalTransition, status)
}

func (r *PgRepository) FindStaleActive(ctx context.Context, endedBefore time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		  AND ends_at < $2
		ORDER BY ends_at
		LIMIT 500
	`, activeStatusNames(), endedBefore)
	if err != nil {
		return nil, fmt.Errorf("find stale appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
