package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool Pool
}

func NewPgRepository(pool Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	groupColumns    = `id, name, description, created_at, updated_at`
	facilityColumns = `id, name, address, phone, group_id, created_at, updated_at`
	providerColumns = `id, full_name, email, phone, role, facility_id, created_at, updated_at`
	patientColumns  = `id, first_name, last_name, dob, gender, email, phone, facility_id, primary_doctor_id,
		created_at, updated_at`
)

// Facility groups

func (r *PgRepository) CreateFacilityGroup(ctx context.Context, g *FacilityGroup) (*FacilityGroup, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO facility_groups (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+groupColumns,
		g.ID, g.Name, g.Description)
	created, err := scanGroup(row)
	if err != nil {
		return nil, fmt.Errorf("insert facility group: %w", translateError(err))
	}
	return created, nil
}

func (r *PgRepository) GetFacilityGroup(ctx context.Context, id uuid.UUID) (*FacilityGroup, error) {
	return getByID(ctx, r.pool, "facility_groups", groupColumns, id, scanGroup)
}

func (r *PgRepository) ListFacilityGroups(ctx context.Context, p Page) ([]FacilityGroup, int, error) {
	return list(ctx, r.pool, "facility_groups", groupColumns, "name", p, scanGroup)
}

// Facilities

func (r *PgRepository) CreateFacility(ctx context.Context, f *Facility) (*Facility, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO facilities (id, name, address, phone, group_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+facilityColumns,
		f.ID, f.Name, f.Address, f.Phone, f.GroupID)
	created, err := scanFacility(row)
	if err != nil {
		return nil, fmt.Errorf("insert facility: %w", translateError(err))
	}
	return created, nil
}

func (r *PgRepository) GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error) {
	return getByID(ctx, r.pool, "facilities", facilityColumns, id, scanFacility)
}

func (r *PgRepository) ListFacilities(ctx context.Context, p Page) ([]Facility, int, error) {
	return list(ctx, r.pool, "facilities", facilityColumns, "name", p, scanFacility)
}

// Providers

func (r *PgRepository) CreateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, full_name, email, phone, role, facility_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+providerColumns,
		p.ID, p.FullName, p.Email, p.Phone, string(p.Role), p.FacilityID)
	created, err := scanProvider(row)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", translateError(err))
	}
	return created, nil
}

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return getByID(ctx, r.pool, "providers", providerColumns, id, scanProvider)
}

func (r *PgRepository) ListProviders(ctx context.Context, p Page) ([]Provider, int, error) {
	return list(ctx, r.pool, "providers", providerColumns, "full_name", p, scanProvider)
}

// Patients

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var gender *string
	if p.Gender != nil {
		g := string(*p.Gender)
		gender = &g
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, dob, gender, email, phone, facility_id, primary_doctor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+patientColumns,
		p.ID, p.FirstName, p.LastName, p.DOB, gender, p.Email, p.Phone, p.FacilityID, p.PrimaryDoctorID)
	created, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", translateError(err))
	}
	return created, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return getByID(ctx, r.pool, "patients", patientColumns, id, scanPatient)
}

func (r *PgRepository) ListPatients(ctx context.Context, p Page) ([]Patient, int, error) {
	return list(ctx, r.pool, "patients", patientColumns, "last_name, first_name", p, scanPatient)
}

// Helpers

func getByID[T any](ctx context.Context, q Pool, table, columns string, id uuid.UUID, scan func(pgx.Row) (*T, error)) (*T, error) {
	row := q.QueryRow(ctx, `SELECT `+columns+` FROM `+table+` WHERE id = $1`, id)
	v, err := scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return v, nil
}

func list[T any](ctx context.Context, q Pool, table, columns, order string, p Page, scan func(pgx.Row) (*T, error)) ([]T, int, error) {
	var total int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", table, err)
	}

	rows, err := q.Query(ctx, `
		SELECT `+columns+`
		FROM `+table+`
		ORDER BY `+order+`, id
		LIMIT $1 OFFSET $2
	`, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", table, err)
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", table, err)
	}
	return result, total, nil
}

func scanGroup(row pgx.Row) (*FacilityGroup, error) {
	var g FacilityGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	if err := row.Scan(&f.ID, &f.Name, &f.Address, &f.Phone, &f.GroupID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.Role, &p.FacilityID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.DOB,
		&p.Gender,
		&p.Email,
		&p.Phone,
		&p.FacilityID,
		&p.PrimaryDoctorID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
		}
	}
	return err
}
