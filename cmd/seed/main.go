package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/care-scheduling/internal/config"
	"github.com/hackgods/care-scheduling/internal/db"
	"github.com/hackgods/care-scheduling/internal/logger"
)

type seedCounts struct {
	Groups     int
	Facilities int
	Providers  int
	Patients   int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	counts := seedCounts{
		Groups:     getInt("SEED_GROUPS", 3),
		Facilities: getInt("SEED_FACILITIES", 10),
		Providers:  getInt("SEED_PROVIDERS", 100),
		Patients:   getInt("SEED_PATIENTS", 9000),
	}
	log.Info("seed starting",
		zap.Int("groups", counts.Groups),
		zap.Int("facilities", counts.Facilities),
		zap.Int("providers", counts.Providers),
		zap.Int("patients", counts.Patients))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "seed", MaxConns: 4})
	cancel()
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	s := &seeder{pool: pool, faker: faker, log: log}

	ctx = context.Background()
	groups, err := s.seedGroups(ctx, counts.Groups)
	if err != nil {
		log.Fatal("seed facility groups", zap.Error(err))
	}
	facilities, err := s.seedFacilities(ctx, counts.Facilities, groups)
	if err != nil {
		log.Fatal("seed facilities", zap.Error(err))
	}
	doctors, err := s.seedProviders(ctx, counts.Providers, facilities)
	if err != nil {
		log.Fatal("seed providers", zap.Error(err))
	}
	if err := s.seedPatients(ctx, counts.Patients, facilities, doctors); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

type seeder struct {
	pool  *pgxpool.Pool
	faker *gofakeit.Faker
	log   *zap.Logger
}

func (s *seeder) pick(ids []uuid.UUID) *uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	id := ids[s.faker.Number(0, len(ids)-1)]
	return &id
}

func (s *seeder) seedGroups(ctx context.Context, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			name := fmt.Sprintf("%s Health Network", s.faker.LastName())
			tag, err := tx.Exec(ctx, `
				INSERT INTO facility_groups (id, name, description)
				VALUES ($1, $2, $3)
				ON CONFLICT (name) DO NOTHING
			`, id, name, s.faker.Slogan())
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 1 {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("facility groups seeded", zap.Int("count", len(ids)))
	return ids, nil
}

func (s *seeder) seedFacilities(ctx context.Context, count int, groups []uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			addr := s.faker.Address()
			_, err := tx.Exec(ctx, `
				INSERT INTO facilities (id, name, address, phone, group_id)
				VALUES ($1, $2, $3, $4, $5)
			`, id, addr.City+" Clinic", addr.Address, s.faker.Phone(), s.pick(groups))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("facilities seeded", zap.Int("count", len(ids)))
	return ids, nil
}

// seedProviders returns only the doctors, which patients use as their
// primary provider.
func (s *seeder) seedProviders(ctx context.Context, count int, facilities []uuid.UUID) ([]uuid.UUID, error) {
	var doctors []uuid.UUID
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			role := "doctor"
			if s.faker.Float64Range(0, 1) < 0.3 {
				role = "nurse"
			}
			// uuid suffix keeps emails unique across reruns
			email := fmt.Sprintf("%s.%s@%s", s.faker.Username(), id.String()[:8], s.faker.DomainName())
			_, err := tx.Exec(ctx, `
				INSERT INTO providers (id, full_name, email, phone, role, facility_id)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, id, s.faker.Name(), email, s.faker.Phone(), role, s.pick(facilities))
			if err != nil {
				return err
			}
			if role == "doctor" {
				doctors = append(doctors, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("providers seeded", zap.Int("count", count), zap.Int("doctors", len(doctors)))
	return doctors, nil
}

func (s *seeder) seedPatients(ctx context.Context, count int, facilities, doctors []uuid.UUID) error {
	const batchSize = 500
	genders := []string{"male", "female", "other"}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			dob := s.faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))
			rows = append(rows, []any{
				uuid.New(),
				s.faker.FirstName(),
				s.faker.LastName(),
				dob,
				genders[s.faker.Number(0, len(genders)-1)],
				s.faker.Email(),
				s.faker.Phone(),
				s.pick(facilities),
				s.pick(doctors),
			})
		}

		_, err := s.pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "first_name", "last_name", "dob", "gender", "email", "phone", "facility_id", "primary_doctor_id"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy patients %d-%d: %w", offset, end, err)
		}

		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
