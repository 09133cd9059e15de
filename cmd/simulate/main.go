package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/care-scheduling/internal/api"
	"github.com/hackgods/care-scheduling/internal/appointment"
	"github.com/hackgods/care-scheduling/internal/config"
	"github.com/hackgods/care-scheduling/internal/db"
	"github.com/hackgods/care-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	ConfirmRatio  float64
	ReadRatio     float64
	PatientLimit  int
	ProviderLimit int
	// Day is the date every booking targets, so providers fill up and
	// contention is real.
	Day         time.Time
	PostgresDSN string
}

type staff struct {
	ProviderID uuid.UUID
	FacilityID uuid.UUID
}

type DataPool struct {
	Patients  []uuid.UUID
	Providers []staff

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking      OperationMetrics
	Confirm      OperationMetrics
	ReadByID     OperationMetrics
	Availability OperationMetrics
	ListPatient  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(logger.Config{Level: baseCfg.LogLevel, Format: baseCfg.LogFormat})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("confirm", cfg.ConfirmRatio),
		zap.Float64("read", cfg.ReadRatio),
		zap.String("day", cfg.Day.Format(time.DateOnly)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "simulate", MaxConns: 4})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data pool loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("providers", len(dataPool.Providers)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.Run(context.Background()); err != nil {
		log.Error("simulation aborted", zap.Error(err))
	}
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), time.Minute)
	defer cancelVerify()
	overlaps, err := sim.VerifyNoOverlaps(verifyCtx)
	if err != nil {
		log.Fatal("verify schedules", zap.Error(err))
	}
	if overlaps > 0 {
		log.Fatal("double bookings detected", zap.Int("providers", overlaps))
	}
	log.Info("no double bookings detected")
}

func loadConfig(base config.Config) (SimConfig, error) {
	day := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	if v := os.Getenv("SIM_DAY"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return SimConfig{}, fmt.Errorf("SIM_DAY: %w", err)
		}
		day = d
	}

	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio:  getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		ProviderLimit: getInt("SIM_PROVIDER_LIMIT", 20),
		Day:           day,
		PostgresDSN:   base.PostgresDSN,
	}

	if cfg.PostgresDSN == "" {
		return cfg, fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total <= 0 {
		return cfg, fmt.Errorf("operation ratios must sum to a positive value")
	}
	cfg.BookingRatio /= total
	cfg.ConfirmRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	// Providers without a home facility get any facility.
	rows, err = pool.Query(ctx, `
		SELECT p.id, COALESCE(p.facility_id, (SELECT id FROM facilities LIMIT 1))
		FROM providers p
		LIMIT $1
	`, cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for rows.Next() {
		var s staff
		if err := rows.Scan(&s.ProviderID, &s.FacilityID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Providers = append(dataPool.Providers, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Providers) == 0 {
		return nil, fmt.Errorf("no providers loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()

	s.log.Info("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	seed := time.Now().UnixNano() + int64(workerID)
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doAvailability(ctx, rng)
			case 2:
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	// Random 15 minute offsets with varied lengths so partial overlaps occur.
	offset := time.Duration(rng.Intn(28)) * 15 * time.Minute
	durations := []int{15, 30, 45, 60, 90}
	notes := faker.Slogan()

	req := api.CreateAppointmentRequest{
		PatientID:     patientID.String(),
		ProviderID:    provider.ProviderID.String(),
		FacilityID:    provider.FacilityID.String(),
		ScheduledDate: s.config.Day.Add(9*time.Hour + offset),
		Duration:      durations[rng.Intn(len(durations))],
		Type:          string(appointment.TypeConsultation),
		Notes:         &notes,
	}

	var created api.AppointmentResponse
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", req, &created)
	if ctx.Err() != nil {
		return
	}
	if status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, status, err)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	confirmed := string(appointment.StatusConfirmed)
	status, latency, err := s.call(ctx, http.MethodPatch, "/appointments/"+id.String(),
		api.UpdateAppointmentRequest{Status: &confirmed}, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	path := fmt.Sprintf("/appointments/availability?provider=%s&date=%s&duration=30",
		provider.ProviderID, s.config.Day.Format(time.DateOnly))
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Availability.Record(latency, status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/patients/%s/appointments?limit=20", patientID), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListPatient.Record(latency, status, err)
}

// VerifyNoOverlaps reads each provider's schedule for the simulated day back
// through the API and returns how many providers hold overlapping active
// appointments.
func (s *Simulator) VerifyNoOverlaps(ctx context.Context) (int, error) {
	bad := 0
	for _, p := range s.pool.Providers {
		var bookings []appointment.Booking
		for page := 1; ; page++ {
			var list api.AppointmentListResponse
			path := fmt.Sprintf("/providers/%s/appointments?date=%s&limit=%d&page=%d",
				p.ProviderID, s.config.Day.Format(time.DateOnly), appointment.MaxPageSize, page)
			status, _, err := s.call(ctx, http.MethodGet, path, nil, &list)
			if err != nil {
				return bad, err
			}
			if status != http.StatusOK {
				return bad, fmt.Errorf("list provider %s: status %d", p.ProviderID, status)
			}
			for _, a := range list.Appointments {
				bookings = append(bookings, appointment.Booking{
					ID:       a.ID,
					Interval: appointment.NewInterval(a.ScheduledDate, a.Duration),
					Status:   appointment.AppointmentStatus(a.Status),
				})
			}
			if page >= list.Pagination.Pages {
				break
			}
		}

		for i, b := range bookings {
			if b.Status.IsActive() && appointment.HasConflict(bookings[i+1:], b.Interval, b.ID) {
				s.log.Error("overlapping appointments", zap.Stringer("provider", p.ProviderID), zap.Stringer("appointment", b.ID))
				bad++
				break
			}
		}
	}
	return bad, nil
}

func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Day: %s\n", s.config.Day.Format(time.DateOnly))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List by Patient", &s.metrics.ListPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
