package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/care-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service   AppointmentService
	Directory DirectoryStore // optional; directory routes are skipped when nil
	Logger    *zap.Logger
	Metrics   *metrics.HTTPMetrics
	Gatherer  prometheus.Gatherer
	Postgres  Pinger
	Redis     Pinger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))

	h := NewHandler(cfg.Service, log)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.CreateAppointment)
		r.Get("/", h.ListAppointments)
		r.Get("/availability", h.Availability)
		r.Get("/{id}", h.GetAppointment)
		r.Put("/{id}", h.UpdateAppointment)
		r.Patch("/{id}", h.UpdateAppointment)
		r.Delete("/{id}", h.DeleteAppointment)
	})

	var dir *DirectoryHandler
	if cfg.Directory != nil {
		dir = NewDirectoryHandler(cfg.Directory, log)
		r.Route("/facility-groups", func(r chi.Router) {
			r.Post("/", dir.CreateFacilityGroup)
			r.Get("/", dir.ListFacilityGroups)
			r.Get("/{id}", dir.GetFacilityGroup)
		})
		r.Route("/facilities", func(r chi.Router) {
			r.Post("/", dir.CreateFacility)
			r.Get("/", dir.ListFacilities)
			r.Get("/{id}", dir.GetFacility)
		})
	}

	r.Route("/patients", func(r chi.Router) {
		if dir != nil {
			r.Post("/", dir.CreatePatient)
			r.Get("/", dir.ListPatients)
			r.Get("/{id}", dir.GetPatient)
		}
		r.Get("/{id}/appointments", h.PatientAppointments)
	})
	r.Route("/providers", func(r chi.Router) {
		if dir != nil {
			r.Post("/", dir.CreateProvider)
			r.Get("/", dir.ListProviders)
			r.Get("/{id}", dir.GetProvider)
		}
		r.Get("/{id}/appointments", h.ProviderAppointments)
	})

	return r
}
