package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-scheduling/internal/appointment"
)

const dateLayout = "2006-01-02"

// AppointmentService is the part of appointment.Service the HTTP layer uses.
type AppointmentService interface {
	BookAppointment(ctx context.Context, c appointment.Candidate) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, int, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, u appointment.Update) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	CheckAvailability(ctx context.Context, providerID uuid.UUID, day time.Time, slotMinutes int) ([]appointment.Interval, error)
}

type Handler struct {
	svc      AppointmentService
	log      *zap.Logger
	validate *validator.Validate
}

func NewHandler(svc AppointmentService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log, validate: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names in validation errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := appointment.Candidate{
		PatientID:     uuid.MustParse(req.PatientID),
		ProviderID:    uuid.MustParse(req.ProviderID),
		FacilityID:    uuid.MustParse(req.FacilityID),
		ScheduledDate: req.ScheduledDate,
		Duration:      req.Duration,
		Notes:         req.Notes,
		Symptoms:      req.Symptoms,
	}
	if req.Type != "" {
		typ, err := appointment.ParseType(req.Type)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		c.Type = typ
	}

	appt, err := h.svc.BookAppointment(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := req.toUpdate()
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	appt, err := h.svc.UpdateAppointment(r.Context(), id, u)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAppointments serves GET /appointments. Supported filters: patient,
// provider, facility, status, type, start_date and end_date.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, limit, err := parsePage(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	f := appointment.ListFilter{Sort: appointment.SortScheduledAsc, Limit: limit, Offset: (page - 1) * limit}
	if err := parseCommonFilters(q.Get, &f); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	refs := []struct {
		name string
		dst  **uuid.UUID
	}{
		{"patient", &f.PatientID},
		{"provider", &f.ProviderID},
		{"facility", &f.FacilityID},
	}
	for _, ref := range refs {
		if *ref.dst, err = optionalUUID(q.Get(ref.name)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+ref.name+"_id", ref.name+" must be a valid UUID")
			return
		}
	}
	if raw := q.Get("type"); raw != "" {
		typ, err := appointment.ParseType(raw)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		f.Type = &typ
	}
	if raw := q.Get("start_date"); raw != "" {
		from, _, err := parseTimeBound(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date", err.Error())
			return
		}
		f.From = &from
	}
	if raw := q.Get("end_date"); raw != "" {
		to, dateOnly, err := parseTimeBound(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_date", err.Error())
			return
		}
		if dateOnly {
			// a bare date includes the whole day
			to = to.AddDate(0, 0, 1)
			f.ToExclusive = true
		}
		f.To = &to
	}

	h.list(w, r, f, page, limit)
}

// PatientAppointments serves GET /patients/{id}/appointments, newest first.
func (h *Handler) PatientAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()

	page, limit, err := parsePage(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	f := appointment.ListFilter{PatientID: &id, Sort: appointment.SortScheduledDesc, Limit: limit, Offset: (page - 1) * limit}
	if err := parseCommonFilters(q.Get, &f); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	h.list(w, r, f, page, limit)
}

// ProviderAppointments serves GET /providers/{id}/appointments. An optional
// date restricts the result to that calendar day.
func (h *Handler) ProviderAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	q := r.URL.Query()

	page, limit, err := parsePage(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	f := appointment.ListFilter{ProviderID: &id, Sort: appointment.SortScheduledAsc, Limit: limit, Offset: (page - 1) * limit}
	if err := parseCommonFilters(q.Get, &f); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if raw := q.Get("date"); raw != "" {
		day, err := parseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		from, to := day, day.AddDate(0, 0, 1)
		f.From, f.To, f.ToExclusive = &from, &to, true
	}

	h.list(w, r, f, page, limit)
}

// Availability serves GET /appointments/availability?provider=&date=&duration=.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawProvider := q.Get("provider")
	if rawProvider == "" {
		rawProvider = q.Get("doctor")
	}
	if rawProvider == "" || q.Get("date") == "" {
		writeError(w, http.StatusBadRequest, "missing_parameters", "provider and date are required")
		return
	}

	providerID, err := uuid.Parse(rawProvider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider must be a valid UUID")
		return
	}

	day, err := parseDay(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}

	duration := appointment.DefaultDuration
	if raw := q.Get("duration"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
			return
		}
	}

	slots, err := h.svc.CheckAvailability(r.Context(), providerID, day, duration)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := AvailabilityResponse{
		Provider:       providerID,
		Date:           day.Format(dateLayout),
		AvailableSlots: make([]SlotResponse, 0, len(slots)),
		TotalSlots:     len(slots),
	}
	for _, s := range slots {
		resp.AvailableSlots = append(resp.AvailableSlots, SlotResponse{
			StartTime: s.Start,
			EndTime:   s.End,
			Duration:  s.Minutes(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Helpers

func (h *Handler) list(w http.ResponseWriter, r *http.Request, f appointment.ListFilter, page, limit int) {
	appts, total, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(appts, total, page, limit))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeValid(w, r, h.validate, dst)
}

// decodeValid reads a JSON body into dst and validates it, writing a 400 on failure.
func decodeValid(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (req UpdateAppointmentRequest) toUpdate() (appointment.Update, error) {
	u := appointment.Update{
		ScheduledDate: req.ScheduledDate,
		Duration:      req.Duration,
		Notes:         req.Notes,
		Symptoms:      req.Symptoms,
		Diagnosis:     req.Diagnosis,
		Prescription:  req.Prescription,
		FollowUpDate:  req.FollowUpDate,
	}
	// ids were checked by the validator
	if req.PatientID != nil {
		id := uuid.MustParse(*req.PatientID)
		u.PatientID = &id
	}
	if req.ProviderID != nil {
		id := uuid.MustParse(*req.ProviderID)
		u.ProviderID = &id
	}
	if req.FacilityID != nil {
		id := uuid.MustParse(*req.FacilityID)
		u.FacilityID = &id
	}
	if req.Type != nil {
		typ, err := appointment.ParseType(*req.Type)
		if err != nil {
			return appointment.Update{}, err
		}
		u.Type = &typ
	}
	if req.Status != nil {
		status, err := appointment.ParseStatus(*req.Status)
		if err != nil {
			return appointment.Update{}, err
		}
		u.Status = &status
	}
	return u, nil
}

// parseCommonFilters applies the status filter shared by every list endpoint.
func parseCommonFilters(get func(string) string, f *appointment.ListFilter) error {
	if raw := get("status"); raw != "" {
		status, err := appointment.ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = &status
	}
	return nil
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parsePage returns a 1-based page and a limit clamped to the maximum page size.
func parsePage(rawPage, rawLimit string) (page, limit int, err error) {
	page, limit = 1, appointment.DefaultPageSize
	if rawPage != "" {
		if page, err = strconv.Atoi(rawPage); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
	}
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	if limit > appointment.MaxPageSize {
		limit = appointment.MaxPageSize
	}
	return page, limit, nil
}

// parseDay accepts YYYY-MM-DD (midnight UTC) or an RFC 3339 timestamp, whose
// location is kept so the working window follows it.
func parseDay(raw string) (time.Time, error) {
	if day, err := time.Parse(dateLayout, raw); err == nil {
		return day, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD or RFC 3339")
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
}

func parseTimeBound(raw string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(dateLayout, raw); err == nil {
		return t, true, nil
	}
	if t, err = time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
}
