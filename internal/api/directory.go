package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-scheduling/internal/directory"
)

// DirectoryStore is the part of directory.PgRepository the HTTP layer uses.
type DirectoryStore interface {
	CreateFacilityGroup(ctx context.Context, g *directory.FacilityGroup) (*directory.FacilityGroup, error)
	GetFacilityGroup(ctx context.Context, id uuid.UUID) (*directory.FacilityGroup, error)
	ListFacilityGroups(ctx context.Context, p directory.Page) ([]directory.FacilityGroup, int, error)

	CreateFacility(ctx context.Context, f *directory.Facility) (*directory.Facility, error)
	GetFacility(ctx context.Context, id uuid.UUID) (*directory.Facility, error)
	ListFacilities(ctx context.Context, p directory.Page) ([]directory.Facility, int, error)

	CreateProvider(ctx context.Context, p *directory.Provider) (*directory.Provider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*directory.Provider, error)
	ListProviders(ctx context.Context, p directory.Page) ([]directory.Provider, int, error)

	CreatePatient(ctx context.Context, p *directory.Patient) (*directory.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	ListPatients(ctx context.Context, p directory.Page) ([]directory.Patient, int, error)
}

type CreateFacilityGroupRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

type CreateFacilityRequest struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	Phone   *string `json:"phone" validate:"omitempty,max=50"`
	GroupID *string `json:"group_id" validate:"omitempty,uuid"`
}

type CreateProviderRequest struct {
	FullName   string  `json:"full_name" validate:"required,max=200"`
	Email      string  `json:"email" validate:"required,email"`
	Phone      *string `json:"phone" validate:"omitempty,max=50"`
	Role       string  `json:"role" validate:"required,oneof=doctor nurse"`
	FacilityID *string `json:"facility_id" validate:"omitempty,uuid"`
}

type CreatePatientRequest struct {
	FirstName       string  `json:"first_name" validate:"required,max=100"`
	LastName        string  `json:"last_name" validate:"required,max=100"`
	DOB             *string `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Gender          *string `json:"gender" validate:"omitempty,oneof=male female other"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Phone           *string `json:"phone" validate:"omitempty,max=50"`
	FacilityID      *string `json:"facility_id" validate:"omitempty,uuid"`
	PrimaryDoctorID *string `json:"primary_doctor_id" validate:"omitempty,uuid"`
}

type FacilityGroupResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type FacilityResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Address   *string    `json:"address,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	GroupID   *uuid.UUID `json:"group_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type ProviderResponse struct {
	ID         uuid.UUID  `json:"id"`
	FullName   string     `json:"full_name"`
	Email      string     `json:"email"`
	Phone      *string    `json:"phone,omitempty"`
	Role       string     `json:"role"`
	FacilityID *uuid.UUID `json:"facility_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type PatientResponse struct {
	ID              uuid.UUID  `json:"id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	DOB             *string    `json:"dob,omitempty"`
	Gender          *string    `json:"gender,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	FacilityID      *uuid.UUID `json:"facility_id,omitempty"`
	PrimaryDoctorID *uuid.UUID `json:"primary_doctor_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ListResponse[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type DirectoryHandler struct {
	store    DirectoryStore
	log      *zap.Logger
	validate *validator.Validate
}

func NewDirectoryHandler(store DirectoryStore, log *zap.Logger) *DirectoryHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryHandler{store: store, log: log, validate: newValidator()}
}

// Facility groups

func (h *DirectoryHandler) CreateFacilityGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityGroupRequest
	if !decodeValid(w, r, h.validate, &req) {
		return
	}

	g, err := h.store.CreateFacilityGroup(r.Context(), &directory.FacilityGroup{Name: req.Name, Description: req.Description})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupResponse(g))
}

func (h *DirectoryHandler) GetFacilityGroup(w http.ResponseWriter, r *http.Request) {
	getOne(w, r, h.log, h.store.GetFacilityGroup, toGroupResponse)
}

func (h *DirectoryHandler) ListFacilityGroups(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.log, h.store.ListFacilityGroups, toGroupResponse)
}

// Facilities

func (h *DirectoryHandler) CreateFacility(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityRequest
	if !decodeValid(w, r, h.validate, &req) {
		return
	}

	f := &directory.Facility{Name: req.Name, Address: req.Address, Phone: req.Phone, GroupID: mustOptionalUUID(req.GroupID)}
	created, err := h.store.CreateFacility(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFacilityResponse(created))
}

func (h *DirectoryHandler) GetFacility(w http.ResponseWriter, r *http.Request) {
	getOne(w, r, h.log, h.store.GetFacility, toFacilityResponse)
}

func (h *DirectoryHandler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.log, h.store.ListFacilities, toFacilityResponse)
}

// Providers

func (h *DirectoryHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if !decodeValid(w, r, h.validate, &req) {
		return
	}

	role, err := directory.ParseRole(req.Role)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	p := &directory.Provider{
		FullName:   req.FullName,
		Email:      req.Email,
		Phone:      req.Phone,
		Role:       role,
		FacilityID: mustOptionalUUID(req.FacilityID),
	}
	created, err := h.store.CreateProvider(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProviderResponse(created))
}

func (h *DirectoryHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	getOne(w, r, h.log, h.store.GetProvider, toProviderResponse)
}

func (h *DirectoryHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.log, h.store.ListProviders, toProviderResponse)
}

// Patients

func (h *DirectoryHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest
	if !decodeValid(w, r, h.validate, &req) {
		return
	}

	p := &directory.Patient{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Phone:           req.Phone,
		FacilityID:      mustOptionalUUID(req.FacilityID),
		PrimaryDoctorID: mustOptionalUUID(req.PrimaryDoctorID),
	}
	if req.DOB != nil {
		// format checked by the validator
		dob, _ := time.Parse(dateLayout, *req.DOB)
		p.DOB = &dob
	}
	if req.Gender != nil {
		g, err := directory.ParseGender(*req.Gender)
		if err != nil {
			writeServiceError(w, r, h.log, err)
			return
		}
		p.Gender = &g
	}

	created, err := h.store.CreatePatient(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPatientResponse(created))
}

func (h *DirectoryHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	getOne(w, r, h.log, h.store.GetPatient, toPatientResponse)
}

func (h *DirectoryHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	listPage(w, r, h.log, h.store.ListPatients, toPatientResponse)
}

// Helpers

func getOne[T, R any](w http.ResponseWriter, r *http.Request, log *zap.Logger,
	get func(context.Context, uuid.UUID) (*T, error), render func(*T) R) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	v, err := get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, render(v))
}

func listPage[T, R any](w http.ResponseWriter, r *http.Request, log *zap.Logger,
	list func(context.Context, directory.Page) ([]T, int, error), render func(*T) R) {
	q := r.URL.Query()
	page, limit, err := parsePage(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	items, total, err := list(r.Context(), directory.Page{Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}

	resp := ListResponse[R]{
		Items:      make([]R, 0, len(items)),
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: (total + limit - 1) / limit},
	}
	for i := range items {
		resp.Items = append(resp.Items, render(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// mustOptionalUUID parses an id the validator has already accepted.
func mustOptionalUUID(raw *string) *uuid.UUID {
	if raw == nil {
		return nil
	}
	id := uuid.MustParse(*raw)
	return &id
}

func toGroupResponse(g *directory.FacilityGroup) FacilityGroupResponse {
	return FacilityGroupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func toFacilityResponse(f *directory.Facility) FacilityResponse {
	return FacilityResponse{
		ID:        f.ID,
		Name:      f.Name,
		Address:   f.Address,
		Phone:     f.Phone,
		GroupID:   f.GroupID,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func toProviderResponse(p *directory.Provider) ProviderResponse {
	return ProviderResponse{
		ID:         p.ID,
		FullName:   p.FullName,
		Email:      p.Email,
		Phone:      p.Phone,
		Role:       string(p.Role),
		FacilityID: p.FacilityID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func toPatientResponse(p *directory.Patient) PatientResponse {
	resp := PatientResponse{
		ID:              p.ID,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Email:           p.Email,
		Phone:           p.Phone,
		FacilityID:      p.FacilityID,
		PrimaryDoctorID: p.PrimaryDoctorID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.DOB != nil {
		dob := p.DOB.Format(dateLayout)
		resp.DOB = &dob
	}
	if p.Gender != nil {
		g := string(*p.Gender)
		resp.Gender = &g
	}
	return resp
}
