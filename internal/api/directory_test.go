package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/care-scheduling/internal/appointment"
	"github.com/hackgods/care-scheduling/internal/directory"
)

// memoryDirectory keeps every record in insertion order. createErr, when
// set, is returned by every create call.
type memoryDirectory struct {
	mu         sync.Mutex
	createErr  error
	groups     []directory.FacilityGroup
	facilities []directory.Facility
	providers  []directory.Provider
	patients   []directory.Patient
	lastPage   directory.Page
}

func stamp(id *uuid.UUID, created, updated *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	*created, *updated = scheduled, scheduled
}

func find[T any](items []T, id uuid.UUID, idOf func(*T) uuid.UUID) (*T, error) {
	for i := range items {
		if idOf(&items[i]) == id {
			v := items[i]
			return &v, nil
		}
	}
	return nil, directory.ErrNotFound
}

func window[T any](items []T, p directory.Page) []T {
	start := min(p.Offset, len(items))
	end := min(start+p.Limit, len(items))
	return append([]T(nil), items[start:end]...)
}

func (m *memoryDirectory) CreateFacilityGroup(_ context.Context, g *directory.FacilityGroup) (*directory.FacilityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	stamp(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	m.groups = append(m.groups, *g)
	return g, nil
}

func (m *memoryDirectory) GetFacilityGroup(_ context.Context, id uuid.UUID) (*directory.FacilityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return find(m.groups, id, func(g *directory.FacilityGroup) uuid.UUID { return g.ID })
}

func (m *memoryDirectory) ListFacilityGroups(_ context.Context, p directory.Page) ([]directory.FacilityGroup, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = p
	return window(m.groups, p), len(m.groups), nil
}

func (m *memoryDirectory) CreateFacility(_ context.Context, f *directory.Facility) (*directory.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	stamp(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	m.facilities = append(m.facilities, *f)
	return f, nil
}

func (m *memoryDirectory) GetFacility(_ context.Context, id uuid.UUID) (*directory.Facility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return find(m.facilities, id, func(f *directory.Facility) uuid.UUID { return f.ID })
}

func (m *memoryDirectory) ListFacilities(_ context.Context, p directory.Page) ([]directory.Facility, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = p
	return window(m.facilities, p), len(m.facilities), nil
}

func (m *memoryDirectory) CreateProvider(_ context.Context, p *directory.Provider) (*directory.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	m.providers = append(m.providers, *p)
	return p, nil
}

func (m *memoryDirectory) GetProvider(_ context.Context, id uuid.UUID) (*directory.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return find(m.providers, id, func(p *directory.Provider) uuid.UUID { return p.ID })
}

func (m *memoryDirectory) ListProviders(_ context.Context, p directory.Page) ([]directory.Provider, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = p
	return window(m.providers, p), len(m.providers), nil
}

func (m *memoryDirectory) CreatePatient(_ context.Context, p *directory.Patient) (*directory.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	m.patients = append(m.patients, *p)
	return p, nil
}

func (m *memoryDirectory) GetPatient(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return find(m.patients, id, func(p *directory.Patient) uuid.UUID { return p.ID })
}

func (m *memoryDirectory) ListPatients(_ context.Context, p directory.Page) ([]directory.Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = p
	return window(m.patients, p), len(m.patients), nil
}

func newDirectoryRouter(dir DirectoryStore) http.Handler {
	return NewRouter(RouterConfig{Service: &fakeService{}, Directory: dir})
}

func TestCreateAndGetFacilityGroup(t *testing.T) {
	dir := &memoryDirectory{}
	router := newDirectoryRouter(dir)

	rec := do(t, router, http.MethodPost, "/facility-groups", map[string]any{"name": "North Network"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[FacilityGroupResponse](t, rec)
	assert.Equal(t, "North Network", created.Name)

	rec = do(t, router, http.MethodGet, "/facility-groups/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeBody[FacilityGroupResponse](t, rec).ID)
}

func TestCreateFacility(t *testing.T) {
	dir := &memoryDirectory{}
	group := uuid.New()

	rec := do(t, newDirectoryRouter(dir), http.MethodPost, "/facilities", map[string]any{
		"name":     "Riverside Clinic",
		"address":  "1 Main St",
		"group_id": group.String(),
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, dir.facilities, 1)
	assert.Equal(t, group, *dir.facilities[0].GroupID)
	assert.Equal(t, "1 Main St", *dir.facilities[0].Address)
}

func TestCreateProvider(t *testing.T) {
	dir := &memoryDirectory{}

	rec := do(t, newDirectoryRouter(dir), http.MethodPost, "/providers", map[string]any{
		"full_name": "Dana Reyes",
		"email":     "dana@example.org",
		"role":      "nurse",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[ProviderResponse](t, rec)
	assert.Equal(t, "nurse", resp.Role)
	assert.Nil(t, resp.FacilityID)
	assert.Equal(t, directory.RoleNurse, dir.providers[0].Role)
}

func TestCreatePatient(t *testing.T) {
	dir := &memoryDirectory{}
	doctor := uuid.New()

	rec := do(t, newDirectoryRouter(dir), http.MethodPost, "/patients", map[string]any{
		"first_name":        "Ana",
		"last_name":         "Silva",
		"dob":               "1980-06-02",
		"gender":            "female",
		"primary_doctor_id": doctor.String(),
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[PatientResponse](t, rec)
	require.NotNil(t, resp.DOB)
	assert.Equal(t, "1980-06-02", *resp.DOB)
	assert.Equal(t, "female", *resp.Gender)
	assert.Equal(t, doctor, *dir.patients[0].PrimaryDoctorID)
	assert.Equal(t, time.Date(1980, time.June, 2, 0, 0, 0, 0, time.UTC), *dir.patients[0].DOB)
}

func TestCreateDirectoryRecords_Validation(t *testing.T) {
	router := newDirectoryRouter(&memoryDirectory{})

	tests := []struct {
		name   string
		target string
		body   map[string]any
	}{
		{"group without name", "/facility-groups", map[string]any{"description": "x"}},
		{"facility with bad group", "/facilities", map[string]any{"name": "Clinic", "group_id": "nope"}},
		{"provider with unknown role", "/providers", map[string]any{"full_name": "A", "email": "a@example.org", "role": "surgeon"}},
		{"provider with bad email", "/providers", map[string]any{"full_name": "A", "email": "not-an-email", "role": "doctor"}},
		{"patient with bad dob", "/patients", map[string]any{"first_name": "A", "last_name": "B", "dob": "02/06/1980"}},
		{"patient with unknown gender", "/patients", map[string]any{"first_name": "A", "last_name": "B", "gender": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_failed", decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateDirectoryRecords_StoreErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("insert provider: %w", directory.ErrDuplicate), http.StatusConflict, "duplicate_record"},
		{fmt.Errorf("insert provider: %w", directory.ErrInvalidReference), http.StatusBadRequest, "invalid_reference"},
		{fmt.Errorf("insert provider: boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			router := newDirectoryRouter(&memoryDirectory{createErr: tt.err})
			rec := do(t, router, http.MethodPost, "/providers", map[string]any{
				"full_name": "Dana Reyes",
				"email":     "dana@example.org",
				"role":      "doctor",
			})
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetDirectoryRecord_NotFoundAndBadID(t *testing.T) {
	router := newDirectoryRouter(&memoryDirectory{})

	rec := do(t, router, http.MethodGet, "/patients/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodGet, "/facilities/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProviders_Paginates(t *testing.T) {
	dir := &memoryDirectory{}
	for i := range 5 {
		dir.providers = append(dir.providers, directory.Provider{
			ID:       uuid.New(),
			FullName: fmt.Sprintf("Provider %d", i),
			Role:     directory.RoleDoctor,
		})
	}

	rec := do(t, newDirectoryRouter(dir), http.MethodGet, "/providers?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[ListResponse[ProviderResponse]](t, rec)
	assert.Equal(t, directory.Page{Limit: 2, Offset: 2}, dir.lastPage)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "Provider 2", resp.Items[0].FullName)
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 5, Pages: 3}, resp.Pagination)
}

func TestListFacilityGroups_EmptyAndBadPage(t *testing.T) {
	router := newDirectoryRouter(&memoryDirectory{})

	rec := do(t, router, http.MethodGet, "/facility-groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"pagination":{"page":1,"limit":10,"total":0,"pages":0}}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/facility-groups?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectoryRoutesKeepAppointmentListings(t *testing.T) {
	dir := &memoryDirectory{}
	called := false
	svc := &fakeService{list: func(context.Context, appointment.ListFilter) ([]appointment.Appointment, int, error) {
		called = true
		return nil, 0, nil
	}}

	rec := do(t, NewRouter(RouterConfig{Service: svc, Directory: dir}), http.MethodGet,
		"/providers/"+uuid.NewString()+"/appointments", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestDirectoryRoutesAbsentWithoutStore(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/providers", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
