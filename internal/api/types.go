package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/care-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID     string    `json:"patient_id" validate:"required,uuid"`
	ProviderID    string    `json:"provider_id" validate:"required,uuid"`
	FacilityID    string    `json:"facility_id" validate:"required,uuid"`
	ScheduledDate time.Time `json:"scheduled_date" validate:"required"`
	Duration      int       `json:"duration"`
	Type          string    `json:"type"`
	Notes         *string   `json:"notes" validate:"omitempty,max=2000"`
	Symptoms      []string  `json:"symptoms" validate:"omitempty,max=50,dive,required,max=200"`
}

// UpdateAppointmentRequest is a partial update; absent fields are untouched.
type UpdateAppointmentRequest struct {
	PatientID     *string    `json:"patient_id" validate:"omitempty,uuid"`
	ProviderID    *string    `json:"provider_id" validate:"omitempty,uuid"`
	FacilityID    *string    `json:"facility_id" validate:"omitempty,uuid"`
	ScheduledDate *time.Time `json:"scheduled_date"`
	Duration      *int       `json:"duration"`
	Type          *string    `json:"type"`
	Status        *string    `json:"status"`
	Notes         *string    `json:"notes" validate:"omitempty,max=2000"`
	Symptoms      *[]string  `json:"symptoms" validate:"omitempty,max=50"`
	Diagnosis     *string    `json:"diagnosis" validate:"omitempty,max=2000"`
	Prescription  *string    `json:"prescription" validate:"omitempty,max=2000"`
	FollowUpDate  *time.Time `json:"follow_up_date"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	FacilityID    uuid.UUID  `json:"facility_id"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	EndsAt        time.Time  `json:"ends_at"`
	Duration      int        `json:"duration"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Notes         *string    `json:"notes,omitempty"`
	Symptoms      []string   `json:"symptoms"`
	Diagnosis     *string    `json:"diagnosis,omitempty"`
	Prescription  *string    `json:"prescription,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Pagination   Pagination            `json:"pagination"`
}

type SlotResponse struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int       `json:"duration"`
}

type AvailabilityResponse struct {
	Provider       uuid.UUID      `json:"provider"`
	Date           string         `json:"date"`
	AvailableSlots []SlotResponse `json:"available_slots"`
	TotalSlots     int            `json:"total_slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	symptoms := a.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		ProviderID:    a.ProviderID,
		FacilityID:    a.FacilityID,
		ScheduledDate: a.ScheduledDate,
		EndsAt:        a.EndsAt(),
		Duration:      a.Duration,
		Type:          string(a.Type),
		Status:        string(a.Status),
		Notes:         a.Notes,
		Symptoms:      symptoms,
		Diagnosis:     a.Diagnosis,
		Prescription:  a.Prescription,
		FollowUpDate:  a.FollowUpDate,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toListResponse(appts []appointment.Appointment, total, page, limit int) AppointmentListResponse {
	items := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		items = append(items, toAppointmentResponse(&appts[i]))
	}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return AppointmentListResponse{
		Appointments: items,
		Pagination:   Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
	}
}
