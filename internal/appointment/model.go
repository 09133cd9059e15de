package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MinDuration     = 15
	MaxDuration     = 480
	DefaultDuration = 30
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

// ActiveStatuses are the statuses that still occupy provider time.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

// IsActive reports whether the status participates in overlap checks.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s AppointmentStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func ParseStatus(raw string) (AppointmentStatus, error) {
	s := AppointmentStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow-up"
	TypeEmergency    AppointmentType = "emergency"
	TypeRoutine      AppointmentType = "routine"
	TypeSpecialist   AppointmentType = "specialist"
)

func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeRoutine, TypeSpecialist:
		return true
	}
	return false
}

func ParseType(raw string) (AppointmentType, error) {
	t := AppointmentType(raw)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
	return t, nil
}

// EntityKind names the records an appointment references.
type EntityKind string

const (
	EntityPatient  EntityKind = "patient"
	EntityProvider EntityKind = "provider"
	EntityFacility EntityKind = "facility"
)

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	FacilityID    uuid.UUID
	ScheduledDate time.Time
	Duration      int // minutes
	Type          AppointmentType
	Status        AppointmentStatus
	Notes         *string
	Symptoms      []string
	Diagnosis     *string
	Prescription  *string
	FollowUpDate  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledDate.Add(time.Duration(a.Duration) * time.Minute)
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.ScheduledDate, End: a.EndsAt()}
}

func (a *Appointment) Booking() Booking {
	return Booking{ID: a.ID, Interval: a.Interval(), Status: a.Status}
}

// Booking is the narrow view of an appointment the conflict checker works on.
type Booking struct {
	ID       uuid.UUID
	Interval Interval
	Status   AppointmentStatus
}

// Candidate is a proposed booking before it is persisted.
type Candidate struct {
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	FacilityID    uuid.UUID
	ScheduledDate time.Time
	Duration      int
	Type          AppointmentType
	Notes         *string
	Symptoms      []string
}

func (c Candidate) Interval() Interval {
	return NewInterval(c.ScheduledDate, c.Duration)
}

// Update carries a partial change set; nil fields are left untouched.
type Update struct {
	PatientID     *uuid.UUID
	ProviderID    *uuid.UUID
	FacilityID    *uuid.UUID
	ScheduledDate *time.Time
	Duration      *int
	Type          *AppointmentType
	Status        *AppointmentStatus
	Notes         *string
	Symptoms      *[]string
	Diagnosis     *string
	Prescription  *string
	FollowUpDate  *time.Time
}

// TouchesSchedule reports whether the update moves the appointment in time or
// to another provider.
func (u Update) TouchesSchedule() bool {
	return u.ScheduledDate != nil || u.Duration != nil || u.ProviderID != nil
}

// Apply returns a copy of a with the update applied.
func (u Update) Apply(a Appointment) Appointment {
	if u.PatientID != nil {
		a.PatientID = *u.PatientID
	}
	if u.ProviderID != nil {
		a.ProviderID = *u.ProviderID
	}
	if u.FacilityID != nil {
		a.FacilityID = *u.FacilityID
	}
	if u.ScheduledDate != nil {
		a.ScheduledDate = *u.ScheduledDate
	}
	if u.Duration != nil {
		a.Duration = *u.Duration
	}
	if u.Type != nil {
		a.Type = *u.Type
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Notes != nil {
		a.Notes = u.Notes
	}
	if u.Symptoms != nil {
		a.Symptoms = append([]string(nil), (*u.Symptoms)...)
	}
	if u.Diagnosis != nil {
		a.Diagnosis = u.Diagnosis
	}
	if u.Prescription != nil {
		a.Prescription = u.Prescription
	}
	if u.FollowUpDate != nil {
		a.FollowUpDate = u.FollowUpDate
	}
	return a
}

type SortOrder int

const (
	SortScheduledAsc SortOrder = iota
	SortScheduledDesc
)

// ListFilter selects appointments for the list endpoints.
type ListFilter struct {
	PatientID   *uuid.UUID
	ProviderID  *uuid.UUID
	FacilityID  *uuid.UUID
	Status      *AppointmentStatus
	Type        *AppointmentType
	From        *time.Time // inclusive
	To          *time.Time // inclusive unless ToExclusive
	ToExclusive bool
	Sort        SortOrder
	Limit       int
	Offset      int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
