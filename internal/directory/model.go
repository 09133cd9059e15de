// Package directory stores the records appointments point at: facility
// groups, facilities, providers and patients.
package directory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("record already exists")
	ErrInvalidReference = errors.New("referenced record does not exist")
	ErrInvalidRole      = errors.New("invalid provider role")
	ErrInvalidGender    = errors.New("invalid gender")
)

type ProviderRole string

const (
	RoleDoctor ProviderRole = "doctor"
	RoleNurse  ProviderRole = "nurse"
)

func ParseRole(raw string) (ProviderRole, error) {
	switch r := ProviderRole(raw); r {
	case RoleDoctor, RoleNurse:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func ParseGender(raw string) (Gender, error) {
	switch g := Gender(raw); g {
	case GenderMale, GenderFemale, GenderOther:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGender, raw)
}

type FacilityGroup struct {
	ID          uuid.UUID
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Facility struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	Phone     *string
	GroupID   *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID         uuid.UUID
	FullName   string
	Email      string
	Phone      *string
	Role       ProviderRole
	FacilityID *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Patient struct {
	ID              uuid.UUID
	FirstName       string
	LastName        string
	DOB             *time.Time
	Gender          *Gender
	Email           *string
	Phone           *string
	FacilityID      *uuid.UUID
	PrimaryDoctorID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Page is a limit/offset window over a name-ordered listing.
type Page struct {
	Limit  int
	Offset int
}
