package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidDuration    = fmt.Errorf("duration must be between %d and %d minutes", MinDuration, MaxDuration)
	ErrInvalidReference   = errors.New("referenced entity does not exist")
	ErrSchedulingConflict = errors.New("provider is not available at the scheduled time")
	ErrIllegalTransition  = errors.New("illegal appointment status transition")
	ErrInvalidType        = errors.New("invalid appointment type")
	ErrInvalidStatus      = errors.New("invalid appointment status")
	ErrProviderBusy       = errors.New("provider schedule is being modified, please retry")
)

// ReferenceError names the missing entity. It matches ErrInvalidReference.
type ReferenceError struct {
	Kind EntityKind
	ID   uuid.UUID
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrInvalidReference
}

func validateDuration(minutes int) error {
	if minutes < MinDuration || minutes > MaxDuration {
		return ErrInvalidDuration
	}
	return nil
}
