package scheduling

import (
	"errors"
	"fmt"

	"github.com/medisecure/clinic/internal/domain/identity"
)

var (
	ErrInvalidInterval     = errors.New("end time must be after start time")
	ErrSchedulingConflict  = errors.New("time slot conflicts with an existing appointment")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidStatus       = errors.New("invalid appointment status")
	ErrInvalidReference    = errors.New("appointment references an unknown patient or doctor")
	ErrMissingField        = errors.New("required field missing")

	// ErrPatientNotFound is shared with the identity domain so callers can
	// match it regardless of which service reported it.
	ErrPatientNotFound = identity.ErrPatientNotFound
)

// StatusError carries the rejected status value.
type StatusError struct {
	Value string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidStatus, e.Value)
}

func (e *StatusError) Unwrap() error { return ErrInvalidStatus }

// ConflictError names the appointment that blocked a booking.
type ConflictError struct {
	DoctorID      string
	AppointmentID string
}

func (e *ConflictError) Error() string {
	if e.AppointmentID == "" {
		return ErrSchedulingConflict.Error()
	}
	return fmt.Sprintf("%s (doctor %s, appointment %s)", ErrSchedulingConflict, e.DoctorID, e.AppointmentID)
}

func (e *ConflictError) Unwrap() error { return ErrSchedulingConflict }
