package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound        = errors.New("patient not found")
	ErrPatientAlreadyExists   = errors.New("patient already exists")
	ErrMissingRequiredField   = errors.New("missing required field")
	ErrInvalidDateOfBirth     = errors.New("date of birth cannot be in the future")
	ErrMissingGuardianConsent = errors.New("guardian consent required for minor patient")
	ErrMissingPatientConsent  = errors.New("patient has not given consent")

	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrInvalidRole        = errors.New("invalid role")
	ErrWeakPassword       = errors.New("password too short")
)

// MissingFieldError names the absent field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField, e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingRequiredField }

// ConsentError identifies the patient whose consent check failed. Reason is
// ErrMissingGuardianConsent or ErrMissingPatientConsent.
type ConsentError struct {
	PatientID uuid.UUID
	Reason    error
}

func (e *ConsentError) Error() string {
	return fmt.Sprintf("%s (patient %s)", e.Reason, e.PatientID)
}

func (e *ConsentError) Unwrap() error { return e.Reason }

// DuplicateError reports which identifier collided.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s %q", ErrPatientAlreadyExists, e.Field, e.Value)
}

func (e *DuplicateError) Unwrap() error { return ErrPatientAlreadyExists }

type RoleError struct {
	Value string
}

func (e *RoleError) Error() string { return fmt.Sprintf("%s: %q", ErrInvalidRole, e.Value) }

func (e *RoleError) Unwrap() error { return ErrInvalidRole }
