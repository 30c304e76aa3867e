package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medisecure/clinic/internal/domain/identity"
)

// PatientLookup is the part of the patient store the booking flow needs.
type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetByEmail(ctx context.Context, email string) (*identity.Patient, error)
}

type AppointmentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}

type AppointmentStore interface {
	Create(ctx context.Context, a *Appointment) error
	Update(ctx context.Context, a *Appointment) error
}

// AppointmentRepository is the full persistence contract. GetByID returns
// ErrAppointmentNotFound when no row matches.
type AppointmentRepository interface {
	AppointmentLookup
	AppointmentStore
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error)
	// ListOverdue returns scheduled or confirmed appointments that ended
	// before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]*Appointment, error)
	// WithDoctorLock runs fn while holding an exclusive per-doctor lock. The
	// context passed to fn carries the transaction, so repository calls made
	// with it take part in it.
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}
