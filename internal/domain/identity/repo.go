package identity

import (
	"context"

	"github.com/google/uuid"
)

// PatientRepository persists patient snapshots. Lookups return
// ErrPatientNotFound when no row matches.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, criteria SearchCriteria, limit, offset int) ([]*Patient, int, error)
}

// UserRepository persists staff accounts. Lookups return ErrUserNotFound
// when no row matches.
type UserRepository interface {
	Create(ctx context.Context, u *StaffUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error)
	GetByEmail(ctx context.Context, email string) (*StaffUser, error)
	ListByRole(ctx context.Context, role Role, limit, offset int) ([]*StaffUser, int, error)
}
