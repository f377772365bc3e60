package admission

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	Get(ctx context.Context, id uuid.UUID) (*Admission, error)
	// Lock reads the admission with a row lock; callers must be in a transaction.
	Lock(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error)

	CreateVitals(ctx context.Context, v *Vitals) error
	ListVitals(ctx context.Context, admissionID uuid.UUID) ([]*Vitals, error)

	CreateTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error)
	ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error)

	CreateDischarge(ctx context.Context, d *Discharge) error
	GetDischarge(ctx context.Context, admissionID uuid.UUID) (*Discharge, error)
}
