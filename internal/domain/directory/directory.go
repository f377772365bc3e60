// Package directory reads the patient, doctor and department registries that
// other modules own. This subsystem only needs identity and an active flag.
package directory

import (
	"context"

	"github.com/google/uuid"
)

// Entry is the slice of a registry record the in-patient module relies on.
type Entry struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Active bool      `json:"active"`
}

type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
}

type DoctorDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
}

type DepartmentDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
