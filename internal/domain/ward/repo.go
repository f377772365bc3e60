package ward

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for wards and beds. Lock* methods take
// a row lock and must run inside a transaction.
type Repository interface {
	CreateWard(ctx context.Context, w *Ward) error
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	LockWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	UpdateWard(ctx context.Context, w *Ward) error
	DeleteWard(ctx context.Context, id uuid.UUID) error
	ListWards(ctx context.Context, f WardFilter, limit, offset int) ([]*Ward, int, error)
	ListWardIDs(ctx context.Context) ([]uuid.UUID, error)
	SetWardCounters(ctx context.Context, wardID uuid.UUID, total, available int) error

	CreateBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	LockBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	UpdateBed(ctx context.Context, b *Bed) error
	DeleteBed(ctx context.Context, id uuid.UUID) error
	ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*Bed, error)
	ListAvailableBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error)

	// MarkOccupied and MarkFree are compare-and-set flips of is_occupied.
	// They report false when the bed was not in the expected state.
	MarkOccupied(ctx context.Context, bedID uuid.UUID) (bool, error)
	MarkFree(ctx context.Context, bedID uuid.UUID) (bool, error)

	CountBeds(ctx context.Context, wardID uuid.UUID) (BedCounts, error)
	ListAvailability(ctx context.Context) ([]*Availability, error)
}
