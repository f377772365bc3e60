package ward

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/pagination"
)

// MemoryRepo is a map-backed Repository for tests and local tooling. Lock*
// methods do not block; MarkOccupied and MarkFree are still atomic.
type MemoryRepo struct {
	mu    sync.Mutex
	wards map[uuid.UUID]*Ward
	beds  map[uuid.UUID]*Bed
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		wards: make(map[uuid.UUID]*Ward),
		beds:  make(map[uuid.UUID]*Bed),
	}
}

func copyWard(w *Ward) *Ward { c := *w; return &c }
func copyBed(b *Bed) *Bed    { c := *b; return &c }

func (m *MemoryRepo) CreateWard(_ context.Context, w *Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.wards {
		if other.Code == w.Code {
			return apperr.Conflict("ward code %s already exists", w.Code)
		}
	}
	w.ID = uuid.New()
	w.Version = 1
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	m.wards[w.ID] = copyWard(w)
	return nil
}

func (m *MemoryRepo) GetWard(_ context.Context, id uuid.UUID) (*Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward %s not found", id)
	}
	return copyWard(w), nil
}

func (m *MemoryRepo) LockWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return m.GetWard(ctx, id)
}

func (m *MemoryRepo) UpdateWard(_ context.Context, w *Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.wards[w.ID]
	if !ok {
		return apperr.NotFound("ward %s not found", w.ID)
	}
	if cur.Version != w.Version {
		return apperr.Conflict("ward %s was modified concurrently", w.Code)
	}
	w.Version++
	w.UpdatedAt = time.Now()
	// counters are owned by SetWardCounters
	w.TotalBeds, w.AvailableBeds = cur.TotalBeds, cur.AvailableBeds
	m.wards[w.ID] = copyWard(w)
	return nil
}

func (m *MemoryRepo) DeleteWard(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wards[id]; !ok {
		return apperr.NotFound("ward %s not found", id)
	}
	delete(m.wards, id)
	for bid, b := range m.beds {
		if b.WardID == id {
			delete(m.beds, bid)
		}
	}
	return nil
}

func (m *MemoryRepo) ListWards(_ context.Context, f WardFilter, limit, offset int) ([]*Ward, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Ward
	for _, w := range m.wards {
		if f.DepartmentID != nil && w.DepartmentID != *f.DepartmentID {
			continue
		}
		if f.WardType != nil && w.WardType != *f.WardType {
			continue
		}
		if f.Active != nil && w.IsActive != *f.Active {
			continue
		}
		out = append(out, copyWard(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return pagination.Window(out, pagination.Normalize(limit, offset)), len(out), nil
}

func (m *MemoryRepo) ListWardIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.wards))
	for id := range m.wards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *MemoryRepo) SetWardCounters(_ context.Context, wardID uuid.UUID, total, available int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wards[wardID]
	if !ok {
		return apperr.NotFound("ward %s not found", wardID)
	}
	if available < 0 || available > total {
		return apperr.Internal("ward counters", apperr.InvalidState("available %d outside 0..%d", available, total))
	}
	w.TotalBeds, w.AvailableBeds = total, available
	w.Version++
	w.UpdatedAt = time.Now()
	return nil
}

// Skew overwrites a ward's stored counters without touching its beds.
// Tests use it to simulate drift.
func (m *MemoryRepo) Skew(wardID uuid.UUID, total, available int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wards[wardID]; ok {
		w.TotalBeds, w.AvailableBeds = total, available
	}
}

func (m *MemoryRepo) CreateBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wards[b.WardID]; !ok {
		return apperr.NotFound("ward %s not found", b.WardID)
	}
	for _, other := range m.beds {
		if other.WardID == b.WardID && other.Code == b.Code {
			return apperr.Conflict("bed code %s already exists in ward", b.Code)
		}
	}
	b.ID = uuid.New()
	b.Version = 1
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.beds[b.ID] = copyBed(b)
	return nil
}

func (m *MemoryRepo) GetBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	return copyBed(b), nil
}

func (m *MemoryRepo) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return m.GetBed(ctx, id)
}

func (m *MemoryRepo) UpdateBed(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.beds[b.ID]
	if !ok {
		return apperr.NotFound("bed %s not found", b.ID)
	}
	if cur.Version != b.Version {
		return apperr.Conflict("bed %s was modified concurrently", b.Code)
	}
	for _, other := range m.beds {
		if other.ID != b.ID && other.WardID == b.WardID && other.Code == b.Code {
			return apperr.Conflict("bed code %s already exists in ward", b.Code)
		}
	}
	b.Version++
	b.UpdatedAt = time.Now()
	b.IsOccupied = cur.IsOccupied
	m.beds[b.ID] = copyBed(b)
	return nil
}

func (m *MemoryRepo) DeleteBed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return apperr.NotFound("bed %s not found", id)
	}
	if b.IsOccupied {
		return apperr.InvalidState("bed %s is occupied", b.Code)
	}
	delete(m.beds, id)
	return nil
}

func (m *MemoryRepo) ListBedsByWard(_ context.Context, wardID uuid.UUID) ([]*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bed
	for _, b := range m.beds {
		if b.WardID == wardID {
			out = append(out, copyBed(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryRepo) ListAvailableBeds(_ context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bed
	for _, b := range m.beds {
		w := m.wards[b.WardID]
		if w == nil || !w.IsActive || !b.Available() {
			continue
		}
		if f.WardID != nil && b.WardID != *f.WardID {
			continue
		}
		if f.DepartmentID != nil && w.DepartmentID != *f.DepartmentID {
			continue
		}
		if f.BedType != nil && b.BedType != *f.BedType {
			continue
		}
		out = append(out, copyBed(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return pagination.Window(out, pagination.Normalize(limit, offset)), len(out), nil
}

func (m *MemoryRepo) MarkOccupied(_ context.Context, bedID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[bedID]
	if !ok || b.IsOccupied || !b.IsActive {
		return false, nil
	}
	b.IsOccupied = true
	b.Version++
	return true, nil
}

func (m *MemoryRepo) MarkFree(_ context.Context, bedID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[bedID]
	if !ok || !b.IsOccupied {
		return false, nil
	}
	b.IsOccupied = false
	b.Version++
	return true, nil
}

func (m *MemoryRepo) CountBeds(_ context.Context, wardID uuid.UUID) (BedCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(wardID), nil
}

func (m *MemoryRepo) countLocked(wardID uuid.UUID) BedCounts {
	var c BedCounts
	for _, b := range m.beds {
		if b.WardID != wardID {
			continue
		}
		c.Total++
		if b.IsOccupied {
			c.Occupied++
		}
		if b.Available() {
			c.Available++
		}
	}
	return c
}

func (m *MemoryRepo) ListAvailability(_ context.Context) ([]*Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Availability
	for _, w := range m.wards {
		if !w.IsActive {
			continue
		}
		c := m.countLocked(w.ID)
		out = append(out, &Availability{
			WardID:        w.ID,
			WardCode:      w.Code,
			WardName:      w.Name,
			WardType:      w.WardType,
			DepartmentID:  w.DepartmentID,
			TotalBeds:     c.Total,
			AvailableBeds: c.Available,
			OccupiedBeds:  c.Occupied,
			InactiveBeds:  c.Total - c.Available - c.Occupied,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WardCode < out[j].WardCode })
	return out, nil
}
