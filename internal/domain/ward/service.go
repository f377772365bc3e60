package ward

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/domain/directory"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_]{0,15}$`)

// Service is the ward and bed catalog. Occupancy and counters are delegated
// to the Pool.
type Service struct {
	repo        Repository
	pool        *Pool
	tx          db.TxRunner
	departments directory.DepartmentDirectory
	cache       *AvailabilityCache
}

func NewService(repo Repository, pool *Pool, tx db.TxRunner, departments directory.DepartmentDirectory, cache *AvailabilityCache) *Service {
	return &Service{repo: repo, pool: pool, tx: tx, departments: departments, cache: cache}
}

// Pool exposes the bed pool manager backing this catalog.
func (s *Service) Pool() *Pool {
	return s.pool
}

type CreateWardRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	WardType     WardType        `json:"ward_type"`
	DepartmentID uuid.UUID       `json:"department_id"`
	Floor        *string         `json:"floor,omitempty"`
	TotalBeds    int             `json:"total_beds"`
	BedType      BedType         `json:"bed_type"`
	DailyRate    decimal.Decimal `json:"daily_rate"`
}

// CreateWard inserts the ward and provisions TotalBeds beds coded
// <CODE>-01..NN from the bed template.
func (s *Service) CreateWard(ctx context.Context, req CreateWardRequest) (*Ward, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !codePattern.MatchString(code) {
		return nil, apperr.InvalidArgument("code must be 1-16 upper-case letters, digits or underscores")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.InvalidArgument("name is required")
	}
	if !req.WardType.Valid() {
		return nil, apperr.InvalidArgument("invalid ward_type: %s", req.WardType)
	}
	if req.TotalBeds < 0 {
		return nil, apperr.InvalidArgument("total_beds must not be negative")
	}
	if req.BedType == "" {
		req.BedType = BedStandard
	}
	if !req.BedType.Valid() {
		return nil, apperr.InvalidArgument("invalid bed_type: %s", req.BedType)
	}
	if req.DailyRate.IsNegative() {
		return nil, apperr.InvalidArgument("daily_rate must not be negative")
	}
	if err := s.requireDepartment(ctx, req.DepartmentID); err != nil {
		return nil, err
	}

	w := &Ward{
		Code:             code,
		Name:             strings.TrimSpace(req.Name),
		WardType:         req.WardType,
		DepartmentID:     req.DepartmentID,
		Floor:            req.Floor,
		DefaultBedType:   req.BedType,
		DefaultDailyRate: req.DailyRate,
		IsActive:         true,
	}
	var out *Ward
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateWard(ctx, w); err != nil {
			return err
		}
		var err error
		out, err = s.pool.SetTotalBeds(ctx, w.ID, req.TotalBeds)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.pool.Invalidate(ctx)
	return out, nil
}

func (s *Service) requireDepartment(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return apperr.InvalidArgument("department_id is required")
	}
	ok, err := s.departments.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("department %s not found", id)
	}
	return nil
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.repo.GetWard(ctx, id)
}

func (s *Service) ListWards(ctx context.Context, f WardFilter, limit, offset int) ([]*Ward, int, error) {
	if f.WardType != nil && !f.WardType.Valid() {
		return nil, 0, apperr.InvalidArgument("invalid ward_type: %s", *f.WardType)
	}
	return s.repo.ListWards(ctx, f, limit, offset)
}

type UpdateWardRequest struct {
	Name             *string          `json:"name,omitempty"`
	WardType         *WardType        `json:"ward_type,omitempty"`
	DepartmentID     *uuid.UUID       `json:"department_id,omitempty"`
	Floor            *string          `json:"floor,omitempty"`
	DefaultBedType   *BedType         `json:"default_bed_type,omitempty"`
	DefaultDailyRate *decimal.Decimal `json:"default_daily_rate,omitempty"`
	IsActive         *bool            `json:"is_active,omitempty"`
}

// UpdateWard changes descriptive fields. Capacity goes through SetCapacity.
// A ward with occupied beds cannot be deactivated.
func (s *Service) UpdateWard(ctx context.Context, id uuid.UUID, req UpdateWardRequest) (*Ward, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, apperr.InvalidArgument("name must not be empty")
	}
	if req.WardType != nil && !req.WardType.Valid() {
		return nil, apperr.InvalidArgument("invalid ward_type: %s", *req.WardType)
	}
	if req.DefaultBedType != nil && !req.DefaultBedType.Valid() {
		return nil, apperr.InvalidArgument("invalid default_bed_type: %s", *req.DefaultBedType)
	}
	if req.DefaultDailyRate != nil && req.DefaultDailyRate.IsNegative() {
		return nil, apperr.InvalidArgument("default_daily_rate must not be negative")
	}
	if req.DepartmentID != nil {
		if err := s.requireDepartment(ctx, *req.DepartmentID); err != nil {
			return nil, err
		}
	}

	var out *Ward
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, id)
		if err != nil {
			return err
		}
		if req.IsActive != nil && !*req.IsActive && w.IsActive {
			c, err := s.repo.CountBeds(ctx, id)
			if err != nil {
				return err
			}
			if c.Occupied > 0 {
				return apperr.InvalidState("ward %s has %d occupied beds", w.Code, c.Occupied)
			}
		}
		if req.Name != nil {
			w.Name = strings.TrimSpace(*req.Name)
		}
		if req.WardType != nil {
			w.WardType = *req.WardType
		}
		if req.DepartmentID != nil {
			w.DepartmentID = *req.DepartmentID
		}
		if req.Floor != nil {
			w.Floor = req.Floor
		}
		if req.DefaultBedType != nil {
			w.DefaultBedType = *req.DefaultBedType
		}
		if req.DefaultDailyRate != nil {
			w.DefaultDailyRate = *req.DefaultDailyRate
		}
		if req.IsActive != nil {
			w.IsActive = *req.IsActive
		}
		if err := s.repo.UpdateWard(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pool.Invalidate(ctx)
	return out, nil
}

// DeleteWard removes the ward and its beds. Rejected while any bed is occupied.
func (s *Service) DeleteWard(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, id)
		if err != nil {
			return err
		}
		c, err := s.repo.CountBeds(ctx, id)
		if err != nil {
			return err
		}
		if c.Occupied > 0 {
			return apperr.InvalidOperation("ward %s has %d occupied beds", w.Code, c.Occupied)
		}
		return s.repo.DeleteWard(ctx, id)
	})
	if err != nil {
		return err
	}
	s.pool.Invalidate(ctx)
	return nil
}

// SetCapacity resizes the ward's bed set.
func (s *Service) SetCapacity(ctx context.Context, id uuid.UUID, totalBeds int) (*Ward, error) {
	w, err := s.pool.SetTotalBeds(ctx, id, totalBeds)
	if err != nil {
		return nil, err
	}
	s.pool.Invalidate(ctx)
	return w, nil
}

type AddBedRequest struct {
	Code      string           `json:"code,omitempty"`
	BedType   *BedType         `json:"bed_type,omitempty"`
	DailyRate *decimal.Decimal `json:"daily_rate,omitempty"`
}

// AddBed appends one bed to the ward. Without an explicit code the next
// <CODE>-NN is used; type and rate fall back to the ward template.
func (s *Service) AddBed(ctx context.Context, wardID uuid.UUID, req AddBedRequest) (*Bed, error) {
	if req.BedType != nil && !req.BedType.Valid() {
		return nil, apperr.InvalidArgument("invalid bed_type: %s", *req.BedType)
	}
	if req.DailyRate != nil && req.DailyRate.IsNegative() {
		return nil, apperr.InvalidArgument("daily_rate must not be negative")
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))

	var bed *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, wardID)
		if err != nil {
			return err
		}
		if code == "" {
			beds, err := s.repo.ListBedsByWard(ctx, wardID)
			if err != nil {
				return err
			}
			next := 0
			for _, b := range beds {
				if n := bedSeq(w.Code, b.Code); n > next {
					next = n
				}
			}
			code = BedCode(w.Code, next+1)
		}
		b := &Bed{
			WardID:    w.ID,
			Code:      code,
			BedType:   w.DefaultBedType,
			DailyRate: w.DefaultDailyRate,
			IsActive:  true,
		}
		if req.BedType != nil {
			b.BedType = *req.BedType
		}
		if req.DailyRate != nil {
			b.DailyRate = *req.DailyRate
		}
		if err := s.repo.CreateBed(ctx, b); err != nil {
			return err
		}
		if _, err := s.pool.Recount(ctx, w); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pool.Invalidate(ctx)
	return bed, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetBed(ctx, id)
}

type UpdateBedRequest struct {
	Code      *string          `json:"code,omitempty"`
	BedType   *BedType         `json:"bed_type,omitempty"`
	DailyRate *decimal.Decimal `json:"daily_rate,omitempty"`
	IsActive  *bool            `json:"is_active,omitempty"`
}

// UpdateBed changes bed attributes. Deactivating an occupied bed is
// InvalidState.
func (s *Service) UpdateBed(ctx context.Context, id uuid.UUID, req UpdateBedRequest) (*Bed, error) {
	if req.Code != nil && strings.TrimSpace(*req.Code) == "" {
		return nil, apperr.InvalidArgument("code must not be empty")
	}
	if req.BedType != nil && !req.BedType.Valid() {
		return nil, apperr.InvalidArgument("invalid bed_type: %s", *req.BedType)
	}
	if req.DailyRate != nil && req.DailyRate.IsNegative() {
		return nil, apperr.InvalidArgument("daily_rate must not be negative")
	}

	var bed *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		peek, err := s.repo.GetBed(ctx, id)
		if err != nil {
			return err
		}
		w, err := s.repo.LockWard(ctx, peek.WardID)
		if err != nil {
			return err
		}
		b, err := s.repo.LockBed(ctx, id)
		if err != nil {
			return err
		}
		if req.IsActive != nil && !*req.IsActive && b.IsOccupied {
			return apperr.InvalidState("bed %s is occupied and cannot be deactivated", b.Code)
		}
		if req.Code != nil {
			b.Code = strings.ToUpper(strings.TrimSpace(*req.Code))
		}
		if req.BedType != nil {
			b.BedType = *req.BedType
		}
		if req.DailyRate != nil {
			b.DailyRate = *req.DailyRate
		}
		if req.IsActive != nil {
			b.IsActive = *req.IsActive
		}
		if err := s.repo.UpdateBed(ctx, b); err != nil {
			return err
		}
		if _, err := s.pool.Recount(ctx, w); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pool.Invalidate(ctx)
	return bed, nil
}

// DeleteBed removes an unoccupied bed and shrinks the ward's total by one.
func (s *Service) DeleteBed(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		peek, err := s.repo.GetBed(ctx, id)
		if err != nil {
			return err
		}
		w, err := s.repo.LockWard(ctx, peek.WardID)
		if err != nil {
			return err
		}
		b, err := s.repo.LockBed(ctx, id)
		if err != nil {
			return err
		}
		if b.IsOccupied {
			return apperr.InvalidState("bed %s is occupied", b.Code)
		}
		if err := s.repo.DeleteBed(ctx, id); err != nil {
			return err
		}
		_, err = s.pool.Recount(ctx, w)
		return err
	})
	if err != nil {
		return err
	}
	s.pool.Invalidate(ctx)
	return nil
}

func (s *Service) ListBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	if _, err := s.repo.GetWard(ctx, wardID); err != nil {
		return nil, err
	}
	return s.repo.ListBedsByWard(ctx, wardID)
}

func (s *Service) AvailableBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	if f.BedType != nil && !f.BedType.Valid() {
		return nil, 0, apperr.InvalidArgument("invalid bed_type: %s", *f.BedType)
	}
	return s.repo.ListAvailableBeds(ctx, f, limit, offset)
}

// WardAvailability reads one ward's occupancy straight from its beds.
func (s *Service) WardAvailability(ctx context.Context, wardID uuid.UUID) (*Availability, error) {
	w, err := s.repo.GetWard(ctx, wardID)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.CountBeds(ctx, wardID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		WardID:        w.ID,
		WardCode:      w.Code,
		WardName:      w.Name,
		WardType:      w.WardType,
		DepartmentID:  w.DepartmentID,
		TotalBeds:     c.Total,
		AvailableBeds: c.Available,
		OccupiedBeds:  c.Occupied,
		InactiveBeds:  c.Total - c.Available - c.Occupied,
	}, nil
}

// Availability lists every active ward's occupancy, optionally limited to one
// department. The unfiltered list is cached per tenant.
func (s *Service) Availability(ctx context.Context, departmentID *uuid.UUID) ([]*Availability, error) {
	list, ok := s.cache.Get(ctx)
	if !ok {
		var err error
		list, err = s.repo.ListAvailability(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, list)
	}
	if departmentID == nil {
		return list, nil
	}
	out := make([]*Availability, 0, len(list))
	for _, a := range list {
		if a.DepartmentID == *departmentID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Reconcile recomputes ward counters from bed state.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	return s.pool.Reconcile(ctx)
}
