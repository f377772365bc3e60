package ward

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/telemetry"
	"github.com/ehr/ipd/pkg/apperr"
)

// Pool is the only writer of bed occupancy and ward counters.
//
// Every mutation locks the affected ward rows first (in id order when there
// are two), then the bed rows, flips is_occupied with a compare-and-set and
// re-derives the ward counters from count(*). Methods join the caller's
// transaction when ctx carries one.
type Pool struct {
	repo    Repository
	tx      db.TxRunner
	cache   *AvailabilityCache
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func NewPool(repo Repository, tx db.TxRunner, cache *AvailabilityCache, metrics *telemetry.Metrics, logger zerolog.Logger) *Pool {
	return &Pool{repo: repo, tx: tx, cache: cache, metrics: metrics, logger: logger}
}

// Allocate marks bedID occupied for admissionID. A bed that is already taken,
// or is taken by a concurrent caller between our read and our write, yields
// ResourceConflict.
func (p *Pool) Allocate(ctx context.Context, bedID, admissionID uuid.UUID) (*Bed, error) {
	var bed *Bed
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		peek, err := p.repo.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		w, err := p.repo.LockWard(ctx, peek.WardID)
		if err != nil {
			return err
		}
		if !w.IsActive {
			return apperr.InvalidState("ward %s is inactive", w.Code)
		}
		b, err := p.repo.LockBed(ctx, bedID)
		if err != nil {
			return err
		}
		if !b.IsActive {
			return apperr.InvalidState("bed %s is inactive", b.Code)
		}
		if b.IsOccupied {
			return apperr.ResourceConflict("bed %s is occupied", b.Code)
		}
		ok, err := p.repo.MarkOccupied(ctx, b.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ResourceConflict("bed %s was taken concurrently", b.Code)
		}
		b.IsOccupied = true
		if _, err := p.Recount(ctx, w); err != nil {
			return err
		}
		bed = b
		return nil
	})
	p.recordAllocation(err)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("bed_id", bedID.String()).
		Str("admission_id", admissionID.String()).
		Msg("bed allocated")
	return bed, nil
}

func (p *Pool) recordAllocation(err error) {
	switch {
	case err == nil:
		p.metrics.BedAllocation(telemetry.AllocationOK)
	case apperr.KindOf(err) == apperr.KindResourceConflict:
		p.metrics.BedAllocation(telemetry.AllocationConflict)
	default:
		p.metrics.BedAllocation(telemetry.AllocationRejected)
	}
}

// Transfer moves an admission from fromBedID to toBedID. When both beds share
// a ward the counter nets to the same value.
func (p *Pool) Transfer(ctx context.Context, admissionID, fromBedID, toBedID uuid.UUID) (*Move, error) {
	if fromBedID == toBedID {
		return nil, apperr.InvalidArgument("target bed must differ from the current bed")
	}
	var move *Move
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		fromPeek, err := p.repo.GetBed(ctx, fromBedID)
		if err != nil {
			return err
		}
		toPeek, err := p.repo.GetBed(ctx, toBedID)
		if err != nil {
			return err
		}

		wards, err := p.lockWards(ctx, fromPeek.WardID, toPeek.WardID)
		if err != nil {
			return err
		}
		if !wards[toPeek.WardID].IsActive {
			return apperr.InvalidState("ward %s is inactive", wards[toPeek.WardID].Code)
		}

		beds, err := p.lockBeds(ctx, fromBedID, toBedID)
		if err != nil {
			return err
		}
		from, to := beds[fromBedID], beds[toBedID]
		if !from.IsOccupied {
			return apperr.InvalidState("bed %s is not occupied", from.Code)
		}
		if !to.IsActive {
			return apperr.InvalidState("bed %s is inactive", to.Code)
		}
		if to.IsOccupied {
			return apperr.ResourceConflict("bed %s is occupied", to.Code)
		}

		ok, err := p.repo.MarkOccupied(ctx, to.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ResourceConflict("bed %s was taken concurrently", to.Code)
		}
		if ok, err = p.repo.MarkFree(ctx, from.ID); err != nil {
			return err
		} else if !ok {
			return apperr.InvalidState("bed %s was released concurrently", from.Code)
		}
		to.IsOccupied = true

		for _, w := range wards {
			if _, err := p.Recount(ctx, w); err != nil {
				return err
			}
		}
		move = &Move{
			AdmissionID: admissionID,
			FromBedID:   from.ID,
			ToBedID:     to.ID,
			FromWardID:  from.WardID,
			ToWardID:    to.WardID,
			ToBed:       to,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return move, nil
}

// lockWards locks each distinct ward in ascending id order.
func (p *Pool) lockWards(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*Ward, error) {
	ordered := distinctSorted(ids)
	out := make(map[uuid.UUID]*Ward, len(ordered))
	for _, id := range ordered {
		w, err := p.repo.LockWard(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

func (p *Pool) lockBeds(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*Bed, error) {
	ordered := distinctSorted(ids)
	out := make(map[uuid.UUID]*Bed, len(ordered))
	for _, id := range ordered {
		b, err := p.repo.LockBed(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}

func distinctSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	var out []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Release frees bedID. Releasing a bed that is already free is InvalidState.
func (p *Pool) Release(ctx context.Context, bedID uuid.UUID) (*Bed, error) {
	var bed *Bed
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		peek, err := p.repo.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		w, err := p.repo.LockWard(ctx, peek.WardID)
		if err != nil {
			return err
		}
		b, err := p.repo.LockBed(ctx, bedID)
		if err != nil {
			return err
		}
		if !b.IsOccupied {
			return apperr.InvalidState("bed %s is already free", b.Code)
		}
		ok, err := p.repo.MarkFree(ctx, b.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("bed %s is already free", b.Code)
		}
		b.IsOccupied = false
		if _, err := p.Recount(ctx, w); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.BedReleased()
	return bed, nil
}

// SetTotalBeds grows or shrinks the ward to n beds. New beds take the ward's
// default type and rate, so growing raises available_beds by the delta.
// Shrinking removes unoccupied beds only, inactive ones first and then the
// highest codes, and fails with InvalidOperation when n is below the number of
// occupied beds. Inactive beds never count as available, so available_beds
// falls by the number of active free beds removed, which is less than the
// shrink delta whenever inactive beds go first. The counters are re-derived
// from bed state either way.
func (p *Pool) SetTotalBeds(ctx context.Context, wardID uuid.UUID, n int) (*Ward, error) {
	if n < 0 {
		return nil, apperr.InvalidArgument("total_beds must not be negative")
	}
	var out *Ward
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := p.repo.LockWard(ctx, wardID)
		if err != nil {
			return err
		}
		beds, err := p.repo.ListBedsByWard(ctx, wardID)
		if err != nil {
			return err
		}

		switch current := len(beds); {
		case n > current:
			next := 0
			for _, b := range beds {
				if s := bedSeq(w.Code, b.Code); s > next {
					next = s
				}
			}
			for i := 0; i < n-current; i++ {
				next++
				nb := &Bed{
					WardID:    w.ID,
					Code:      BedCode(w.Code, next),
					BedType:   w.DefaultBedType,
					DailyRate: w.DefaultDailyRate,
					IsActive:  true,
				}
				if err := p.repo.CreateBed(ctx, nb); err != nil {
					return err
				}
			}
		case n < current:
			occupied := 0
			var free []*Bed
			for _, b := range beds {
				if b.IsOccupied {
					occupied++
				} else {
					free = append(free, b)
				}
			}
			if n < occupied {
				return apperr.InvalidOperation("ward %s has %d occupied beds; cannot shrink to %d", w.Code, occupied, n)
			}
			sort.SliceStable(free, func(i, j int) bool {
				if free[i].IsActive != free[j].IsActive {
					return !free[i].IsActive
				}
				si, sj := bedSeq(w.Code, free[i].Code), bedSeq(w.Code, free[j].Code)
				if si != sj {
					return si > sj
				}
				return free[i].Code > free[j].Code
			})
			for _, b := range free[:current-n] {
				if err := p.repo.DeleteBed(ctx, b.ID); err != nil {
					return err
				}
			}
		}

		out, err = p.Recount(ctx, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recount re-derives the counters of a ward the caller has locked and writes
// them back when they differ.
func (p *Pool) Recount(ctx context.Context, w *Ward) (*Ward, error) {
	c, err := p.repo.CountBeds(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if c.Total != w.TotalBeds || c.Available != w.AvailableBeds {
		if err := p.repo.SetWardCounters(ctx, w.ID, c.Total, c.Available); err != nil {
			return nil, err
		}
		w.TotalBeds, w.AvailableBeds = c.Total, c.Available
		w.Version++
	}
	p.metrics.WardAvailability(db.TenantFromContext(ctx), w.Code, w.AvailableBeds)
	return w, nil
}

// Reconcile recomputes every ward's counters from its beds, one transaction
// per ward, and returns the wards that had drifted.
func (p *Pool) Reconcile(ctx context.Context) ([]Drift, error) {
	ids, err := p.repo.ListWardIDs(ctx)
	if err != nil {
		return nil, err
	}
	tenant := db.TenantFromContext(ctx)
	var drifts []Drift
	for _, id := range ids {
		err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
			w, err := p.repo.LockWard(ctx, id)
			if err != nil {
				return err
			}
			d := Drift{
				Tenant:            tenant,
				WardID:            w.ID,
				WardCode:          w.Code,
				RecordedTotal:     w.TotalBeds,
				RecordedAvailable: w.AvailableBeds,
			}
			w, err = p.Recount(ctx, w)
			if err != nil {
				return err
			}
			d.ActualTotal, d.ActualAvailable = w.TotalBeds, w.AvailableBeds
			if d.ActualTotal != d.RecordedTotal || d.ActualAvailable != d.RecordedAvailable {
				drifts = append(drifts, d)
				p.logger.Warn().
					Str("tenant", tenant).
					Str("ward", d.WardCode).
					Int("recorded_available", d.RecordedAvailable).
					Int("actual_available", d.ActualAvailable).
					Msg("ward counters drifted")
			}
			return nil
		})
		if apperr.KindOf(err) == apperr.KindNotFound {
			continue // ward removed since listing
		}
		if err != nil {
			return drifts, err
		}
	}
	if len(drifts) > 0 {
		p.Invalidate(ctx)
	}
	return drifts, nil
}

// Invalidate drops the cached availability summary for the tenant in ctx.
// Callers invoke it after their transaction commits.
func (p *Pool) Invalidate(ctx context.Context) {
	p.cache.Invalidate(ctx)
}
