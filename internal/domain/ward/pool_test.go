package ward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/domain/directory"
	"github.com/ehr/ipd/internal/platform/cache"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

// -- Fixtures --

type fixture struct {
	svc   *Service
	pool  *Pool
	repo  *MemoryRepo
	store *cache.Memory
	dept  uuid.UUID
	depts *directory.Memory
}

func newFixture() *fixture {
	repo := NewMemoryRepo()
	store := cache.NewMemory()
	ac := NewAvailabilityCache(store, time.Minute, zerolog.Nop())
	pool := NewPool(repo, db.NoTx{}, ac, nil, zerolog.Nop())
	depts := directory.NewMemory()
	dept := depts.Add("General Medicine", true)
	return &fixture{
		svc:   NewService(repo, pool, db.NoTx{}, depts, ac),
		pool:  pool,
		repo:  repo,
		store: store,
		dept:  dept,
		depts: depts,
	}
}

func (f *fixture) ward(t *testing.T, code string, beds int) *Ward {
	t.Helper()
	w, err := f.svc.CreateWard(context.Background(), CreateWardRequest{
		Code:         code,
		Name:         code + " ward",
		WardType:     WardGeneral,
		DepartmentID: f.dept,
		TotalBeds:    beds,
		DailyRate:    decimal.NewFromInt(2500),
	})
	if err != nil {
		t.Fatalf("create ward %s: %v", code, err)
	}
	return w
}

func (f *fixture) beds(t *testing.T, wardID uuid.UUID) []*Bed {
	t.Helper()
	beds, err := f.repo.ListBedsByWard(context.Background(), wardID)
	if err != nil {
		t.Fatalf("list beds: %v", err)
	}
	return beds
}

func (f *fixture) available(t *testing.T, wardID uuid.UUID) int {
	t.Helper()
	w, err := f.repo.GetWard(context.Background(), wardID)
	if err != nil {
		t.Fatalf("get ward: %v", err)
	}
	c, _ := f.repo.CountBeds(context.Background(), wardID)
	if w.AvailableBeds != c.Available || w.TotalBeds != c.Total {
		t.Fatalf("ward %s counters %d/%d disagree with beds %d/%d",
			w.Code, w.AvailableBeds, w.TotalBeds, c.Available, c.Total)
	}
	return w.AvailableBeds
}

// -- Allocate / Release --

func TestPool_AllocateAndRelease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	if got := f.available(t, w.ID); got != 2 {
		t.Fatalf("expected 2 available, got %d", got)
	}

	bed := f.beds(t, w.ID)[0]
	if _, err := f.pool.Allocate(ctx, bed.ID, uuid.New()); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := f.available(t, w.ID); got != 1 {
		t.Errorf("expected 1 available after allocate, got %d", got)
	}

	released, err := f.pool.Release(ctx, bed.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.IsOccupied {
		t.Error("expected released bed to be free")
	}
	if got := f.available(t, w.ID); got != 2 {
		t.Errorf("expected 2 available after release, got %d", got)
	}
}

func TestPool_AllocateOccupiedBed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 1)
	bed := f.beds(t, w.ID)[0]

	if _, err := f.pool.Allocate(ctx, bed.ID, uuid.New()); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	_, err := f.pool.Allocate(ctx, bed.ID, uuid.New())
	if !errors.Is(err, apperr.ErrResourceConflict) {
		t.Fatalf("expected ResourceConflict, got %v", err)
	}
	if got := f.available(t, w.ID); got != 0 {
		t.Errorf("expected 0 available, got %d", got)
	}
}

func TestPool_AllocateInactive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	beds := f.beds(t, w.ID)

	off := false
	if _, err := f.svc.UpdateBed(ctx, beds[0].ID, UpdateBedRequest{IsActive: &off}); err != nil {
		t.Fatalf("deactivate bed: %v", err)
	}
	if _, err := f.pool.Allocate(ctx, beds[0].ID, uuid.New()); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState for inactive bed, got %v", err)
	}

	if _, err := f.svc.UpdateWard(ctx, w.ID, UpdateWardRequest{IsActive: &off}); err != nil {
		t.Fatalf("deactivate ward: %v", err)
	}
	if _, err := f.pool.Allocate(ctx, beds[1].ID, uuid.New()); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState for inactive ward, got %v", err)
	}
}

func TestPool_AllocateUnknownBed(t *testing.T) {
	f := newFixture()
	_, err := f.pool.Allocate(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestPool_ReleaseFreeBed(t *testing.T) {
	f := newFixture()
	w := f.ward(t, "GEN", 1)
	bed := f.beds(t, w.ID)[0]
	_, err := f.pool.Release(context.Background(), bed.ID)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
}

func TestPool_ConcurrentAllocateSameBed(t *testing.T) {
	f := newFixture()
	w := f.ward(t, "ICU", 1)
	bed := f.beds(t, w.ID)[0]

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.pool.Allocate(context.Background(), bed.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrResourceConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("expected exactly one successful allocation, got %d", ok)
	}
	if conflicts != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, conflicts)
	}
	if got := f.available(t, w.ID); got != 0 {
		t.Errorf("expected 0 available, got %d", got)
	}
}

// -- Transfer --

func TestPool_TransferAcrossWards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w1 := f.ward(t, "W1", 2)
	w2 := f.ward(t, "W2", 2)
	a := f.beds(t, w1.ID)[0]
	b := f.beds(t, w2.ID)[0]
	admission := uuid.New()

	if _, err := f.pool.Allocate(ctx, a.ID, admission); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	move, err := f.pool.Transfer(ctx, admission, a.ID, b.ID)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if move.FromWardID != w1.ID || move.ToWardID != w2.ID {
		t.Errorf("unexpected move wards: %+v", move)
	}
	if got := f.available(t, w1.ID); got != 2 {
		t.Errorf("expected W1 back to 2 available, got %d", got)
	}
	if got := f.available(t, w2.ID); got != 1 {
		t.Errorf("expected W2 down to 1 available, got %d", got)
	}
	fa, _ := f.repo.GetBed(ctx, a.ID)
	fb, _ := f.repo.GetBed(ctx, b.ID)
	if fa.IsOccupied || !fb.IsOccupied {
		t.Errorf("expected A free and B occupied, got A=%v B=%v", fa.IsOccupied, fb.IsOccupied)
	}
}

func TestPool_TransferSameWardNetsZero(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 3)
	beds := f.beds(t, w.ID)
	admission := uuid.New()

	if _, err := f.pool.Allocate(ctx, beds[0].ID, admission); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := f.pool.Transfer(ctx, admission, beds[0].ID, beds[1].ID); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := f.available(t, w.ID); got != 2 {
		t.Errorf("expected 2 available, got %d", got)
	}
}

func TestPool_TransferRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 3)
	beds := f.beds(t, w.ID)
	x, y := uuid.New(), uuid.New()
	f.pool.Allocate(ctx, beds[0].ID, x)
	f.pool.Allocate(ctx, beds[1].ID, y)

	if _, err := f.pool.Transfer(ctx, x, beds[0].ID, beds[0].ID); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("same bed: expected InvalidArgument, got %v", err)
	}
	if _, err := f.pool.Transfer(ctx, x, beds[0].ID, beds[1].ID); !errors.Is(err, apperr.ErrResourceConflict) {
		t.Errorf("occupied target: expected ResourceConflict, got %v", err)
	}
	if _, err := f.pool.Transfer(ctx, x, beds[2].ID, beds[0].ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("free source: expected InvalidState, got %v", err)
	}
	if got := f.available(t, w.ID); got != 1 {
		t.Errorf("expected 1 available, got %d", got)
	}
}

// -- SetTotalBeds --

func TestPool_SetTotalBedsGrow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	f.pool.Allocate(ctx, f.beds(t, w.ID)[0].ID, uuid.New())

	out, err := f.pool.SetTotalBeds(ctx, w.ID, 5)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if out.TotalBeds != 5 || out.AvailableBeds != 4 {
		t.Errorf("expected 5 total / 4 available, got %d/%d", out.TotalBeds, out.AvailableBeds)
	}
	beds := f.beds(t, w.ID)
	if beds[4].Code != "GEN-05" {
		t.Errorf("expected GEN-05, got %s", beds[4].Code)
	}
	if !beds[4].DailyRate.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("expected template rate 2500, got %s", beds[4].DailyRate)
	}
}

func TestPool_SetTotalBedsShrink(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 4)
	beds := f.beds(t, w.ID)
	f.pool.Allocate(ctx, beds[3].ID, uuid.New()) // GEN-04 occupied
	off := false
	f.svc.UpdateBed(ctx, beds[0].ID, UpdateBedRequest{IsActive: &off}) // GEN-01 inactive

	out, err := f.pool.SetTotalBeds(ctx, w.ID, 2)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if out.TotalBeds != 2 || out.AvailableBeds != 1 {
		t.Errorf("expected 2 total / 1 available, got %d/%d", out.TotalBeds, out.AvailableBeds)
	}
	remaining := f.beds(t, w.ID)
	if remaining[0].Code != "GEN-02" || remaining[1].Code != "GEN-04" {
		t.Errorf("expected GEN-02 and GEN-04 to survive, got %s and %s", remaining[0].Code, remaining[1].Code)
	}
}

func TestPool_SetTotalBedsShrinkDropsInactiveFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 4)
	beds := f.beds(t, w.ID)
	off := false
	for _, b := range beds[:2] {
		if _, err := f.svc.UpdateBed(ctx, b.ID, UpdateBedRequest{IsActive: &off}); err != nil {
			t.Fatalf("deactivate %s: %v", b.Code, err)
		}
	}
	if got := f.available(t, w.ID); got != 2 {
		t.Fatalf("expected 2 available before shrink, got %d", got)
	}

	out, err := f.pool.SetTotalBeds(ctx, w.ID, 2)
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	// both removed beds were inactive, so availability is unchanged
	if out.TotalBeds != 2 || out.AvailableBeds != 2 {
		t.Errorf("expected 2 total / 2 available, got %d/%d", out.TotalBeds, out.AvailableBeds)
	}
	if got := f.available(t, w.ID); got != 2 {
		t.Errorf("expected 2 available after shrink, got %d", got)
	}
	for _, b := range f.beds(t, w.ID) {
		if !b.IsActive {
			t.Errorf("inactive bed %s survived the shrink", b.Code)
		}
	}

	out, err = f.pool.SetTotalBeds(ctx, w.ID, 1)
	if err != nil {
		t.Fatalf("shrink active: %v", err)
	}
	if out.AvailableBeds != 1 {
		t.Errorf("expected removing an active free bed to drop availability to 1, got %d", out.AvailableBeds)
	}
}

func TestPool_SetTotalBedsBelowOccupied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 3)
	beds := f.beds(t, w.ID)
	f.pool.Allocate(ctx, beds[0].ID, uuid.New())
	f.pool.Allocate(ctx, beds[1].ID, uuid.New())

	_, err := f.pool.SetTotalBeds(ctx, w.ID, 1)
	if !errors.Is(err, apperr.ErrInvalidOperation) {
		t.Fatalf("expected InvalidOperation, got %v", err)
	}
	if got := len(f.beds(t, w.ID)); got != 3 {
		t.Errorf("expected 3 beds untouched, got %d", got)
	}
	if _, err := f.pool.SetTotalBeds(ctx, w.ID, -1); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected InvalidArgument for negative total, got %v", err)
	}
}

// -- Reconcile --

func TestPool_Reconcile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w1 := f.ward(t, "W1", 3)
	w2 := f.ward(t, "W2", 2)
	f.repo.Skew(w1.ID, 3, 1)

	drifts, err := f.pool.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("expected 1 drifted ward, got %d", len(drifts))
	}
	d := drifts[0]
	if d.WardID != w1.ID || d.RecordedAvailable != 1 || d.ActualAvailable != 3 {
		t.Errorf("unexpected drift: %+v", d)
	}
	if got := f.available(t, w1.ID); got != 3 {
		t.Errorf("expected W1 repaired to 3, got %d", got)
	}
	if got := f.available(t, w2.ID); got != 2 {
		t.Errorf("expected W2 unchanged at 2, got %d", got)
	}

	drifts, _ = f.pool.Reconcile(ctx)
	if len(drifts) != 0 {
		t.Errorf("expected no drift on second pass, got %d", len(drifts))
	}
}

func TestBedCodeSequence(t *testing.T) {
	if got := BedCode("ICU", 7); got != "ICU-07" {
		t.Errorf("expected ICU-07, got %s", got)
	}
	if got := bedSeq("ICU", "ICU-12"); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}
	if got := bedSeq("ICU", "SPARE"); got != 0 {
		t.Errorf("expected 0 for hand-assigned code, got %d", got)
	}
	if got := bedSeq("ICU", "ICU-X"); got != 0 {
		t.Errorf("expected 0 for non-numeric suffix, got %d", got)
	}
}
