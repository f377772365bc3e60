package ward

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/pkg/apperr"
)

func TestService_CreateWardProvisionsBeds(t *testing.T) {
	f := newFixture()
	w, err := f.svc.CreateWard(context.Background(), CreateWardRequest{
		Code:         " icu ",
		Name:         "Intensive Care",
		WardType:     WardICU,
		DepartmentID: f.dept,
		TotalBeds:    3,
		BedType:      BedVentilator,
		DailyRate:    decimal.NewFromInt(8000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Code != "ICU" {
		t.Errorf("expected normalised code ICU, got %q", w.Code)
	}
	if w.TotalBeds != 3 || w.AvailableBeds != 3 {
		t.Errorf("expected 3/3, got %d/%d", w.TotalBeds, w.AvailableBeds)
	}
	beds := f.beds(t, w.ID)
	for i, b := range beds {
		if want := BedCode("ICU", i+1); b.Code != want {
			t.Errorf("bed %d: expected %s, got %s", i, want, b.Code)
		}
		if b.BedType != BedVentilator {
			t.Errorf("bed %s: expected VENTILATOR, got %s", b.Code, b.BedType)
		}
	}
}

func TestService_CreateWardValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateWardRequest
		want error
	}{
		{"bad code", CreateWardRequest{Code: "icu ward", Name: "x", WardType: WardICU, DepartmentID: f.dept}, apperr.ErrInvalidArgument},
		{"missing name", CreateWardRequest{Code: "A", WardType: WardICU, DepartmentID: f.dept}, apperr.ErrInvalidArgument},
		{"bad type", CreateWardRequest{Code: "A", Name: "x", WardType: "CORRIDOR", DepartmentID: f.dept}, apperr.ErrInvalidArgument},
		{"negative beds", CreateWardRequest{Code: "A", Name: "x", WardType: WardICU, DepartmentID: f.dept, TotalBeds: -1}, apperr.ErrInvalidArgument},
		{"negative rate", CreateWardRequest{Code: "A", Name: "x", WardType: WardICU, DepartmentID: f.dept, DailyRate: decimal.NewFromInt(-1)}, apperr.ErrInvalidArgument},
		{"missing department", CreateWardRequest{Code: "A", Name: "x", WardType: WardICU}, apperr.ErrInvalidArgument},
		{"unknown department", CreateWardRequest{Code: "A", Name: "x", WardType: WardICU, DepartmentID: uuid.New()}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateWard(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestService_CreateWardDuplicateCode(t *testing.T) {
	f := newFixture()
	f.ward(t, "GEN", 1)
	_, err := f.svc.CreateWard(context.Background(), CreateWardRequest{
		Code: "GEN", Name: "again", WardType: WardGeneral, DepartmentID: f.dept,
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestService_UpdateWardDeactivateWithPatients(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	f.pool.Allocate(ctx, f.beds(t, w.ID)[0].ID, uuid.New())

	off := false
	_, err := f.svc.UpdateWard(ctx, w.ID, UpdateWardRequest{IsActive: &off})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}

	name := "General Ward East"
	out, err := f.svc.UpdateWard(ctx, w.ID, UpdateWardRequest{Name: &name})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if out.Name != name || out.TotalBeds != 2 || out.AvailableBeds != 1 {
		t.Errorf("unexpected ward after rename: %+v", out)
	}
}

func TestService_DeleteWard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	bed := f.beds(t, w.ID)[0]
	f.pool.Allocate(ctx, bed.ID, uuid.New())

	if err := f.svc.DeleteWard(ctx, w.ID); !errors.Is(err, apperr.ErrInvalidOperation) {
		t.Fatalf("expected InvalidOperation, got %v", err)
	}
	f.pool.Release(ctx, bed.ID)
	if err := f.svc.DeleteWard(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetWard(ctx, w.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	if _, err := f.svc.GetBed(ctx, bed.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected beds removed with ward, got %v", err)
	}
}

func TestService_AddBed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)

	b, err := f.svc.AddBed(ctx, w.ID, AddBedRequest{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if b.Code != "GEN-03" {
		t.Errorf("expected GEN-03, got %s", b.Code)
	}
	rate := decimal.NewFromInt(4000)
	bt := BedElectric
	spare, err := f.svc.AddBed(ctx, w.ID, AddBedRequest{Code: "spare", BedType: &bt, DailyRate: &rate})
	if err != nil {
		t.Fatalf("add spare: %v", err)
	}
	if spare.Code != "SPARE" || spare.BedType != BedElectric || !spare.DailyRate.Equal(rate) {
		t.Errorf("unexpected spare bed: %+v", spare)
	}
	if got := f.available(t, w.ID); got != 4 {
		t.Errorf("expected 4 available, got %d", got)
	}
	if _, err := f.svc.AddBed(ctx, w.ID, AddBedRequest{Code: "GEN-01"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected Conflict for duplicate bed code, got %v", err)
	}
}

func TestService_UpdateAndDeleteOccupiedBed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)
	bed := f.beds(t, w.ID)[0]
	f.pool.Allocate(ctx, bed.ID, uuid.New())

	off := false
	if _, err := f.svc.UpdateBed(ctx, bed.ID, UpdateBedRequest{IsActive: &off}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("deactivate: expected InvalidState, got %v", err)
	}
	if err := f.svc.DeleteBed(ctx, bed.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("delete: expected InvalidState, got %v", err)
	}

	rate := decimal.NewFromInt(3000)
	out, err := f.svc.UpdateBed(ctx, bed.ID, UpdateBedRequest{DailyRate: &rate})
	if err != nil {
		t.Fatalf("rate change: %v", err)
	}
	if !out.IsOccupied || !out.DailyRate.Equal(rate) {
		t.Errorf("unexpected bed after rate change: %+v", out)
	}

	other := f.beds(t, w.ID)[1]
	if err := f.svc.DeleteBed(ctx, other.ID); err != nil {
		t.Fatalf("delete free bed: %v", err)
	}
	wd, _ := f.svc.GetWard(ctx, w.ID)
	if wd.TotalBeds != 1 || wd.AvailableBeds != 0 {
		t.Errorf("expected 1 total / 0 available, got %d/%d", wd.TotalBeds, wd.AvailableBeds)
	}
}

func TestService_AvailableBedsFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	icuDept := f.depts.Add("Critical Care", true)
	gen := f.ward(t, "GEN", 2)
	icu, err := f.svc.CreateWard(ctx, CreateWardRequest{
		Code: "ICU", Name: "ICU", WardType: WardICU, DepartmentID: icuDept,
		TotalBeds: 2, BedType: BedICU, DailyRate: decimal.NewFromInt(8000),
	})
	if err != nil {
		t.Fatalf("create icu: %v", err)
	}
	f.pool.Allocate(ctx, f.beds(t, icu.ID)[0].ID, uuid.New())

	beds, total, err := f.svc.AvailableBeds(ctx, BedFilter{}, 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(beds) != 3 {
		t.Errorf("expected 3 free beds, got %d (total %d)", len(beds), total)
	}

	bt := BedICU
	_, total, _ = f.svc.AvailableBeds(ctx, BedFilter{BedType: &bt}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 free ICU bed, got %d", total)
	}
	_, total, _ = f.svc.AvailableBeds(ctx, BedFilter{WardID: &gen.ID}, 20, 0)
	if total != 2 {
		t.Errorf("expected 2 free GEN beds, got %d", total)
	}
	_, total, _ = f.svc.AvailableBeds(ctx, BedFilter{DepartmentID: &icuDept}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 free bed in critical care, got %d", total)
	}
	bad := BedType("HAMMOCK")
	if _, _, err := f.svc.AvailableBeds(ctx, BedFilter{BedType: &bad}, 20, 0); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestService_AvailabilityCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 2)

	list, err := f.svc.Availability(ctx, nil)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(list) != 1 || list[0].AvailableBeds != 2 {
		t.Fatalf("unexpected availability: %+v", list)
	}
	if _, ok, _ := f.store.Get(ctx, "availability:_"); !ok {
		t.Fatal("expected availability summary to be cached")
	}

	// Pool writes leave invalidation to the committing caller.
	f.pool.Allocate(ctx, f.beds(t, w.ID)[0].ID, uuid.New())
	list, _ = f.svc.Availability(ctx, nil)
	if list[0].AvailableBeds != 2 {
		t.Errorf("expected cached value 2 before invalidation, got %d", list[0].AvailableBeds)
	}
	f.pool.Invalidate(ctx)
	list, _ = f.svc.Availability(ctx, nil)
	if list[0].AvailableBeds != 1 || list[0].OccupiedBeds != 1 {
		t.Errorf("expected 1 available / 1 occupied after invalidation, got %+v", list[0])
	}

	other := uuid.New()
	list, _ = f.svc.Availability(ctx, &other)
	if len(list) != 0 {
		t.Errorf("expected no wards for unknown department, got %d", len(list))
	}
}

func TestService_WardAvailability(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.ward(t, "GEN", 3)
	beds := f.beds(t, w.ID)
	f.pool.Allocate(ctx, beds[0].ID, uuid.New())
	off := false
	f.svc.UpdateBed(ctx, beds[1].ID, UpdateBedRequest{IsActive: &off})

	a, err := f.svc.WardAvailability(ctx, w.ID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if a.TotalBeds != 3 || a.AvailableBeds != 1 || a.OccupiedBeds != 1 || a.InactiveBeds != 1 {
		t.Errorf("unexpected availability: %+v", a)
	}
	if _, err := f.svc.WardAvailability(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
