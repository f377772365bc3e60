package accrual

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/ipd/internal/domain/admission"
	"github.com/ehr/ipd/internal/domain/billing"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/telemetry"
	"github.com/ehr/ipd/pkg/apperr"
)

type stubAdmissions map[uuid.UUID]*admission.Admission

func (s stubAdmissions) Get(_ context.Context, id uuid.UUID) (*admission.Admission, error) {
	a, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("admission %s not found", id)
	}
	c := *a
	return &c, nil
}

// fakeSource derives candidates from the stubbed admissions and the memory
// ledger repo, the way the SQL join does.
type fakeSource struct {
	admissions stubAdmissions
	ledgers    *billing.MemoryLedgerRepo
	rates      map[uuid.UUID]decimal.Decimal
	extra      []Candidate
}

func (s *fakeSource) candidate(ctx context.Context, a *admission.Admission) (*Candidate, error) {
	if a.Status.Terminal() {
		return nil, apperr.NotFound("admission %s has no open ledger", a.ID)
	}
	l, err := s.ledgers.GetByAdmission(ctx, a.ID)
	if err != nil {
		return nil, apperr.NotFound("admission %s has no open ledger", a.ID)
	}
	return &Candidate{
		AdmissionID:    a.ID,
		LedgerID:       l.ID,
		BedID:          a.BedID,
		DailyRate:      s.rates[a.BedID],
		LastChargeDate: l.LastChargeDate,
	}, nil
}

func (s *fakeSource) OpenLedgers(ctx context.Context) ([]Candidate, error) {
	var out []Candidate
	for _, a := range s.admissions {
		if c, err := s.candidate(ctx, a); err == nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionID.String() < out[j].AdmissionID.String() })
	return append(out, s.extra...), nil
}

func (s *fakeSource) ForAdmission(ctx context.Context, id uuid.UUID) (*Candidate, error) {
	a, ok := s.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission %s has no open ledger", id)
	}
	return s.candidate(ctx, a)
}

type fakeTenants []string

func (t fakeTenants) Each(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error {
	for _, id := range t {
		if err := fn(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	scheduler  *Scheduler
	ledgers    *billing.LedgerService
	repo       *billing.MemoryLedgerRepo
	source     *fakeSource
	admissions stubAdmissions
	now        time.Time
}

func newFixture(loc *time.Location, tenants ...string) *fixture {
	if len(tenants) == 0 {
		tenants = []string{"default"}
	}
	f := &fixture{
		repo:       billing.NewMemoryLedgerRepo(),
		admissions: stubAdmissions{},
		now:        time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
	}
	f.source = &fakeSource{admissions: f.admissions, ledgers: f.repo, rates: map[uuid.UUID]decimal.Decimal{}}
	metrics := telemetry.New()
	f.ledgers = billing.NewLedgerService(f.repo, f.admissions, db.NoTx{}, metrics, zerolog.Nop(), loc)
	f.scheduler = NewScheduler(f.source, f.ledgers, f.admissions, fakeTenants(tenants), metrics, zerolog.Nop(),
		Config{Location: loc})
	f.scheduler.now = func() time.Time { return f.now }
	return f
}

// occupied admits a patient to a bed charging rate per day, with a ledger
// last charged on lastCharged (nil for never).
func (f *fixture) occupied(t *testing.T, rate string, lastCharged *time.Time) (*admission.Admission, *billing.Ledger) {
	t.Helper()
	a := &admission.Admission{
		ID:              uuid.New(),
		AdmissionNumber: "ADM-" + uuid.NewString()[:8],
		PatientID:       uuid.New(),
		BedID:           uuid.New(),
		WardID:          uuid.New(),
		AdmissionDate:   f.now.AddDate(0, 0, -1),
		Status:          admission.StatusStable,
	}
	f.admissions[a.ID] = a
	f.source.rates[a.BedID] = decimal.RequireFromString(rate)

	l := &billing.Ledger{
		BillNumber:     "IPB-" + uuid.NewString()[:8],
		AdmissionID:    a.ID,
		PatientID:      a.PatientID,
		BedCharges:     decimal.RequireFromString(rate),
		DayCount:       1,
		LastChargeDate: lastCharged,
	}
	l.Recompute()
	require.NoError(t, f.repo.Create(context.Background(), l))
	return a, l
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) ledger(t *testing.T, id uuid.UUID) *billing.Ledger {
	t.Helper()
	l, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return l
}

func TestRunOnce_ChargesOncePerDay(t *testing.T) {
	f := newFixture(time.UTC)
	_, l := f.occupied(t, "2500", date(2026, 3, 9))

	report, err := f.scheduler.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", report.Date)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Skipped)

	got := f.ledger(t, l.ID)
	assert.Equal(t, "5000.00", got.BedCharges.StringFixed(2))
	assert.Equal(t, 2, got.DayCount)
	assert.Equal(t, "2026-03-10", got.LastChargeDate.Format("2006-01-02"))
	assert.Equal(t, "5000.00", got.TotalAmount.StringFixed(2))

	f.now = f.now.Add(12 * time.Hour)
	report, err = f.scheduler.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, report.Applied)
	assert.Equal(t, 1, report.Skipped)

	again := f.ledger(t, l.ID)
	assert.Equal(t, "5000.00", again.BedCharges.StringFixed(2))
	assert.Equal(t, got.Version, again.Version)
}

func TestRunOnce_NextDayChargesAgain(t *testing.T) {
	f := newFixture(time.UTC)
	_, l := f.occupied(t, "1800", date(2026, 3, 9))

	for i := 0; i < 3; i++ {
		_, err := f.scheduler.RunOnce(context.Background(), TriggerSchedule)
		require.NoError(t, err)
		f.now = f.now.AddDate(0, 0, 1)
	}
	got := f.ledger(t, l.ID)
	// opening day plus three accruals
	assert.Equal(t, "7200.00", got.BedCharges.StringFixed(2))
	assert.Equal(t, 4, got.DayCount)
	assert.Equal(t, "2026-03-12", got.LastChargeDate.Format("2006-01-02"))
}

func TestRunOnce_SkipsZeroRateAndDischarged(t *testing.T) {
	f := newFixture(time.UTC)
	_, free := f.occupied(t, "0", nil)
	gone, _ := f.occupied(t, "2500", date(2026, 3, 9))
	f.admissions[gone.ID].Status = admission.StatusDischarged

	report, err := f.scheduler.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, report.Applied)
	assert.Equal(t, 1, report.Skipped, "discharged admissions are not candidates")
	assert.True(t, f.ledger(t, free.ID).BedCharges.IsZero())
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	f := newFixture(time.UTC)
	f.source.extra = []Candidate{{
		AdmissionID: uuid.New(),
		LedgerID:    uuid.New(),
		DailyRate:   decimal.NewFromInt(900),
	}}
	_, l := f.occupied(t, "2500", date(2026, 3, 9))

	report, err := f.scheduler.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "5000.00", f.ledger(t, l.ID).BedCharges.StringFixed(2))
}

func TestRunOnce_EveryTenantInScope(t *testing.T) {
	f := newFixture(time.UTC, "north", "south")
	f.occupied(t, "2500", date(2026, 3, 9))

	report, err := f.scheduler.RunOnce(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tenants)
	// both tenants see the same fake rows; the date guard stops a double charge
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Skipped)
}

func TestRunOnce_RefusesOverlap(t *testing.T) {
	f := newFixture(time.UTC)
	f.scheduler.running.Lock()
	defer f.scheduler.running.Unlock()

	report, err := f.scheduler.RunOnce(context.Background(), TriggerManual)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRunOnce_UsesDeploymentTimeZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	f := newFixture(ist)
	// 19:00 UTC on the 9th is already the 10th in IST
	f.now = time.Date(2026, 3, 9, 19, 0, 0, 0, time.UTC)
	_, l := f.occupied(t, "2500", date(2026, 3, 9))

	report, err := f.scheduler.RunOnce(context.Background(), TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", report.Date)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, "2026-03-10", f.ledger(t, l.ID).LastChargeDate.Format("2006-01-02"))
}

func TestAccrueAdmission(t *testing.T) {
	f := newFixture(time.UTC)
	a, _ := f.occupied(t, "2500", date(2026, 3, 9))
	ctx := context.Background()

	res, err := f.scheduler.AccrueAdmission(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "5000.00", res.Ledger.BedCharges.StringFixed(2))

	res, err = f.scheduler.AccrueAdmission(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "5000.00", res.Ledger.BedCharges.StringFixed(2))

	_, err = f.scheduler.AccrueAdmission(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.admissions[a.ID].Status = admission.StatusDischarged
	_, err = f.scheduler.AccrueAdmission(ctx, a.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestNextRun(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		name         string
		hour, minute int
		now          time.Time
		want         time.Time
	}{
		{"midnight tomorrow", 0, 0, time.Date(2026, 3, 10, 10, 0, 0, 0, ist), time.Date(2026, 3, 11, 0, 0, 0, 0, ist)},
		{"exactly at run time", 0, 0, time.Date(2026, 3, 10, 0, 0, 0, 0, ist), time.Date(2026, 3, 11, 0, 0, 0, 0, ist)},
		{"later today", 23, 30, time.Date(2026, 3, 10, 22, 0, 0, 0, ist), time.Date(2026, 3, 10, 23, 30, 0, 0, ist)},
		{"now in another zone", 1, 0, time.Date(2026, 3, 9, 19, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 1, 0, 0, 0, ist)},
		{"month rollover", 0, 0, time.Date(2026, 3, 31, 8, 0, 0, 0, ist), time.Date(2026, 4, 1, 0, 0, 0, 0, ist)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Scheduler{cfg: Config{Hour: tt.hour, Minute: tt.minute, Location: ist}}
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %s", s.NextRun(tt.now))
		})
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.scheduler.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
