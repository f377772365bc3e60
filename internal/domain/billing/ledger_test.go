package billing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ehr/ipd/internal/domain/admission"
	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/telemetry"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/docnum"
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

type fixture struct {
	ledgers    *LedgerService
	claims     *ClaimService
	repo       *MemoryLedgerRepo
	claimRepo  *MemoryClaimRepo
	admissions stubAdmissions
	metrics    *telemetry.Metrics
	now        time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:       NewMemoryLedgerRepo(),
		claimRepo:  NewMemoryClaimRepo(),
		admissions: stubAdmissions{},
		metrics:    telemetry.New(),
		now:        time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.ledgers = NewLedgerService(f.repo, f.admissions, db.NoTx{}, f.metrics, zerolog.Nop(), time.UTC)
	f.ledgers.now = clock
	f.claims = NewClaimService(f.claimRepo, f.ledgers, f.admissions, db.NoTx{}, zerolog.Nop())
	f.claims.now = clock
	return f
}

func (f *fixture) admit(admittedAt time.Time) *admission.Admission {
	a := &admission.Admission{
		ID:              uuid.New(),
		AdmissionNumber: docnum.New(docnum.PrefixAdmission, admittedAt),
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		BedID:           uuid.New(),
		WardID:          uuid.New(),
		AdmissionDate:   admittedAt,
		Status:          admission.StatusStable,
	}
	f.admissions[a.ID] = a
	return a
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal { v := d(s); return &v }

func admissionCharges() map[ChargeCategory]decimal.Decimal {
	return map[ChargeCategory]decimal.Decimal{
		ChargeBed:       d("2500"),
		ChargeRoom:      d("1000"),
		ChargeNursing:   d("1500"),
		ChargeDoctor:    d("3000"),
		ChargeMedicine:  d("1200"),
		ChargeLab:       d("1500"),
		ChargeRadiology: d("1000"),
	}
}

// openLedger opens a ledger with 11700 in charges and nothing paid.
func (f *fixture) openLedger(t *testing.T) *Ledger {
	t.Helper()
	a := f.admit(f.now.Add(-2 * time.Hour))
	l, err := f.ledgers.Create(context.Background(), CreateLedgerRequest{
		AdmissionID: a.ID,
		Charges:     admissionCharges(),
	})
	require.NoError(t, err)
	return l
}

// assertConserved checks the derived fields against the accumulators.
func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	sum := decimal.Zero
	for _, c := range Categories {
		sum = sum.Add(l.Charge(c))
	}
	assert.Equal(t, sum.StringFixed(2), l.Subtotal.StringFixed(2), "subtotal")
	total := sum.Add(l.Tax).Sub(l.Discount)
	assert.Equal(t, total.StringFixed(2), l.TotalAmount.StringFixed(2), "total")
	bal := decimal.Max(decimal.Zero, total.Sub(l.PaidAmount).Sub(l.InsuranceApproved))
	assert.Equal(t, bal.StringFixed(2), l.BalanceAmount.StringFixed(2), "balance")
}

func TestCreate_TotalsFromInitialCharges(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)

	assert.Equal(t, "11700.00", l.Subtotal.StringFixed(2))
	assert.Equal(t, "11700.00", l.TotalAmount.StringFixed(2))
	assert.Equal(t, "0.00", l.PaidAmount.StringFixed(2))
	assert.Equal(t, "11700.00", l.BalanceAmount.StringFixed(2))
	assert.Equal(t, PaymentPending, l.PaymentStatus)
	assert.Equal(t, 1, l.DayCount)
	require.NotNil(t, l.LastChargeDate)
	assert.Equal(t, "2026-03-10", l.LastChargeDate.Format("2006-01-02"))
	assert.True(t, strings.HasPrefix(l.BillNumber, "IPB-20260310-"), l.BillNumber)
	assert.True(t, docnum.Valid(l.BillNumber))
	assertConserved(t, l)

	got, err := f.ledgers.GetByAdmission(context.Background(), l.AdmissionID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
}

func TestCreate_DayCountFromAdmission(t *testing.T) {
	f := newFixture()
	a := f.admit(time.Date(2026, 3, 7, 23, 50, 0, 0, time.UTC))

	l, err := f.ledgers.Create(context.Background(), CreateLedgerRequest{
		AdmissionID: a.ID,
		Charges:     map[ChargeCategory]decimal.Decimal{ChargeLab: d("400")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, l.DayCount)
	assert.Nil(t, l.LastChargeDate, "no bed charge means no accrual baseline")
	assert.Equal(t, a.PatientID, l.PatientID)
}

func TestCreate_EmptyLedgerIsCompleted(t *testing.T) {
	f := newFixture()
	a := f.admit(f.now)
	l, err := f.ledgers.Create(context.Background(), CreateLedgerRequest{AdmissionID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, l.PaymentStatus)
	assert.True(t, l.BalanceAmount.IsZero())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	a := f.admit(f.now)

	tests := []struct {
		name string
		req  CreateLedgerRequest
		kind apperr.Kind
	}{
		{"missing admission", CreateLedgerRequest{}, apperr.KindInvalidArgument},
		{"unknown admission", CreateLedgerRequest{AdmissionID: uuid.New()}, apperr.KindNotFound},
		{"negative charge", CreateLedgerRequest{AdmissionID: a.ID,
			Charges: map[ChargeCategory]decimal.Decimal{ChargeLab: d("-1")}}, apperr.KindInvalidArgument},
		{"unknown category", CreateLedgerRequest{AdmissionID: a.ID,
			Charges: map[ChargeCategory]decimal.Decimal{"SPA": d("10")}}, apperr.KindInvalidArgument},
		{"sub-cent amount", CreateLedgerRequest{AdmissionID: a.ID,
			Charges: map[ChargeCategory]decimal.Decimal{ChargeLab: d("10.005")}}, apperr.KindInvalidArgument},
		{"negative tax", CreateLedgerRequest{AdmissionID: a.ID, Tax: d("-5")}, apperr.KindInvalidArgument},
		{"discount above total", CreateLedgerRequest{AdmissionID: a.ID,
			Charges:  map[ChargeCategory]decimal.Decimal{ChargeLab: d("100")},
			Discount: d("150")}, apperr.KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledgers.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
	_, total, _ := f.repo.List(context.Background(), LedgerFilter{}, 10, 0)
	assert.Zero(t, total, "rejected requests must not create ledgers")
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	_, err := f.ledgers.Create(context.Background(), CreateLedgerRequest{AdmissionID: l.AdmissionID})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRecordPayment_FullSettlementCompletes(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	ctx := context.WithValue(context.Background(), auth.UserIDKey, "cashier-3")
	txn := "RCPT-991"

	l, err := f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("11700"), Method: MethodCash, TransactionID: &txn})
	require.NoError(t, err)
	assert.Equal(t, "11700.00", l.PaidAmount.StringFixed(2))
	assert.Equal(t, "0.00", l.BalanceAmount.StringFixed(2))
	assert.Equal(t, PaymentCompleted, l.PaymentStatus)
	require.NotNil(t, l.PaymentMethod)
	assert.Equal(t, MethodCash, *l.PaymentMethod)
	require.NotNil(t, l.PaymentDate)
	assert.Equal(t, f.now, *l.PaymentDate)

	_, err = f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("1"), Method: MethodCash})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	stored, err := f.ledgers.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "11700.00", stored.PaidAmount.StringFixed(2), "rejected payment must not change the ledger")

	payments, err := f.ledgers.ListPayments(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.NotNil(t, payments[0].ReceivedBy)
	assert.Equal(t, "cashier-3", *payments[0].ReceivedBy)
	assert.Equal(t, "RCPT-991", *payments[0].TransactionID)
}

func TestRecordPayment_Partial(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)

	l, err := f.ledgers.RecordPayment(context.Background(), l.ID, PaymentRequest{Amount: d("5000"), Method: MethodUPI})
	require.NoError(t, err)
	assert.Equal(t, PaymentPartial, l.PaymentStatus)
	assert.Equal(t, "6700.00", l.BalanceAmount.StringFixed(2))

	_, err = f.ledgers.RecordPayment(context.Background(), l.ID, PaymentRequest{Amount: d("0"), Method: MethodUPI})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.ledgers.RecordPayment(context.Background(), l.ID, PaymentRequest{Amount: d("10"), Method: "BARTER"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.ledgers.RecordPayment(context.Background(), uuid.New(), PaymentRequest{Amount: d("10"), Method: MethodCash})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddCharge(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)

	l, err := f.ledgers.AddCharge(context.Background(), l.ID, ChargeRequest{
		Category: ChargeLab, Amount: d("250.50"), Description: "CBC panel",
	})
	require.NoError(t, err)
	assert.Equal(t, "1750.50", l.LabCharges.StringFixed(2))
	assert.Equal(t, "11950.50", l.TotalAmount.StringFixed(2))
	assert.Contains(t, l.Notes, "+LAB 250.50: CBC panel")
	assertConserved(t, l)

	_, err = f.ledgers.AddCharge(context.Background(), l.ID, ChargeRequest{Category: ChargeLab, Amount: d("0")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.ledgers.AddCharge(context.Background(), l.ID, ChargeRequest{Category: "SPA", Amount: d("5")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestAddCharge_ReopensCompletedLedger(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	_, err := f.ledgers.RecordPayment(context.Background(), l.ID, PaymentRequest{Amount: d("11700"), Method: MethodCard})
	require.NoError(t, err)

	l, err = f.ledgers.AddCharge(context.Background(), l.ID, ChargeRequest{Category: ChargeMedicine, Amount: d("300")})
	require.NoError(t, err)
	assert.Equal(t, PaymentPartial, l.PaymentStatus)
	assert.Equal(t, "300.00", l.BalanceAmount.StringFixed(2))
}

func TestLedger_Conservation(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	ctx := context.Background()

	steps := []func() (*Ledger, error){
		func() (*Ledger, error) {
			return f.ledgers.AddCharge(ctx, l.ID, ChargeRequest{Category: ChargeSurgery, Amount: d("18000")})
		},
		func() (*Ledger, error) {
			return f.ledgers.Update(ctx, l.ID, UpdateLedgerRequest{Discount: dp("1200"), Tax: dp("540.25")})
		},
		func() (*Ledger, error) {
			return f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("10000"), Method: MethodCard})
		},
		func() (*Ledger, error) {
			return f.ledgers.ApplyInsurance(ctx, l.ID, d("15000"), d("12000"))
		},
		func() (*Ledger, error) {
			return f.ledgers.AddCharge(ctx, l.ID, ChargeRequest{Category: ChargeAmbulance, Amount: d("850")})
		},
	}
	for i, step := range steps {
		got, err := step()
		require.NoError(t, err, "step %d", i)
		assertConserved(t, got)
	}

	final, err := f.ledgers.Get(ctx, l.ID)
	require.NoError(t, err)
	// 11700 + 18000 + 850 + 540.25 - 1200 = 29890.25; minus 10000 paid and 12000 insured
	assert.Equal(t, "29890.25", final.TotalAmount.StringFixed(2))
	assert.Equal(t, "7890.25", final.BalanceAmount.StringFixed(2))
	assert.Equal(t, PaymentPartial, final.PaymentStatus)
}

func TestApplyDailyAccrual_Idempotent(t *testing.T) {
	f := newFixture()
	yesterday := f.now.AddDate(0, 0, -1)
	f.now = yesterday
	l := f.openLedger(t)
	require.Equal(t, "2026-03-09", l.LastChargeDate.Format("2006-01-02"))

	today := yesterday.AddDate(0, 0, 1)
	f.now = today
	ctx := context.Background()

	applied, err := f.ledgers.ApplyDailyAccrual(ctx, l.ID, d("2500"), today)
	require.NoError(t, err)
	assert.True(t, applied)

	l, err = f.ledgers.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", l.BedCharges.StringFixed(2))
	assert.Equal(t, 2, l.DayCount)
	assert.Equal(t, "2026-03-10", l.LastChargeDate.Format("2006-01-02"))
	assertConserved(t, l)

	// later the same day
	applied, err = f.ledgers.ApplyDailyAccrual(ctx, l.ID, d("2500"), today.Add(10*time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	again, err := f.ledgers.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000.00", again.BedCharges.StringFixed(2))
	assert.Equal(t, 2, again.DayCount)
	assert.Equal(t, l.Version, again.Version, "a skipped accrual writes nothing")
}

func TestApplyDailyAccrual_ZeroRate(t *testing.T) {
	f := newFixture()
	a := f.admit(f.now)
	l, err := f.ledgers.Create(context.Background(), CreateLedgerRequest{AdmissionID: a.ID})
	require.NoError(t, err)

	applied, err := f.ledgers.ApplyDailyAccrual(context.Background(), l.ID, decimal.Zero, f.now)
	require.NoError(t, err)
	assert.False(t, applied)

	// first accrual on a ledger without a baseline
	applied, err = f.ledgers.ApplyDailyAccrual(context.Background(), l.ID, d("900"), f.now)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestUpdate(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	ctx := context.Background()

	notes := "corporate discount"
	l, err := f.ledgers.Update(ctx, l.ID, UpdateLedgerRequest{Discount: dp("700"), Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "11000.00", l.TotalAmount.StringFixed(2))
	assert.Equal(t, "corporate discount", l.Notes)

	_, err = f.ledgers.Update(ctx, l.ID, UpdateLedgerRequest{Discount: dp("20000")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("10500"), Method: MethodCash})
	require.NoError(t, err)
	_, err = f.ledgers.Update(ctx, l.ID, UpdateLedgerRequest{Discount: dp("1500")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument, "total may not drop below paid")
}

func TestApplyInsurance(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	ctx := context.Background()

	_, err := f.ledgers.ApplyInsurance(ctx, l.ID, decimal.Zero, d("-1"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.ledgers.ApplyInsurance(ctx, l.ID, d("-1"), decimal.Zero)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	l, err = f.ledgers.ApplyInsurance(ctx, l.ID, d("20000"), d("20000"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", l.BalanceAmount.StringFixed(2), "balance is clamped")
	assert.Equal(t, PaymentCompleted, l.PaymentStatus)
}

func TestRecordPayment_CappedByTotalNotInsurance(t *testing.T) {
	f := newFixture()
	l := f.openLedger(t)
	ctx := context.Background()

	_, err := f.ledgers.ApplyInsurance(ctx, l.ID, d("5000"), d("5000"))
	require.NoError(t, err)

	l, err = f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("11700"), Method: MethodCash})
	require.NoError(t, err)
	assert.Equal(t, "11700.00", l.PaidAmount.StringFixed(2))
	assert.Equal(t, "0.00", l.BalanceAmount.StringFixed(2), "paid plus insurance beyond the total clamps to zero")
	assert.Equal(t, PaymentCompleted, l.PaymentStatus)
	assert.Equal(t, "0.00", l.Payable().StringFixed(2))

	_, err = f.ledgers.RecordPayment(ctx, l.ID, PaymentRequest{Amount: d("0.01"), Method: MethodCash})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestListAndSummaries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	wardA, deptA := uuid.New(), uuid.New()
	wardB, deptB := uuid.New(), uuid.New()

	l1 := f.openLedger(t)
	l2 := f.openLedger(t)
	l3 := f.openLedger(t)
	f.repo.Place(l1.AdmissionID, wardA, deptA)
	f.repo.Place(l2.AdmissionID, wardA, deptA)
	f.repo.Place(l3.AdmissionID, wardB, deptB)

	_, err := f.ledgers.RecordPayment(ctx, l2.ID, PaymentRequest{Amount: d("1700"), Method: MethodCash})
	require.NoError(t, err)
	_, err = f.ledgers.RecordPayment(ctx, l3.ID, PaymentRequest{Amount: d("11700"), Method: MethodCash})
	require.NoError(t, err)

	items, total, err := f.ledgers.List(ctx, LedgerFilter{WardID: &wardA}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	_, total, err = f.ledgers.List(ctx, LedgerFilter{DepartmentID: &deptB, Status: []PaymentStatus{PaymentCompleted}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, _, err = f.ledgers.List(ctx, LedgerFilter{Status: []PaymentStatus{"OVERDUE"}}, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	pending, err := f.ledgers.PendingSummary(ctx, LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, pending.Count)
	assert.Equal(t, "23400.00", pending.TotalAmount.StringFixed(2))
	assert.Equal(t, "1700.00", pending.PaidAmount.StringFixed(2))
	assert.Equal(t, "21700.00", pending.BalanceAmount.StringFixed(2))

	completed, err := f.ledgers.CompletedSummary(ctx, LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, completed.Count)
	assert.Equal(t, "11700.00", completed.PaidAmount.StringFixed(2))

	wardPending, err := f.ledgers.PendingSummary(ctx, LedgerFilter{WardID: &wardB})
	require.NoError(t, err)
	assert.Zero(t, wardPending.Count)
}

func TestExport(t *testing.T) {
	f := newFixture()
	l1 := f.openLedger(t)
	f.openLedger(t)

	data, err := f.ledgers.Export(context.Background(), LedgerFilter{})
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Bill Number", rows[0][0])
	assert.Equal(t, "BED", rows[0][6])

	var found bool
	for _, r := range rows[1:] {
		if r[0] == l1.BillNumber {
			found = true
			assert.Equal(t, "PENDING", r[3])
			assert.Equal(t, "2500", r[6])
		}
	}
	assert.True(t, found, "exported rows should include %s", l1.BillNumber)
}

func TestRecompute_StatusDerivation(t *testing.T) {
	l := &Ledger{BedCharges: d("1000")}
	l.Recompute()
	assert.Equal(t, PaymentPending, l.PaymentStatus)

	l.InsuranceApproved = d("200")
	l.Recompute()
	assert.Equal(t, PaymentPartial, l.PaymentStatus)

	l.PaidAmount = d("800")
	l.Recompute()
	assert.Equal(t, PaymentCompleted, l.PaymentStatus)
	assert.True(t, l.BalanceAmount.IsZero())
}

func TestCalendarHelpers(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2026, 3, 9, 23, 30, 0, 0, ist)
	assert.Equal(t, "2026-03-09", civilDate(late).Format("2006-01-02"))

	stored := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.True(t, sameDay(&stored, late))
	assert.False(t, sameDay(&stored, late.Add(time.Hour)))
	assert.False(t, sameDay(nil, late))

	assert.Equal(t, 3, daysBetween(time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)))
	assert.True(t, isCents(d("12.30")))
	assert.False(t, isCents(d("12.305")))
}
