package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/domain/admission"
	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/telemetry"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/docnum"
)

// AdmissionReader is the slice of the admission service billing depends on.
type AdmissionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*admission.Admission, error)
}

// LedgerService owns the per-admission billing ledger. Every write locks the
// ledger row and recomputes the derived totals before saving.
type LedgerService struct {
	repo       LedgerRepository
	admissions AdmissionReader
	tx         db.TxRunner
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	loc        *time.Location
	now        func() time.Time
}

// NewLedgerService builds the service. loc is the deployment time zone used
// for calendar days; nil means time.Local.
func NewLedgerService(repo LedgerRepository, admissions AdmissionReader, tx db.TxRunner, metrics *telemetry.Metrics, logger zerolog.Logger, loc *time.Location) *LedgerService {
	if loc == nil {
		loc = time.Local
	}
	return &LedgerService{
		repo:       repo,
		admissions: admissions,
		tx:         tx,
		metrics:    metrics,
		logger:     logger,
		loc:        loc,
		now:        time.Now,
	}
}

// Today returns the current calendar day in the deployment time zone.
func (s *LedgerService) Today() time.Time {
	return s.now().In(s.loc)
}

func checkMoney(name string, d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.InvalidArgument("%s must not be negative", name)
	}
	if !isCents(d) {
		return apperr.InvalidArgument("%s has more than two decimal places", name)
	}
	return nil
}

func checkPositive(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.InvalidArgument("%s must be greater than zero", name)
	}
	return checkMoney(name, d)
}

type CreateLedgerRequest struct {
	AdmissionID uuid.UUID                          `json:"admission_id"`
	Charges     map[ChargeCategory]decimal.Decimal `json:"charges,omitempty"`
	Discount    decimal.Decimal                    `json:"discount"`
	Tax         decimal.Decimal                    `json:"tax"`
	Notes       string                             `json:"notes,omitempty"`
}

// Create opens the ledger for an admission. day_count starts at the number
// of calendar days since admission (at least 1); a BED opening charge counts
// as today's accrual.
func (s *LedgerService) Create(ctx context.Context, req CreateLedgerRequest) (*Ledger, error) {
	if req.AdmissionID == uuid.Nil {
		return nil, apperr.InvalidArgument("admission_id is required")
	}
	for cat, amt := range req.Charges {
		if !cat.Valid() {
			return nil, apperr.InvalidArgument("invalid charge category: %s", cat)
		}
		if err := checkMoney(string(cat)+" charge", amt); err != nil {
			return nil, err
		}
	}
	if err := checkMoney("discount", req.Discount); err != nil {
		return nil, err
	}
	if err := checkMoney("tax", req.Tax); err != nil {
		return nil, err
	}

	adm, err := s.admissions.Get(ctx, req.AdmissionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByAdmission(ctx, req.AdmissionID); err == nil {
		return nil, apperr.Conflict("admission %s already has a ledger", adm.AdmissionNumber)
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	today := s.Today()
	l := &Ledger{
		BillNumber:  docnum.New(docnum.PrefixBill, today),
		AdmissionID: adm.ID,
		PatientID:   adm.PatientID,
		Discount:    req.Discount,
		Tax:         req.Tax,
		Notes:       req.Notes,
	}
	for cat, amt := range req.Charges {
		l.addCharge(cat, amt)
	}
	l.Recompute()
	if l.TotalAmount.IsNegative() {
		return nil, apperr.InvalidArgument("discount %s exceeds subtotal plus tax", l.Discount)
	}
	l.DayCount = daysBetween(adm.AdmissionDate.In(s.loc), today)
	if l.DayCount < 1 {
		l.DayCount = 1
	}
	if l.BedCharges.IsPositive() {
		d := civilDate(today)
		l.LastChargeDate = &d
	}

	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("ledger_id", l.ID.String()).
		Str("bill_number", l.BillNumber).
		Str("admission_id", l.AdmissionID.String()).
		Msg("ledger opened")
	return l, nil
}

func (s *LedgerService) Get(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return s.repo.Get(ctx, id)
}

func (s *LedgerService) GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*Ledger, error) {
	return s.repo.GetByAdmission(ctx, admissionID)
}

func (s *LedgerService) List(ctx context.Context, f LedgerFilter, limit, offset int) ([]*Ledger, int, error) {
	if err := validateFilter(f); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f, limit, offset)
}

func validateFilter(f LedgerFilter) error {
	for _, st := range f.Status {
		if !st.Valid() {
			return apperr.InvalidArgument("invalid payment_status: %s", st)
		}
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && !f.CreatedFrom.Before(*f.CreatedTo) {
		return apperr.InvalidArgument("created_from must precede created_to")
	}
	return nil
}

// PendingSummary aggregates ledgers that still carry a balance.
func (s *LedgerService) PendingSummary(ctx context.Context, f LedgerFilter) (*Summary, error) {
	f.Status = []PaymentStatus{PaymentPending, PaymentPartial}
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return s.repo.Summarize(ctx, f)
}

func (s *LedgerService) CompletedSummary(ctx context.Context, f LedgerFilter) (*Summary, error) {
	f.Status = []PaymentStatus{PaymentCompleted}
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return s.repo.Summarize(ctx, f)
}

// errUnchanged lets a mutate callback finish without writing.
var errUnchanged = errors.New("ledger unchanged")

// mutate runs fn on the locked ledger, recomputes and saves it.
func (s *LedgerService) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, l *Ledger) error) (*Ledger, error) {
	var out *Ledger
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, l); err != nil {
			if errors.Is(err, errUnchanged) {
				out = l
				return nil
			}
			return err
		}
		l.Recompute()
		if err := s.repo.Update(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ChargeRequest struct {
	Category    ChargeCategory  `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// AddCharge adds to one accumulator and appends an audit line to the notes.
func (s *LedgerService) AddCharge(ctx context.Context, ledgerID uuid.UUID, req ChargeRequest) (*Ledger, error) {
	if !req.Category.Valid() {
		return nil, apperr.InvalidArgument("invalid charge category: %s", req.Category)
	}
	if err := checkPositive("amount", req.Amount); err != nil {
		return nil, err
	}
	l, err := s.mutate(ctx, ledgerID, func(_ context.Context, l *Ledger) error {
		l.addCharge(req.Category, req.Amount)
		line := "+" + string(req.Category) + " " + req.Amount.StringFixed(2)
		if req.Description != "" {
			line += ": " + req.Description
		}
		l.appendNote(s.now(), line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerCharge(string(req.Category))
	return l, nil
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	TransactionID *string         `json:"transaction_id,omitempty"`
}

// RecordPayment applies a patient payment. The paid total may reach but not
// exceed the ledger total; insurance only lowers the clamped balance.
func (s *LedgerService) RecordPayment(ctx context.Context, ledgerID uuid.UUID, req PaymentRequest) (*Ledger, error) {
	if err := checkPositive("amount", req.Amount); err != nil {
		return nil, err
	}
	if !req.Method.Valid() {
		return nil, apperr.InvalidArgument("invalid payment method: %s", req.Method)
	}
	now := s.now()
	l, err := s.mutate(ctx, ledgerID, func(ctx context.Context, l *Ledger) error {
		if l.PaidAmount.Add(req.Amount).GreaterThan(l.TotalAmount) {
			return apperr.InvalidArgument("overpayment: %s exceeds payable %s",
				req.Amount.StringFixed(2), l.Payable().StringFixed(2))
		}
		l.PaidAmount = l.PaidAmount.Add(req.Amount)
		method := req.Method
		l.PaymentMethod = &method
		l.TransactionID = req.TransactionID
		l.PaymentDate = &now

		p := &Payment{
			LedgerID:      l.ID,
			Amount:        req.Amount,
			Method:        req.Method,
			TransactionID: req.TransactionID,
		}
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			p.ReceivedBy = &uid
		}
		return s.repo.CreatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerPayment(string(req.Method))
	s.logger.Info().
		Str("ledger_id", ledgerID.String()).
		Str("amount", req.Amount.StringFixed(2)).
		Str("method", string(req.Method)).
		Str("payment_status", string(l.PaymentStatus)).
		Msg("payment recorded")
	return l, nil
}

func (s *LedgerService) ListPayments(ctx context.Context, ledgerID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repo.Get(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, ledgerID)
}

// ApplyDailyAccrual charges one day of the bed's rate. It is a no-op when the
// rate is not positive or the ledger was already charged for today, so
// repeated or concurrent triggers charge at most once per day.
func (s *LedgerService) ApplyDailyAccrual(ctx context.Context, ledgerID uuid.UUID, dailyRate decimal.Decimal, today time.Time) (bool, error) {
	if !dailyRate.IsPositive() {
		return false, nil
	}
	applied := false
	_, err := s.mutate(ctx, ledgerID, func(_ context.Context, l *Ledger) error {
		if sameDay(l.LastChargeDate, today) {
			return errUnchanged
		}
		l.BedCharges = l.BedCharges.Add(dailyRate)
		l.DayCount++
		d := civilDate(today)
		l.LastChargeDate = &d
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

type UpdateLedgerRequest struct {
	Discount *decimal.Decimal `json:"discount,omitempty"`
	Tax      *decimal.Decimal `json:"tax,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
}

// Update changes the client-editable fields. Totals, balance and status are
// always recomputed.
func (s *LedgerService) Update(ctx context.Context, ledgerID uuid.UUID, req UpdateLedgerRequest) (*Ledger, error) {
	if req.Discount != nil {
		if err := checkMoney("discount", *req.Discount); err != nil {
			return nil, err
		}
	}
	if req.Tax != nil {
		if err := checkMoney("tax", *req.Tax); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, ledgerID, func(_ context.Context, l *Ledger) error {
		if req.Discount != nil {
			l.Discount = *req.Discount
		}
		if req.Tax != nil {
			l.Tax = *req.Tax
		}
		if req.Notes != nil {
			l.Notes = *req.Notes
		}
		total := l.Subtotal.Add(l.Tax).Sub(l.Discount)
		if total.IsNegative() {
			return apperr.InvalidArgument("discount %s exceeds subtotal plus tax", l.Discount)
		}
		if l.PaidAmount.GreaterThan(total) {
			return apperr.InvalidArgument("total %s would fall below the amount already paid", total.StringFixed(2))
		}
		return nil
	})
}
