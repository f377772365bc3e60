package billing

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

type ledgerRepoPG struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepoPG{pool: pool}
}

func (r *ledgerRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

var ledgerColumns = []string{"id", "bill_number", "admission_id", "patient_id",
	"bed_charges", "room_charges", "icu_charges", "nursing_charges", "doctor_fees",
	"consultation_charges", "procedure_charges", "surgery_charges", "lab_charges",
	"radiology_charges", "pathology_charges", "medicine_charges", "injection_charges",
	"equipment_charges", "ambulance_charges", "miscellaneous_charges",
	"discount", "tax", "subtotal", "total_amount", "paid_amount", "balance_amount",
	"insurance_claimed", "insurance_approved", "day_count", "last_charge_date",
	"payment_status", "payment_method", "transaction_id", "payment_date", "notes",
	"version", "created_at", "updated_at"}

var ledgerCols = strings.Join(ledgerColumns, ", ")

func scanLedger(row pgx.Row) (*Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.BillNumber, &l.AdmissionID, &l.PatientID,
		&l.BedCharges, &l.RoomCharges, &l.ICUCharges, &l.NursingCharges, &l.DoctorFees,
		&l.ConsultationCharges, &l.ProcedureCharges, &l.SurgeryCharges, &l.LabCharges,
		&l.RadiologyCharges, &l.PathologyCharges, &l.MedicineCharges, &l.InjectionCharges,
		&l.EquipmentCharges, &l.AmbulanceCharges, &l.MiscellaneousCharges,
		&l.Discount, &l.Tax, &l.Subtotal, &l.TotalAmount, &l.PaidAmount, &l.BalanceAmount,
		&l.InsuranceClaimed, &l.InsuranceApproved, &l.DayCount, &l.LastChargeDate,
		&l.PaymentStatus, &l.PaymentMethod, &l.TransactionID, &l.PaymentDate, &l.Notes,
		&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *ledgerRepoPG) Create(ctx context.Context, l *Ledger) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_ledger (id, bill_number, admission_id, patient_id,
			bed_charges, room_charges, icu_charges, nursing_charges, doctor_fees,
			consultation_charges, procedure_charges, surgery_charges, lab_charges,
			radiology_charges, pathology_charges, medicine_charges, injection_charges,
			equipment_charges, ambulance_charges, miscellaneous_charges,
			discount, tax, subtotal, total_amount, paid_amount, balance_amount,
			insurance_claimed, insurance_approved, day_count, last_charge_date,
			payment_status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
		RETURNING version, created_at, updated_at`,
		l.ID, l.BillNumber, l.AdmissionID, l.PatientID,
		l.BedCharges, l.RoomCharges, l.ICUCharges, l.NursingCharges, l.DoctorFees,
		l.ConsultationCharges, l.ProcedureCharges, l.SurgeryCharges, l.LabCharges,
		l.RadiologyCharges, l.PathologyCharges, l.MedicineCharges, l.InjectionCharges,
		l.EquipmentCharges, l.AmbulanceCharges, l.MiscellaneousCharges,
		l.Discount, l.Tax, l.Subtotal, l.TotalAmount, l.PaidAmount, l.BalanceAmount,
		l.InsuranceClaimed, l.InsuranceApproved, l.DayCount, l.LastChargeDate,
		l.PaymentStatus, l.Notes,
	).Scan(&l.Version, &l.CreatedAt, &l.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "billing_ledger_admission_key"):
		return apperr.Conflict("admission %s already has a ledger", l.AdmissionID)
	case db.IsUniqueViolation(err, "billing_ledger_bill_number_key"):
		return apperr.Conflict("bill number %s already exists", l.BillNumber)
	case err != nil:
		return apperr.Internal("insert ledger", err)
	}
	return nil
}

func (r *ledgerRepoPG) one(ctx context.Context, what string, query string, arg interface{}) (*Ledger, error) {
	l, err := scanLedger(r.conn(ctx).QueryRow(ctx, query, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("%s not found", what)
	}
	if err != nil {
		return nil, apperr.Internal("load ledger", err)
	}
	return l, nil
}

func (r *ledgerRepoPG) Get(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return r.one(ctx, "ledger "+id.String(),
		`SELECT `+ledgerCols+` FROM billing_ledger WHERE id = $1`, id)
}

func (r *ledgerRepoPG) GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*Ledger, error) {
	return r.one(ctx, "ledger for admission "+admissionID.String(),
		`SELECT `+ledgerCols+` FROM billing_ledger WHERE admission_id = $1`, admissionID)
}

func (r *ledgerRepoPG) Lock(ctx context.Context, id uuid.UUID) (*Ledger, error) {
	return r.one(ctx, "ledger "+id.String(),
		`SELECT `+ledgerCols+` FROM billing_ledger WHERE id = $1 FOR UPDATE`, id)
}

func (r *ledgerRepoPG) Update(ctx context.Context, l *Ledger) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE billing_ledger SET
			bed_charges=$3, room_charges=$4, icu_charges=$5, nursing_charges=$6, doctor_fees=$7,
			consultation_charges=$8, procedure_charges=$9, surgery_charges=$10, lab_charges=$11,
			radiology_charges=$12, pathology_charges=$13, medicine_charges=$14, injection_charges=$15,
			equipment_charges=$16, ambulance_charges=$17, miscellaneous_charges=$18,
			discount=$19, tax=$20, subtotal=$21, total_amount=$22, paid_amount=$23,
			balance_amount=$24, insurance_claimed=$25, insurance_approved=$26, day_count=$27,
			last_charge_date=$28, payment_status=$29, payment_method=$30, transaction_id=$31,
			payment_date=$32, notes=$33, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		l.ID, l.Version,
		l.BedCharges, l.RoomCharges, l.ICUCharges, l.NursingCharges, l.DoctorFees,
		l.ConsultationCharges, l.ProcedureCharges, l.SurgeryCharges, l.LabCharges,
		l.RadiologyCharges, l.PathologyCharges, l.MedicineCharges, l.InjectionCharges,
		l.EquipmentCharges, l.AmbulanceCharges, l.MiscellaneousCharges,
		l.Discount, l.Tax, l.Subtotal, l.TotalAmount, l.PaidAmount,
		l.BalanceAmount, l.InsuranceClaimed, l.InsuranceApproved, l.DayCount,
		l.LastChargeDate, l.PaymentStatus, l.PaymentMethod, l.TransactionID,
		l.PaymentDate, l.Notes,
	).Scan(&l.Version, &l.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("ledger %s was modified concurrently", l.ID)
	}
	if err != nil {
		return apperr.Internal("update ledger", err)
	}
	return nil
}

// ledgerQuery selects ledgers joined to their admission and ward so the
// ward and department filters can apply.
func ledgerQuery(f LedgerFilter) *goqu.SelectDataset {
	ds := db.From(goqu.T("billing_ledger").As("l")).
		LeftJoin(goqu.T("admission").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("l.admission_id")))).
		LeftJoin(goqu.T("ward").As("w"), goqu.On(goqu.I("w.id").Eq(goqu.I("a.ward_id"))))

	cols := make([]interface{}, len(ledgerColumns))
	for i, c := range ledgerColumns {
		cols[i] = goqu.I("l." + c)
	}
	ds = ds.Select(cols...)

	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, s := range f.Status {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.I("l.payment_status").In(statuses))
	}
	if f.WardID != nil {
		ds = ds.Where(goqu.I("a.ward_id").Eq(*f.WardID))
	}
	if f.DepartmentID != nil {
		ds = ds.Where(goqu.I("w.department_id").Eq(*f.DepartmentID))
	}
	if f.PatientID != nil {
		ds = ds.Where(goqu.I("l.patient_id").Eq(*f.PatientID))
	}
	if f.CreatedFrom != nil {
		ds = ds.Where(goqu.I("l.created_at").Gte(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		ds = ds.Where(goqu.I("l.created_at").Lt(*f.CreatedTo))
	}
	return ds
}

func (r *ledgerRepoPG) List(ctx context.Context, f LedgerFilter, limit, offset int) ([]*Ledger, int, error) {
	ds := ledgerQuery(f)

	countSQL, countArgs, err := db.CountOf(ds).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build ledger count", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count ledgers", err)
	}

	sql, args, err := ds.Order(goqu.I("l.created_at").Desc(), goqu.I("l.id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build ledger list", err)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list ledgers", err)
	}
	defer rows.Close()

	var out []*Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan ledger", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func (r *ledgerRepoPG) Summarize(ctx context.Context, f LedgerFilter) (*Summary, error) {
	ds := ledgerQuery(f).ClearSelect().Select(
		goqu.COUNT(goqu.Star()),
		goqu.COALESCE(goqu.SUM(goqu.I("l.total_amount")), 0),
		goqu.COALESCE(goqu.SUM(goqu.I("l.paid_amount")), 0),
		goqu.COALESCE(goqu.SUM(goqu.I("l.insurance_approved")), 0),
		goqu.COALESCE(goqu.SUM(goqu.I("l.balance_amount")), 0),
	)
	sql, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperr.Internal("build ledger summary", err)
	}
	var s Summary
	if err := r.conn(ctx).QueryRow(ctx, sql, args...).Scan(
		&s.Count, &s.TotalAmount, &s.PaidAmount, &s.InsuranceApproved, &s.BalanceAmount,
	); err != nil {
		return nil, apperr.Internal("summarize ledgers", err)
	}
	return &s, nil
}

func (r *ledgerRepoPG) CreatePayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ledger_payment (id, ledger_id, amount, method, transaction_id, received_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING paid_at`,
		p.ID, p.LedgerID, p.Amount, p.Method, p.TransactionID, p.ReceivedBy,
	).Scan(&p.PaidAt)
	if err != nil {
		return apperr.Internal("insert payment", err)
	}
	return nil
}

func (r *ledgerRepoPG) ListPayments(ctx context.Context, ledgerID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ledger_id, amount, method, transaction_id, received_by, paid_at
		FROM ledger_payment WHERE ledger_id = $1 ORDER BY paid_at, id`, ledgerID)
	if err != nil {
		return nil, apperr.Internal("list payments", err)
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.LedgerID, &p.Amount, &p.Method, &p.TransactionID,
			&p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, apperr.Internal("scan payment", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
