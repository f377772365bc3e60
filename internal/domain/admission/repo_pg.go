package admission

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const admCols = `id, admission_number, patient_id, doctor_id, bed_id, ward_id, admission_date,
	status, reason, diagnosis, notes, expected_discharge_date, discharge_date, version,
	created_at, updated_at`

var admColList = []interface{}{"id", "admission_number", "patient_id", "doctor_id", "bed_id",
	"ward_id", "admission_date", "status", "reason", "diagnosis", "notes",
	"expected_discharge_date", "discharge_date", "version", "created_at", "updated_at"}

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.AdmissionNumber, &a.PatientID, &a.DoctorID, &a.BedID, &a.WardID,
		&a.AdmissionDate, &a.Status, &a.Reason, &a.Diagnosis, &a.Notes,
		&a.ExpectedDischargeDate, &a.DischargeDate, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func admissionErr(err error, id uuid.UUID) error {
	if db.IsNoRows(err) {
		return apperr.NotFound("admission %s not found", id)
	}
	return apperr.Internal("load admission", err)
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, admission_number, patient_id, doctor_id, bed_id, ward_id,
			admission_date, status, reason, diagnosis, notes, expected_discharge_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING version, created_at, updated_at`,
		a.ID, a.AdmissionNumber, a.PatientID, a.DoctorID, a.BedID, a.WardID,
		a.AdmissionDate, a.Status, a.Reason, a.Diagnosis, a.Notes, a.ExpectedDischargeDate,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.IsUniqueViolation(err, "admission_active_bed_key"):
		return apperr.ResourceConflict("bed %s already has an active admission", a.BedID)
	case db.IsUniqueViolation(err, "admission_admission_number_key"):
		return apperr.Conflict("admission number %s already exists", a.AdmissionNumber)
	case err != nil:
		return apperr.Internal("insert admission", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admission WHERE id = $1`, id))
	if err != nil {
		return nil, admissionErr(err, id)
	}
	return a, nil
}

func (r *repoPG) Lock(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admission WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, admissionErr(err, id)
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET doctor_id=$3, bed_id=$4, ward_id=$5, status=$6, reason=$7,
			diagnosis=$8, notes=$9, expected_discharge_date=$10, discharge_date=$11,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		a.ID, a.Version, a.DoctorID, a.BedID, a.WardID, a.Status, a.Reason, a.Diagnosis,
		a.Notes, a.ExpectedDischargeDate, a.DischargeDate,
	).Scan(&a.Version, &a.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return apperr.Conflict("admission %s was modified concurrently", a.ID)
	case db.IsUniqueViolation(err, "admission_active_bed_key"):
		return apperr.ResourceConflict("bed %s already has an active admission", a.BedID)
	case err != nil:
		return apperr.Internal("update admission", err)
	}
	return nil
}

func admissionQuery(f Filter) *goqu.SelectDataset {
	ds := db.From("admission").Select(admColList...)
	if f.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(*f.PatientID))
	}
	if f.DoctorID != nil {
		ds = ds.Where(goqu.C("doctor_id").Eq(*f.DoctorID))
	}
	if f.WardID != nil {
		ds = ds.Where(goqu.C("ward_id").Eq(*f.WardID))
	}
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}
	if f.AdmittedFrom != nil {
		ds = ds.Where(goqu.C("admission_date").Gte(*f.AdmittedFrom))
	}
	if f.AdmittedTo != nil {
		ds = ds.Where(goqu.C("admission_date").Lt(*f.AdmittedTo))
	}
	return ds
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	ds := admissionQuery(f)

	countSQL, countArgs, err := db.CountOf(ds).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build admission count", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count admissions", err)
	}

	sql, args, err := ds.Order(goqu.C("admission_date").Desc(), goqu.C("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build admission list", err)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list admissions", err)
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan admission", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// -- Vitals --

func (r *repoPG) CreateVitals(ctx context.Context, v *Vitals) error {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission_vitals (id, admission_id, temperature, pulse_rate, respiratory_rate,
			bp_systolic, bp_diastolic, spo2, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING recorded_at`,
		v.ID, v.AdmissionID, v.Temperature, v.PulseRate, v.RespiratoryRate,
		v.BPSystolic, v.BPDiastolic, v.SpO2, v.Notes,
	).Scan(&v.RecordedAt)
	if err != nil {
		return apperr.Internal("insert vitals", err)
	}
	return nil
}

func (r *repoPG) ListVitals(ctx context.Context, admissionID uuid.UUID) ([]*Vitals, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, admission_id, temperature, pulse_rate, respiratory_rate, bp_systolic,
			bp_diastolic, spo2, notes, recorded_at
		FROM admission_vitals WHERE admission_id = $1 ORDER BY recorded_at`, admissionID)
	if err != nil {
		return nil, apperr.Internal("list vitals", err)
	}
	defer rows.Close()
	var out []*Vitals
	for rows.Next() {
		var v Vitals
		if err := rows.Scan(&v.ID, &v.AdmissionID, &v.Temperature, &v.PulseRate, &v.RespiratoryRate,
			&v.BPSystolic, &v.BPDiastolic, &v.SpO2, &v.Notes, &v.RecordedAt); err != nil {
			return nil, apperr.Internal("scan vitals", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// -- Transfers --

const transferCols = `id, admission_id, from_bed_id, to_bed_id, from_ward_id, to_ward_id,
	reason, transferred_by, transferred_at`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.AdmissionID, &t.FromBedID, &t.ToBedID, &t.FromWardID, &t.ToWardID,
		&t.Reason, &t.TransferredBy, &t.TransferredAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) CreateTransfer(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_transfer (id, admission_id, from_bed_id, to_bed_id, from_ward_id,
			to_ward_id, reason, transferred_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING transferred_at`,
		t.ID, t.AdmissionID, t.FromBedID, t.ToBedID, t.FromWardID, t.ToWardID, t.Reason, t.TransferredBy,
	).Scan(&t.TransferredAt)
	if err != nil {
		return apperr.Internal("insert transfer", err)
	}
	return nil
}

func (r *repoPG) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	t, err := scanTransfer(r.conn(ctx).QueryRow(ctx, `SELECT `+transferCols+` FROM bed_transfer WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("transfer %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("load transfer", err)
	}
	return t, nil
}

func (r *repoPG) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+transferCols+` FROM bed_transfer
		WHERE admission_id = $1 ORDER BY transferred_at, id`, admissionID)
	if err != nil {
		return nil, apperr.Internal("list transfers", err)
	}
	defer rows.Close()
	var out []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, apperr.Internal("scan transfer", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// -- Discharge --

func (r *repoPG) CreateDischarge(ctx context.Context, d *Discharge) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO discharge (id, admission_id, discharge_date, discharge_type, final_diagnosis,
			summary, medications, instructions, follow_up_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		d.ID, d.AdmissionID, d.DischargeDate, d.DischargeType, d.FinalDiagnosis,
		d.Summary, d.Medications, d.Instructions, d.FollowUpDate,
	).Scan(&d.CreatedAt)
	if db.IsUniqueViolation(err, "discharge_admission_key") {
		return apperr.InvalidState("admission %s is already discharged", d.AdmissionID)
	}
	if err != nil {
		return apperr.Internal("insert discharge", err)
	}
	return nil
}

func (r *repoPG) GetDischarge(ctx context.Context, admissionID uuid.UUID) (*Discharge, error) {
	var d Discharge
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, admission_id, discharge_date, discharge_type, final_diagnosis, summary,
			medications, instructions, follow_up_date, created_at
		FROM discharge WHERE admission_id = $1`, admissionID,
	).Scan(&d.ID, &d.AdmissionID, &d.DischargeDate, &d.DischargeType, &d.FinalDiagnosis,
		&d.Summary, &d.Medications, &d.Instructions, &d.FollowUpDate, &d.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("no discharge recorded for admission %s", admissionID)
	}
	if err != nil {
		return nil, apperr.Internal("load discharge", err)
	}
	return &d, nil
}
