package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/domain/directory"
	"github.com/ehr/ipd/internal/domain/ward"
	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/docnum"
)

// Service drives an admission from bed allocation to discharge. Bed state
// is only ever changed through the ward Pool, inside the same transaction
// as the admission row.
type Service struct {
	repo     Repository
	beds     *ward.Pool
	patients directory.PatientDirectory
	doctors  directory.DoctorDirectory
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, beds *ward.Pool, patients directory.PatientDirectory, doctors directory.DoctorDirectory, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		beds:     beds,
		patients: patients,
		doctors:  doctors,
		tx:       tx,
		logger:   logger,
		now:      time.Now,
	}
}

type VitalsInput struct {
	Temperature     *decimal.Decimal `json:"temperature,omitempty"`
	PulseRate       *int             `json:"pulse_rate,omitempty"`
	RespiratoryRate *int             `json:"respiratory_rate,omitempty"`
	BPSystolic      *int             `json:"bp_systolic,omitempty"`
	BPDiastolic     *int             `json:"bp_diastolic,omitempty"`
	SpO2            *int             `json:"spo2,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
}

func (v *VitalsInput) validate() error {
	if v.Temperature != nil && (v.Temperature.LessThan(decimal.NewFromInt(25)) || v.Temperature.GreaterThan(decimal.NewFromInt(45))) {
		return apperr.InvalidArgument("temperature %s outside 25-45", v.Temperature)
	}
	for name, val := range map[string]*int{
		"pulse_rate": v.PulseRate, "respiratory_rate": v.RespiratoryRate,
		"bp_systolic": v.BPSystolic, "bp_diastolic": v.BPDiastolic,
	} {
		if val != nil && *val <= 0 {
			return apperr.InvalidArgument("%s must be positive", name)
		}
	}
	if v.SpO2 != nil && (*v.SpO2 < 0 || *v.SpO2 > 100) {
		return apperr.InvalidArgument("spo2 must be between 0 and 100")
	}
	return nil
}

type AdmitRequest struct {
	PatientID             uuid.UUID    `json:"patient_id"`
	DoctorID              uuid.UUID    `json:"doctor_id"`
	BedID                 uuid.UUID    `json:"bed_id"`
	AdmissionDate         *time.Time   `json:"admission_date,omitempty"`
	Status                Status       `json:"status,omitempty"`
	Reason                *string      `json:"reason,omitempty"`
	Diagnosis             *string      `json:"diagnosis,omitempty"`
	Notes                 *string      `json:"notes,omitempty"`
	ExpectedDischargeDate *time.Time   `json:"expected_discharge_date,omitempty"`
	Vitals                *VitalsInput `json:"vitals,omitempty"`
}

// Admit validates the patient and doctor, then allocates the bed and writes
// the admission and its first vitals in one transaction. If allocation
// fails no admission row exists.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*Admission, error) {
	if req.BedID == uuid.Nil {
		return nil, apperr.InvalidArgument("bed_id is required")
	}
	if req.Status == "" {
		req.Status = StatusStable
	}
	if !req.Status.Valid() {
		return nil, apperr.InvalidArgument("invalid status: %s", req.Status)
	}
	if req.Status.Terminal() {
		return nil, apperr.InvalidOperation("an admission cannot start as %s", req.Status)
	}
	now := s.now()
	admitted := now
	if req.AdmissionDate != nil {
		admitted = *req.AdmissionDate
	}
	if admitted.After(now.Add(time.Minute)) {
		return nil, apperr.InvalidArgument("admission_date is in the future")
	}
	if req.ExpectedDischargeDate != nil && req.ExpectedDischargeDate.Before(truncateDay(admitted)) {
		return nil, apperr.InvalidArgument("expected_discharge_date precedes admission_date")
	}
	if req.Vitals != nil {
		if err := req.Vitals.validate(); err != nil {
			return nil, err
		}
	}
	if err := directory.RequireActive(ctx, s.patients, "patient", req.PatientID); err != nil {
		return nil, err
	}
	if err := directory.RequireActive(ctx, s.doctors, "doctor", req.DoctorID); err != nil {
		return nil, err
	}

	a := &Admission{
		ID:                    uuid.New(),
		AdmissionNumber:       docnum.New(docnum.PrefixAdmission, admitted),
		PatientID:             req.PatientID,
		DoctorID:              req.DoctorID,
		BedID:                 req.BedID,
		AdmissionDate:         admitted,
		Status:                req.Status,
		Reason:                req.Reason,
		Diagnosis:             req.Diagnosis,
		Notes:                 req.Notes,
		ExpectedDischargeDate: req.ExpectedDischargeDate,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, err := s.beds.Allocate(ctx, req.BedID, a.ID)
		if err != nil {
			return err
		}
		a.WardID = bed.WardID
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if req.Vitals != nil {
			v := &Vitals{
				AdmissionID:     a.ID,
				Temperature:     req.Vitals.Temperature,
				PulseRate:       req.Vitals.PulseRate,
				RespiratoryRate: req.Vitals.RespiratoryRate,
				BPSystolic:      req.Vitals.BPSystolic,
				BPDiastolic:     req.Vitals.BPDiastolic,
				SpO2:            req.Vitals.SpO2,
				Notes:           req.Vitals.Notes,
			}
			if err := s.repo.CreateVitals(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.beds.Invalidate(ctx)
	s.logger.Info().
		Str("admission_id", a.ID.String()).
		Str("admission_number", a.AdmissionNumber).
		Str("bed_id", a.BedID.String()).
		Msg("patient admitted")
	return a, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.InvalidArgument("invalid status: %s", *f.Status)
	}
	if f.AdmittedFrom != nil && f.AdmittedTo != nil && !f.AdmittedFrom.Before(*f.AdmittedTo) {
		return nil, 0, apperr.InvalidArgument("admitted_from must precede admitted_to")
	}
	return s.repo.List(ctx, f, limit, offset)
}

type UpdateRequest struct {
	DoctorID              *uuid.UUID `json:"doctor_id,omitempty"`
	Reason                *string    `json:"reason,omitempty"`
	Diagnosis             *string    `json:"diagnosis,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	ExpectedDischargeDate *time.Time `json:"expected_discharge_date,omitempty"`
}

// Update edits clinical fields. Bed, ward, status and dates have their own
// operations. Discharged admissions are read-only.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Admission, error) {
	if req.DoctorID != nil {
		if err := directory.RequireActive(ctx, s.doctors, "doctor", *req.DoctorID); err != nil {
			return nil, err
		}
	}
	var out *Admission
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.InvalidState("admission %s is discharged", a.AdmissionNumber)
		}
		if req.ExpectedDischargeDate != nil && req.ExpectedDischargeDate.Before(truncateDay(a.AdmissionDate)) {
			return apperr.InvalidArgument("expected_discharge_date precedes admission_date")
		}
		if req.DoctorID != nil {
			a.DoctorID = *req.DoctorID
		}
		if req.Reason != nil {
			a.Reason = req.Reason
		}
		if req.Diagnosis != nil {
			a.Diagnosis = req.Diagnosis
		}
		if req.Notes != nil {
			a.Notes = req.Notes
		}
		if req.ExpectedDischargeDate != nil {
			a.ExpectedDischargeDate = req.ExpectedDischargeDate
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus moves between non-terminal statuses. DISCHARGED is reached
// only through Discharge.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Admission, error) {
	if !status.Valid() {
		return nil, apperr.InvalidArgument("invalid status: %s", status)
	}
	if status.Terminal() {
		return nil, apperr.InvalidOperation("use discharge to set %s", status)
	}
	var out *Admission
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.InvalidState("admission %s is discharged", a.AdmissionNumber)
		}
		if a.Status == status {
			out = a
			return nil
		}
		a.Status = status
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type TransferRequest struct {
	ToBedID uuid.UUID `json:"to_bed_id"`
	Reason  *string   `json:"reason,omitempty"`
}

// TransferBed moves the patient to another bed and records the move.
func (s *Service) TransferBed(ctx context.Context, id uuid.UUID, req TransferRequest) (*Transfer, error) {
	if req.ToBedID == uuid.Nil {
		return nil, apperr.InvalidArgument("to_bed_id is required")
	}
	var out *Transfer
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.InvalidState("admission %s is discharged", a.AdmissionNumber)
		}
		move, err := s.beds.Transfer(ctx, a.ID, a.BedID, req.ToBedID)
		if err != nil {
			return err
		}
		a.BedID, a.WardID = move.ToBedID, move.ToWardID
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		t := &Transfer{
			AdmissionID: a.ID,
			FromBedID:   move.FromBedID,
			ToBedID:     move.ToBedID,
			FromWardID:  move.FromWardID,
			ToWardID:    move.ToWardID,
			Reason:      req.Reason,
		}
		if uid := auth.UserIDFromContext(ctx); uid != "" {
			t.TransferredBy = &uid
		}
		if err := s.repo.CreateTransfer(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.beds.Invalidate(ctx)
	s.logger.Info().
		Str("admission_id", id.String()).
		Str("from_bed_id", out.FromBedID.String()).
		Str("to_bed_id", out.ToBedID.String()).
		Msg("bed transferred")
	return out, nil
}

func (s *Service) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

func (s *Service) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error) {
	if _, err := s.repo.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListTransfers(ctx, admissionID)
}

func (s *Service) ListVitals(ctx context.Context, admissionID uuid.UUID) ([]*Vitals, error) {
	if _, err := s.repo.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListVitals(ctx, admissionID)
}

type DischargeRequest struct {
	DischargeDate  *time.Time    `json:"discharge_date,omitempty"`
	DischargeType  DischargeType `json:"discharge_type,omitempty"`
	FinalDiagnosis *string       `json:"final_diagnosis,omitempty"`
	Summary        *string       `json:"summary,omitempty"`
	Medications    *string       `json:"medications,omitempty"`
	Instructions   *string       `json:"instructions,omitempty"`
	FollowUpDate   *time.Time    `json:"follow_up_date,omitempty"`
}

// Discharge records the discharge, closes the admission and frees its bed.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, req DischargeRequest) (*Discharge, error) {
	if req.DischargeType == "" {
		req.DischargeType = DischargeNormal
	}
	if !req.DischargeType.Valid() {
		return nil, apperr.InvalidArgument("invalid discharge_type: %s", req.DischargeType)
	}
	var out *Discharge
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.InvalidState("admission %s is already discharged", a.AdmissionNumber)
		}
		if _, err := s.repo.GetDischarge(ctx, a.ID); err == nil {
			return apperr.InvalidState("admission %s already has a discharge", a.AdmissionNumber)
		} else if apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}

		when := s.now()
		if req.DischargeDate != nil {
			when = *req.DischargeDate
		}
		if when.Before(a.AdmissionDate) {
			return apperr.InvalidArgument("discharge_date precedes admission_date")
		}
		if req.FollowUpDate != nil && req.FollowUpDate.Before(truncateDay(when)) {
			return apperr.InvalidArgument("follow_up_date precedes discharge_date")
		}

		d := &Discharge{
			AdmissionID:    a.ID,
			DischargeDate:  when,
			DischargeType:  req.DischargeType,
			FinalDiagnosis: req.FinalDiagnosis,
			Summary:        req.Summary,
			Medications:    req.Medications,
			Instructions:   req.Instructions,
			FollowUpDate:   req.FollowUpDate,
		}
		if err := s.repo.CreateDischarge(ctx, d); err != nil {
			return err
		}
		a.Status = StatusDischarged
		a.DischargeDate = &when
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if _, err := s.beds.Release(ctx, a.BedID); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.beds.Invalidate(ctx)
	s.logger.Info().
		Str("admission_id", id.String()).
		Str("discharge_type", string(out.DischargeType)).
		Msg("patient discharged")
	return out, nil
}

func (s *Service) GetDischarge(ctx context.Context, admissionID uuid.UUID) (*Discharge, error) {
	if _, err := s.repo.Get(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.GetDischarge(ctx, admissionID)
}
